package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"portfolio-chat/internal/api/edge"
	"portfolio-chat/internal/app"
	"portfolio-chat/internal/config"
	"portfolio-chat/internal/knowledge"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/ratelimit"
	"portfolio-chat/internal/service/conversation"
	"portfolio-chat/internal/service/llm"
	"portfolio-chat/internal/service/relay"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type Options struct {
	Port string
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.Port, "port", "p", "", "listen port (overrides SERVER_PORT)")
}

func main() {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "portfolio-chat-edge",
		Short: "Serve the chat relay as a single edge function",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	opts.AddFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// pendingTasks stands in for the function runtime's wait-until hook: it keeps
// track of persistence still running after a response has been sent.
type pendingTasks struct {
	wg sync.WaitGroup
}

func (p *pendingTasks) waitUntil(wait func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		wait()
	}()
}

// drain blocks until every handed-off wait returns or ctx is done
func (p *pendingTasks) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func run(ctx context.Context, opts *Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	appConfig, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Error("Failed to load configuration")
		return err
	}
	if opts.Port != "" {
		appConfig.Server.Port = opts.Port
	}

	store, closeStore, err := app.NewRateLimitStore(ctx, appConfig.RateLimit)
	if err != nil {
		return err
	}
	defer closeStore()
	limiter := ratelimit.NewLimiter(store, appConfig.RateLimit.Window, appConfig.RateLimit.MaxRequests)

	database := app.OpenStore(appConfig.Store)
	if database != nil {
		defer database.Close()
	}

	knowledgeProvider, err := knowledge.NewProvider(appConfig.ProfilePath)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to load knowledge profile")
		return err
	}

	service := relay.NewRelayService(
		limiter,
		knowledgeProvider,
		llm.NewOpenAIProvider(&appConfig.Upstream),
		conversation.NewConversationService(database, nil),
		nil,
	)

	pending := &pendingTasks{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", edge.Handler(service, edge.Options{
		AllowedOrigin:  appConfig.Server.AllowedOrigin,
		ClientIPHeader: appConfig.Server.ClientIPHeader,
		TaskTimeout:    appConfig.Background.TaskTimeout,
		WaitUntil:      pending.waitUntil,
	}))

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithFields(logrus.Fields{
			"port":  appConfig.Server.Port,
			"store": database != nil,
		}).Info("Edge function starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Warn("HTTP server shutdown incomplete")
		}
		if err := pending.drain(shutdownCtx); err != nil {
			logger.Log.WithError(err).Warn("Conversation logging still pending at shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Error("Edge function failed")
		return err
	}
	logger.Log.Info("Edge function stopped")
	return nil
}
