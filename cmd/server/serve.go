package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio-chat/internal/api/handlers"
	"portfolio-chat/internal/app"
	"portfolio-chat/internal/auth"
	"portfolio-chat/internal/background"
	"portfolio-chat/internal/config"
	"portfolio-chat/internal/knowledge"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/metrics"
	"portfolio-chat/internal/ratelimit"
	"portfolio-chat/internal/service/llm"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type ServeOptions struct {
	Port string
}

func (o *ServeOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.Port, "port", "p", "", "listen port (overrides SERVER_PORT)")
}

func newServeCommand() *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
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

	m := metrics.New("portfolio-chat", "relay")

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

	provider := llm.NewOpenAIProvider(&appConfig.Upstream)

	queue := background.NewQueue(appConfig.Background.Workers, appConfig.Background.QueueSize, appConfig.Background.TaskTimeout)
	queue.OnDrop = m.DroppedTaskInc
	queue.Start()

	cfg := app.NewConfig(database, appConfig, limiter, knowledgeProvider, provider, m, queue)
	router := handlers.NewRouter(cfg, auth.NewAuthenticator(appConfig.Admin))

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(appConfig.RateLimit.SweepSpec, func() {
		m.SweptRecordsAdd(limiter.Sweep())
	}); err != nil {
		logger.Log.WithError(err).WithField("spec", appConfig.RateLimit.SweepSpec).Error("Invalid sweep schedule")
		return err
	}
	sweeper.Start()

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithFields(logrus.Fields{
			"port":          appConfig.Server.Port,
			"store":         database != nil,
			"admin":         cfg.AdminEnabled(),
			"shared_limits": appConfig.RateLimit.RedisURL != "",
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Warn("HTTP server shutdown incomplete")
		}
		<-sweeper.Stop().Done()
		if err := queue.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).WithField("pending", queue.Len()).Warn("Background queue shutdown incomplete")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Error("Server failed")
		return err
	}
	logger.Log.Info("Server stopped")
	return nil
}
