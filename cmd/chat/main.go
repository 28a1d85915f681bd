package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"portfolio-chat/internal/client"
	"portfolio-chat/internal/knowledge"
	"portfolio-chat/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Options struct {
	Endpoint    string
	SessionFile string
	ProfilePath string
	MaxMessages int
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.Endpoint, "endpoint", "e", "http://localhost:8080/api/chat", "chat endpoint URL")
	flagSet.StringVarP(&o.SessionFile, "session", "s", client.DefaultPath(), "session state file")
	flagSet.StringVar(&o.ProfilePath, "profile", "", "knowledge profile (defaults to the embedded one)")
	flagSet.IntVar(&o.MaxMessages, "max-messages", client.DefaultMaxMessages, "questions allowed per session")
}

func main() {
	opts := &Options{}
	root := &cobra.Command{
		Use:   "chat",
		Short: "Terminal client for the portfolio chat relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	opts.AddFlags(root.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *Options, in io.Reader, out io.Writer) error {
	// Keep operational logs off the conversation
	logger.Log.SetOutput(os.Stderr)
	logger.Log.SetLevel(logrus.WarnLevel)

	profile, err := knowledge.NewProvider(opts.ProfilePath)
	if err != nil {
		return err
	}

	manager := client.NewManager(client.Config{
		Endpoint:    opts.Endpoint,
		MaxMessages: opts.MaxMessages,
	}, client.NewFileStorage(opts.SessionFile), profile.Profile())

	printTranscript(out, manager.Load())

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "\n[%d left] > ", manager.Remaining())
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		switch line := strings.TrimSpace(scanner.Text()); line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			printTranscript(out, manager.Reset())
		default:
			fmt.Fprint(out, "assistant: ")
			var streamed strings.Builder
			msg := manager.Send(ctx, line, func(delta string) {
				streamed.WriteString(delta)
				fmt.Fprint(out, delta)
			})
			// Limit and fallback messages are not streamed
			if msg != nil && msg.Content != streamed.String() {
				if streamed.Len() > 0 {
					fmt.Fprint(out, "\nassistant: ")
				}
				fmt.Fprint(out, msg.Content)
			}
			fmt.Fprintln(out)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printTranscript(out io.Writer, session *client.Session) {
	for _, msg := range session.Messages {
		fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
	}
}
