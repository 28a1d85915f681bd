package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	serveCmd := newServeCommand()

	root := &cobra.Command{
		Use:   "portfolio-chat",
		Short: "Portfolio chat relay",
		// serve is the default command
		RunE: serveCmd.RunE,
	}
	root.Flags().AddFlagSet(serveCmd.Flags())

	root.AddCommand(serveCmd, newMigrateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
