package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "photoctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photoctl",
		Short: "Operate the photo review pipeline",
		Long: `photoctl uploads photos, injects storage notifications, publishes review
messages onto the review topic, inspects records, and runs the binaries
during development.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMetadataCmd(),
		newStatusCmd(),
		newIngestCmd(),
		newUploadCmd(),
		newGetCmd(),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}
