// Package cmd holds the videostream CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the top-level videostream command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "videostream",
		Short:         "Zero-copy frame sharing over shared memory",
		Long:          "videostream publishes video frames through shared memory with unix-socket signalling, so consumers on the same machine read frames without copies.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newPublishCmd())
	root.AddCommand(newSubscribeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
