package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/videostream/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Printf("videostream %s\n", info.Version)
			fmt.Printf("  commit: %s\n", info.GitCommit)
			fmt.Printf("  built:  %s\n", info.BuildDate)
			fmt.Printf("  go:     %s\n", info.GoVersion)
		},
	}
}
