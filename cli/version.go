package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resily/resily/pkg/version"
)

// VersionCmd creates the version command
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "resily version %s\n", info.Version)
			fmt.Fprintf(out, "commit: %s\n", info.CommitHash)
			fmt.Fprintf(out, "built: %s\n", info.BuildDate)
		},
	}
}
