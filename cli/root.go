package cli

import (
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "resily.yaml"
	defaultEnvFile    = ".env"
)

// RootCmd builds the resily command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "resily",
		Short: "Resilient task execution engine",
		Long: "Resily executes scripted task scenarios through retrying, circuit breaking, " +
			"batch, and sequential executors, and reports per-task results as JSON.",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", defaultConfigFile, "Path to the config file")
	root.PersistentFlags().String("env-file", defaultEnvFile, "Path to the environment variables file")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	root.PersistentFlags().Bool("log-source", false, "Include source file and line in logs")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.AddCommand(
		RunCmd(),
		SchemaCmd(),
		VersionCmd(),
	)

	return root
}
