package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "runlab",
	Short: "Chat-driven compile-and-run service for interactive programs",
	Long: `runlab compiles code submitted over chat, runs it in a supervised
sandbox directory, and drives it turn by turn: when the program appears to
be waiting for input, the user is asked for the next line. When the program
exits, a report with the source, transcript, and outcome is delivered.

Running 'runlab' without a subcommand is equivalent to 'runlab serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run the 'serve' command
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to runlab.json config file (default: search up directory tree)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
