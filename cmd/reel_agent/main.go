// Package main provides the entry point for the reel_agent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "reel_agent",
		Short: "Short-form video pipeline runner",
		Long: `reel_agent turns content briefs into short videos through a staged pipeline:
source -> idea -> script -> vision -> voice -> subtitles -> images -> video -> export.

Every stage is checkpointed, so a failed run resumes where it stopped with --resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(newRunCmd(g), newStatusCmd(g), newCleanCmd(g), newPipelinesCmd())
	return root
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
