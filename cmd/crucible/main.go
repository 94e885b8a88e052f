// Package main implements the crucible CLI: a bounded multi-role
// refinement engine that drives a task through plan, generate,
// validate, reflect, review, and governance stages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the --config flag shared by all commands.
	configPath string

	// version information (set via ldflags during build)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Bounded multi-role refinement engine",
	Long: `crucible drives a task through a fixed pipeline of specialized roles
(plan, generate, validate, reflect-and-repair, review, govern) against
pluggable model providers, and terminates even when no provider is
configured.

Provider credentials come from the environment (ANTHROPIC_API_KEY,
OPENAI_API_KEY, OLLAMA_HOST). With none set, every stage falls back to
its deterministic offline behavior.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/crucible/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "crucible by Fyrsmith Labs\n")
		fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "Commit:     %s\n", gitCommit)
		fmt.Fprintf(cmd.OutOrStdout(), "Build Date: %s\n", buildDate)
	},
}
