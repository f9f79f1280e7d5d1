// Package cmd implements the taskforge-server CLI: a single "serve"
// command wired over cobra/viper, following the teacher's
// root-command-plus-persistent-flags layout.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "taskforge-server",
	Short: "Local orchestration server for autonomous coding agents",
	Long: `taskforge-server drives Claude Code, Codex, Copilot, Gemini CLIs, or a
hosted chat API against a task's git worktree, carrying each task through
spec generation, planning, coding, and review.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format: auto, text, json")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("taskforge-server: %w", err)
	}
	return nil
}
