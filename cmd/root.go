package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rudder",
	Short: "Rudder - a learning decision engine for agentic runtimes",
	Long: `Rudder ranks tools and composed capabilities against natural-language
intents, decides whether to execute, suggest, or hold for approval, and
keeps learning from execution outcomes.`,
}

func Execute() error {
	return rootCmd.Execute()
}
