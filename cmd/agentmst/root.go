package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentmst",
	Short: "agentmst drives instruction-driven state machines to a goal",
	Long: `agentmst executes scenarios: finite-state machines whose transitions are
proposed by a decision oracle or a static successor table. Instructions run
every iteration, illegal proposals resolve through a deterministic fallback,
and every run is archived with its full step trace.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file (empty uses defaults and environment)")
}
