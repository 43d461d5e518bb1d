package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/container"
	"github.com/geoffsee/agent-mst/internal/infrastructure/document"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the registered scenarios",
	Long:  `Prints every builtin scenario with its policy, state catalog and goal description.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Listing needs no live adapters; the dormant oracle only matters
		// at run time
		registry, err := container.ProvideRegistry(document.NewReader(zap.NewNop()), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build registry: %v\n", err)
			os.Exit(1)
		}

		for _, s := range registry.List() {
			states := make([]string, len(s.PossibleStates))
			for i, st := range s.PossibleStates {
				states[i] = string(st)
			}

			fmt.Printf("%s (%s)\n", s.Name, s.Policy)
			fmt.Printf("  %s\n", s.Description)
			fmt.Printf("  states: %s\n", strings.Join(states, ", "))
			fmt.Printf("  initial: %s\n", s.InitialState)
		}
	},
}

func init() {
	rootCmd.AddCommand(scenariosCmd)
}
