package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/config"
	"github.com/geoffsee/agent-mst/internal/container"
	"github.com/geoffsee/agent-mst/internal/domain/run"
	"github.com/geoffsee/agent-mst/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario>",
	Short: "Execute one run in-process and print its report",
	Long: `Executes a single scenario run on the calling process, without the HTTP
service. The run record and its step trace are printed to stdout when the
run finishes; a faulted run exits non-zero.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scenarioName := args[0]
		configPath, _ := cmd.Flags().GetString("config")
		pairs, _ := cmd.Flags().GetStringArray("set")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		jsonOut, _ := cmd.Flags().GetBool("json")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		// One-shot runs keep everything in memory unless a config file
		// asked for a durable archive
		if configPath == "" {
			cfg.Archive.Backend = config.BackendMemory
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		log, err := logger.New(logger.Config{Level: level, OutputPath: "stderr", Format: "console"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()

		overrides, err := parseOverrides(pairs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// An interrupt cancels the run; the engine seals it as CANCELLED
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			cancel()
		}()

		c, err := container.New(cfg, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build container: %v\n", err)
			os.Exit(1)
		}
		if err := c.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start container: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()

		rec, runErr := c.RunService().Execute(ctx, scenarioName, overrides)
		if rec == nil {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", runErr)
			os.Exit(1)
		}

		steps, err := c.RunService().Trace(ctx, rec.ID)
		if err != nil {
			log.Error("Failed to load step trace", zap.Error(err))
		}

		if jsonOut {
			printJSON(rec, steps)
		} else {
			printReport(rec, steps)
		}

		if runErr != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArray("set", nil, "Context override as key=value (repeatable)")
	runCmd.Flags().Duration("timeout", 5*time.Minute, "Abort the run after this long")
	runCmd.Flags().Bool("json", false, "Print the record and trace as JSON")
	runCmd.Flags().BoolP("verbose", "v", false, "Log engine activity to stderr")
}

// parseOverrides turns repeated key=value flags into a context override map
func parseOverrides(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	overrides := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", pair)
		}
		overrides[key] = value
	}
	return overrides, nil
}

// printReport writes a human-readable run report to stdout
func printReport(rec *run.Run, steps []*run.Step) {
	fmt.Println("=== Run Report ===")
	fmt.Printf("Run ID:      %s\n", rec.ID)
	fmt.Printf("Scenario:    %s\n", rec.Scenario)
	fmt.Printf("Policy:      %s\n", rec.Policy)
	fmt.Printf("Status:      %s\n", rec.Status)
	if rec.Status == run.StatusFaulted {
		fmt.Printf("Fault:       %s (%s)\n", rec.FaultReason, rec.FaultDetail)
	}
	fmt.Printf("States:      %s -> %s\n", rec.InitialState, rec.FinalState)
	fmt.Printf("Visited:     %s\n", strings.Join(rec.Visited, " -> "))
	fmt.Printf("Iterations:  %d\n", rec.Iterations)
	fmt.Printf("Transitions: %d\n", rec.Transitions)
	fmt.Printf("Fallbacks:   %d\n", rec.Fallbacks)
	if rec.FinishedAt != nil {
		fmt.Printf("Duration:    %v\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}

	if len(rec.Failures) > 0 {
		fmt.Println("\nInstruction failures:")
		for _, f := range rec.Failures {
			fmt.Printf("  iter %d [%s] %s: %s\n", f.Iteration, f.State, f.Description, f.Error)
		}
	}

	if len(steps) > 0 {
		fmt.Println("\nSteps:")
		for _, s := range steps {
			marker := ""
			if s.Fallback {
				marker = " (fallback)"
			}
			if s.Stagnant {
				marker = " (fallback, stagnant)"
			}
			fmt.Printf("  %3d  %s -> %s  via %s%s\n", s.Iteration, s.FromState, s.ToState, s.Source, marker)
		}
	}
}

// printJSON writes the record and trace as one indented JSON document
func printJSON(rec *run.Run, steps []*run.Step) {
	out, err := json.MarshalIndent(map[string]interface{}{
		"run":   rec,
		"steps": steps,
	}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
