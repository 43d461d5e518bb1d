package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/config"
	"github.com/geoffsee/agent-mst/internal/container"
	httpapi "github.com/geoffsee/agent-mst/internal/interfaces/http"
	"github.com/geoffsee/agent-mst/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run service",
	Long: `Starts the full service: the HTTP API, the background run queue, the
archive janitor, report export and run-completion notifications.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}

		log, err := logger.New(logger.Config{
			Level:      cfg.Logging.Level,
			OutputPath: cfg.Logging.OutputPath,
			Format:     cfg.Logging.Format,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()

		log.Info("Starting agentmst service",
			zap.Int("port", cfg.Server.Port),
			zap.String("archive", cfg.Archive.Backend),
			zap.Bool("oracle", cfg.OracleEnabled()))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c, err := container.New(cfg, log)
		if err != nil {
			log.Fatal("Failed to build container", zap.Error(err))
		}
		if err := c.Start(ctx); err != nil {
			log.Fatal("Failed to start container", zap.Error(err))
		}

		srv := httpapi.NewServer(httpapi.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			Mode:         cfg.Server.Mode,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, c.RunService(), c.Exporter(), c.Metrics().Handler(), logger.Sugar(log))

		// Channel to listen for errors coming from the listener
		serverErrors := make(chan error, 1)
		go func() {
			serverErrors <- srv.Start(ctx)
		}()

		// Wait for interrupt signal to gracefully shutdown the server
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if err != nil {
				log.Error("HTTP server failed", zap.Error(err))
			}
		case sig := <-quit:
			log.Info("Shutdown signal received", zap.String("signal", sig.String()))
			cancel()
			// The server drains in-flight requests before Start returns
			if err := <-serverErrors; err != nil {
				log.Error("HTTP server shutdown error", zap.Error(err))
			}
		}

		if err := c.Close(); err != nil {
			log.Error("Container shutdown error", zap.Error(err))
		}

		log.Info("Service exited successfully")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
