package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/application/dispatcher"
	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/application/service"
	"github.com/geoffsee/agent-mst/internal/config"
	"github.com/geoffsee/agent-mst/internal/infrastructure/metrics"
	"github.com/geoffsee/agent-mst/internal/infrastructure/persistence/sqlite"
	"github.com/geoffsee/agent-mst/internal/reporting"
	"github.com/geoffsee/agent-mst/internal/scenario"
	"github.com/geoffsee/agent-mst/internal/worker"
	"github.com/geoffsee/agent-mst/pkg/database"
	"github.com/geoffsee/agent-mst/pkg/logger"
)

// Container manages all application dependencies and lifecycle. Components
// initialize in dependency order and tear down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - data
	db      *database.DB
	txMgr   *sqlite.DB
	archive port.RunArchive
	closeFn func() error

	// Infrastructure - external
	oracle   port.DecisionOracle
	notifier port.RunNotifier
	docs     port.DocumentReader

	// Infrastructure - reporting
	metrics     *metrics.Metrics
	reportStore port.ReportStore
	exporter    *reporting.Exporter

	// Application
	dispatcher dispatcher.Dispatcher
	registry   *scenario.Registry
	runService service.RunService

	// Workers
	runWorker *worker.RunWorker
	janitor   *worker.Janitor
	workers   *worker.Manager

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// New creates a container from configuration. Components are not
// initialized until Start is called.
func New(cfg *config.Config, log *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: log,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Run archive (sqlite, redis or memory)
// 2. External adapters (oracle, notifier, document reader)
// 3. Metrics, report store and exporter
// 4. Dispatcher, scenario registry and run service
// 5. Workers (run queue, janitor)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initArchive(); err != nil {
		return fmt.Errorf("failed to initialize archive: %w", err)
	}
	c.logger.Info("Run archive initialized", zap.String("backend", c.config.Archive.Backend))

	if err := c.initExternal(); err != nil {
		c.closeArchive()
		return fmt.Errorf("failed to initialize external adapters: %w", err)
	}
	c.logger.Info("External adapters initialized",
		zap.Bool("oracle", c.oracle != nil),
		zap.Bool("notifier", c.notifier != nil))

	c.initReporting()
	c.logger.Info("Reporting initialized", zap.String("dir", c.config.Reports.Dir))

	if err := c.initService(); err != nil {
		c.closeArchive()
		return fmt.Errorf("failed to initialize run service: %w", err)
	}
	c.logger.Info("Run service initialized", zap.Int("scenarios", len(c.registry.List())))

	if err := c.initWorkers(); err != nil {
		c.closeArchive()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.Count()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close shuts down all components in reverse order
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		c.workers.StopAll()
		c.logger.Info("Workers stopped")
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if err := c.closeArchive(); err != nil {
		c.logger.Error("Failed to close archive", zap.Error(err))
		errs = append(errs, fmt.Errorf("close archive: %w", err))
	} else {
		c.logger.Info("Archive closed")
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.archive == nil {
		status.Components["archive"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	} else if c.db != nil {
		if err := c.db.Ping(); err != nil {
			status.Components["archive"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["archive"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["archive"] = ComponentHealth{Healthy: true}
	}

	if c.runWorker != nil {
		ws := c.runWorker.GetStatus()
		status.Components["run_queue"] = ComponentHealth{
			Healthy: ws.IsRunning,
			Message: fmt.Sprintf("queued: %d processed: %d failed: %d", ws.QueueDepth, ws.ProcessedCount, ws.FailedCount),
		}
		if !ws.IsRunning {
			status.Overall = false
		}
	} else {
		status.Components["run_queue"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.dispatcher != nil {
		status.Components["dispatcher"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["dispatcher"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	return status
}

// closeArchive closes whichever archive backend was opened
func (c *Container) closeArchive() error {
	if c.closeFn == nil {
		return nil
	}
	err := c.closeFn()
	c.closeFn = nil
	return err
}

// Getters for composition in cmd packages

// RunService returns the run service
func (c *Container) RunService() service.RunService {
	return c.runService
}

// Registry returns the scenario registry
func (c *Container) Registry() *scenario.Registry {
	return c.registry
}

// Archive returns the run archive
func (c *Container) Archive() port.RunArchive {
	return c.archive
}

// Exporter returns the report exporter
func (c *Container) Exporter() *reporting.Exporter {
	return c.exporter
}

// Metrics returns the metrics collector set
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Dispatcher returns the event dispatcher
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Oracle returns the decision oracle, nil when not configured
func (c *Container) Oracle() port.DecisionOracle {
	return c.oracle
}

// Logger returns the container's logger
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// sugar wraps the zap logger for packages that accept the keysAndValues
// Logger interface
func (c *Container) sugar() *logger.Sugared {
	return logger.Sugar(c.logger)
}
