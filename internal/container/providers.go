// Package container wires the application together: archive backend,
// external adapters, run service, workers and their lifecycle.
package container

import (
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/application/dispatcher"
	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/application/service"
	"github.com/geoffsee/agent-mst/internal/config"
	"github.com/geoffsee/agent-mst/internal/domain/event"
	"github.com/geoffsee/agent-mst/internal/infrastructure/document"
	"github.com/geoffsee/agent-mst/internal/infrastructure/external/lark"
	"github.com/geoffsee/agent-mst/internal/infrastructure/external/openai"
	"github.com/geoffsee/agent-mst/internal/infrastructure/metrics"
	"github.com/geoffsee/agent-mst/internal/infrastructure/persistence/memory"
	"github.com/geoffsee/agent-mst/internal/infrastructure/persistence/redis"
	"github.com/geoffsee/agent-mst/internal/infrastructure/persistence/sqlite"
	"github.com/geoffsee/agent-mst/internal/infrastructure/storage"
	"github.com/geoffsee/agent-mst/internal/reporting"
	"github.com/geoffsee/agent-mst/internal/scenario"
	"github.com/geoffsee/agent-mst/internal/worker"
	"github.com/geoffsee/agent-mst/migrations"
	"github.com/geoffsee/agent-mst/pkg/database"
)

// metricsNamespace prefixes every series the service exposes
const metricsNamespace = "agentmst"

// ArchiveBundle holds the selected archive backend and its teardown
type ArchiveBundle struct {
	Archive port.RunArchive
	DB      *database.DB
	TxMgr   *sqlite.DB
	Close   func() error
}

// ProvideArchive opens the archive backend named by the configuration.
// The sqlite backend also applies pending schema migrations.
func ProvideArchive(cfg *config.Config, logger *zap.Logger) (*ArchiveBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Archive.Backend {
	case config.BackendSQLite:
		db, err := database.New(database.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}

		var schema fs.FS = migrations.FS
		if dir := cfg.Database.MigrationsDir; dir != "" {
			schema = os.DirFS(dir)
		}
		if err := database.NewMigrator(db, logger).Run(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		txMgr := sqlite.NewDB(db.DB, logger)
		return &ArchiveBundle{
			Archive: sqlite.NewRunArchive(txMgr, logger),
			DB:      db,
			TxMgr:   txMgr,
			Close:   db.Close,
		}, nil

	case config.BackendRedis:
		opts := []redis.Option{}
		if cfg.Redis.KeyPrefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Redis.KeyPrefix+":"))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.Redis.TTL))
		}
		archive := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		return &ArchiveBundle{
			Archive: archive,
			Close:   archive.Close,
		}, nil

	case config.BackendMemory:
		return &ArchiveBundle{Archive: memory.NewRunArchive()}, nil

	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

// ProvideOracle builds the OpenAI-backed decision oracle. Prompt overrides
// come from the prompts file when configured; temperature and max_tokens
// from the main config win over both the file and the built-ins.
func ProvideOracle(cfg *config.OracleConfig, logger *zap.Logger) (port.DecisionOracle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("oracle config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	prompts := openai.DefaultPrompts()
	if cfg.PromptsPath != "" {
		loaded, err := openai.LoadPrompts(cfg.PromptsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		prompts = loaded
	}
	if cfg.Temperature > 0 {
		prompts.Decision.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		prompts.Decision.MaxTokens = cfg.MaxTokens
	}

	return openai.NewOracle(openai.Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryBackoff,
	}, prompts, logger), nil
}

// ProvideRegistry creates the scenario registry with the builtin scenarios.
// The oracle may be nil; the document-review assessment instruction then
// stays dormant.
func ProvideRegistry(docs port.DocumentReader, oracle port.DecisionOracle) (*scenario.Registry, error) {
	registry := scenario.NewRegistry()

	builtins := []*scenario.Scenario{
		scenario.Triage(),
		scenario.Pipeline(),
		scenario.DocumentReview(docs, oracle),
	}
	for _, sc := range builtins {
		if err := registry.Register(sc); err != nil {
			return nil, fmt.Errorf("failed to register scenario %s: %w", sc.Name, err)
		}
	}

	return registry, nil
}

// initArchive opens the configured archive backend
func (c *Container) initArchive() error {
	bundle, err := ProvideArchive(c.config, c.logger)
	if err != nil {
		return err
	}

	c.archive = bundle.Archive
	c.db = bundle.DB
	c.txMgr = bundle.TxMgr
	c.closeFn = bundle.Close
	return nil
}

// initExternal builds the oracle, notifier and document reader adapters.
// The oracle and notifier are optional; table scenarios run without either.
func (c *Container) initExternal() error {
	if c.config.OracleEnabled() {
		oracle, err := ProvideOracle(&c.config.Oracle, c.logger)
		if err != nil {
			return err
		}
		c.oracle = oracle
	}

	if c.config.Notify.Lark.Enabled {
		c.notifier = lark.NewNotifier(lark.Config{
			AppID:     c.config.Notify.Lark.AppID,
			AppSecret: c.config.Notify.Lark.AppSecret,
			ChatID:    c.config.Notify.Lark.ChatID,
			Email:     c.config.Notify.Lark.Email,
		}, c.logger)
	}

	c.docs = document.NewReader(c.logger)
	return nil
}

// initReporting builds the metrics collectors, the report store and the
// workbook exporter
func (c *Container) initReporting() {
	c.metrics = metrics.New(metrics.Config{
		Enabled:   true,
		Namespace: metricsNamespace,
	})
	c.reportStore = storage.NewReportStore(c.config.Reports.Dir, c.logger)
	c.exporter = reporting.NewExporter(c.logger)
}

// initService builds the dispatcher, the scenario registry and the run
// service, then subscribes the run.finished consumers
func (c *Container) initService() error {
	c.dispatcher = dispatcher.New(dispatcher.WithLogger(c.sugar()))

	registry, err := ProvideRegistry(c.docs, c.oracle)
	if err != nil {
		return err
	}
	c.registry = registry

	opts := []service.Option{
		service.WithLogger(c.sugar()),
		service.WithDispatcher(c.dispatcher),
		service.WithMetrics(c.metrics),
		service.WithMaxIterations(c.config.Engine.MaxIterations),
	}
	if c.config.Engine.FaultOnStagnation {
		opts = append(opts, service.WithStagnationFault())
	}
	c.runService = service.NewRunService(c.registry, c.archive, c.oracle, opts...)

	c.dispatcher.Subscribe(event.TypeRunFinished, "report-exporter",
		reporting.ExportOnFinish(c.archive, c.exporter, c.reportStore, c.dispatcher))
	if c.notifier != nil {
		c.dispatcher.Subscribe(event.TypeRunFinished, "lark-notifier",
			service.NotifyOnFinish(c.archive, c.notifier))
	}

	return nil
}

// initWorkers builds the run queue and the janitor, attaches them to their
// collaborators and starts them
func (c *Container) initWorkers() error {
	c.runWorker = worker.NewRunWorker(
		c.runService,
		c.config.Worker.QueueSize,
		c.config.Worker.Concurrency,
		c.logger,
	)
	c.runWorker.SetQueueGauge(c.metrics)
	c.runService.SetQueue(c.runWorker)

	c.janitor = worker.NewJanitor(
		c.archive,
		c.config.Archive.Retention,
		c.config.Archive.PruneInterval,
		c.logger,
	)
	c.janitor.SetDispatcher(c.dispatcher)

	c.workers = worker.NewManager(c.logger)
	c.workers.Register(c.runWorker)
	c.workers.Register(c.janitor)

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}
