package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/event"
)

const (
	// DefaultRetention is how long finished runs stay in the archive
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultPruneInterval is how often the janitor sweeps
	DefaultPruneInterval = time.Hour
)

// Dispatcher is the slice of the event dispatcher the janitor needs
type Dispatcher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// Janitor periodically removes finished runs older than the retention
// window from the archive
type Janitor struct {
	archive    port.RunArchive
	retention  time.Duration
	interval   time.Duration
	logger     *zap.Logger
	dispatcher Dispatcher

	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	isRunning   bool
	prunedTotal int

	wg sync.WaitGroup
}

// NewJanitor creates an archive janitor. Non-positive durations fall back
// to the defaults.
func NewJanitor(archive port.RunArchive, retention, interval time.Duration, logger *zap.Logger) *Janitor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	return &Janitor{
		archive:   archive,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// SetDispatcher attaches the dispatcher prune events are published to.
// Optional; no events are published without it.
func (j *Janitor) SetDispatcher(d Dispatcher) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dispatcher = d
}

// Name returns the worker name
func (j *Janitor) Name() string {
	return "archive-janitor"
}

// Start begins the sweep loop
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.isRunning {
		j.mu.Unlock()
		return fmt.Errorf("janitor already running")
	}

	j.ctx, j.cancel = context.WithCancel(ctx)
	j.isRunning = true
	j.mu.Unlock()

	j.logger.Info("Janitor started",
		zap.Duration("retention", j.retention),
		zap.Duration("interval", j.interval))

	j.wg.Add(1)
	go j.sweepLoop()

	return nil
}

// Stop terminates the sweep loop and waits for it to exit
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.isRunning {
		j.mu.Unlock()
		return
	}

	j.isRunning = false
	j.mu.Unlock()

	if j.cancel != nil {
		j.cancel()
	}

	j.wg.Wait()

	j.mu.RLock()
	total := j.prunedTotal
	j.mu.RUnlock()

	j.logger.Info("Janitor stopped", zap.Int("pruned_total", total))
}

// PruneNow sweeps immediately and returns how many runs were removed
func (j *Janitor) PruneNow(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.retention)

	removed, err := j.archive.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}

	if removed > 0 {
		j.mu.Lock()
		j.prunedTotal += removed
		j.mu.Unlock()

		j.logger.Info("Archive pruned",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff))

		j.mu.RLock()
		d := j.dispatcher
		j.mu.RUnlock()
		if d != nil {
			d.DispatchAsync(ctx, event.NewEvent(event.TypeArchivePruned, "", map[string]interface{}{
				"removed": removed,
				"cutoff":  cutoff.Format(time.RFC3339),
			}))
		}
	}

	return removed, nil
}

func (j *Janitor) sweepLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			j.logger.Debug("Sweep loop context cancelled")
			return

		case <-ticker.C:
			if _, err := j.PruneNow(j.ctx); err != nil {
				j.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}
