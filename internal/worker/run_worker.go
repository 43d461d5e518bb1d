package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultQueueSize bounds the number of accepted runs waiting for a
	// consumer
	DefaultQueueSize = 64

	// DefaultConcurrency is the number of consumers draining the queue
	DefaultConcurrency = 2
)

// ErrQueueFull is returned by Enqueue when the queue buffer is exhausted
var ErrQueueFull = errors.New("run queue is full")

// ErrNotAccepting is returned by Enqueue after the worker has stopped
var ErrNotAccepting = errors.New("run queue is not accepting jobs")

// RunJob is one accepted run waiting for execution
type RunJob struct {
	RunID        string
	ScenarioName string
	Overrides    map[string]interface{}
}

// Executor executes runs that were accepted into the queue. The run
// service implements it.
type Executor interface {
	ExecuteQueued(ctx context.Context, runID, scenarioName string, overrides map[string]interface{}) error
}

// QueueGauge reports the current queue depth. The metrics collectors
// implement it.
type QueueGauge interface {
	SetQueuedRuns(count float64)
}

// RunWorkerStatus reports current worker health
type RunWorkerStatus struct {
	IsRunning      bool
	QueueDepth     int
	ProcessedCount int
	FailedCount    int
}

// RunWorker consumes accepted runs from a bounded queue and executes them.
// Jobs may be enqueued before Start; they wait in the buffer until the
// consumers come up. Jobs still queued at Stop are dropped, their records
// stay RUNNING in the archive.
type RunWorker struct {
	executor    Executor
	concurrency int
	logger      *zap.Logger

	jobs  chan RunJob
	gauge QueueGauge

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isRunning      bool
	stopped        bool
	processedCount int
	failedCount    int

	wg sync.WaitGroup
}

// NewRunWorker creates a run queue worker. Non-positive sizes fall back to
// the defaults.
func NewRunWorker(executor Executor, queueSize, concurrency int, logger *zap.Logger) *RunWorker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &RunWorker{
		executor:    executor,
		concurrency: concurrency,
		logger:      logger,
		jobs:        make(chan RunJob, queueSize),
	}
}

// SetQueueGauge attaches the gauge the worker reports its depth to.
// Optional; no depth is reported without it.
func (w *RunWorker) SetQueueGauge(gauge QueueGauge) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gauge = gauge
}

// Name returns the worker name
func (w *RunWorker) Name() string {
	return "run-queue"
}

// Enqueue hands an accepted run to the consumers without blocking
func (w *RunWorker) Enqueue(runID, scenarioName string, overrides map[string]interface{}) error {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return ErrNotAccepting
	}

	select {
	case w.jobs <- RunJob{RunID: runID, ScenarioName: scenarioName, Overrides: overrides}:
		w.reportDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the consumers
func (w *RunWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("run worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.stopped = false
	w.mu.Unlock()

	w.logger.Info("Run worker started",
		zap.Int("concurrency", w.concurrency),
		zap.Int("queue_size", cap(w.jobs)))

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consume(i)
	}

	return nil
}

// Stop rejects further jobs, cancels in-flight runs and waits for the
// consumers to exit
func (w *RunWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}

	w.isRunning = false
	w.stopped = true
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	w.wg.Wait()

	if dropped := len(w.jobs); dropped > 0 {
		w.logger.Warn("Run worker stopped with queued runs", zap.Int("dropped", dropped))
	}

	w.mu.RLock()
	processed, failed := w.processedCount, w.failedCount
	w.mu.RUnlock()

	w.logger.Info("Run worker stopped",
		zap.Int("processed_count", processed),
		zap.Int("failed_count", failed))
}

// GetStatus returns current worker status
func (w *RunWorker) GetStatus() RunWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return RunWorkerStatus{
		IsRunning:      w.isRunning,
		QueueDepth:     len(w.jobs),
		ProcessedCount: w.processedCount,
		FailedCount:    w.failedCount,
	}
}

func (w *RunWorker) consume(id int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Consumer context cancelled", zap.Int("consumer", id))
			return

		case job := <-w.jobs:
			w.reportDepth()
			w.process(job)
		}
	}
}

func (w *RunWorker) process(job RunJob) {
	w.logger.Info("Executing queued run",
		zap.String("run_id", job.RunID),
		zap.String("scenario", job.ScenarioName))

	if err := w.executor.ExecuteQueued(w.ctx, job.RunID, job.ScenarioName, job.Overrides); err != nil {
		w.mu.Lock()
		w.failedCount++
		w.mu.Unlock()

		// The error is already sealed on the archived record; here it only
		// feeds the worker counters
		w.logger.Warn("Queued run finished with error",
			zap.String("run_id", job.RunID),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	w.processedCount++
	w.mu.Unlock()
}

func (w *RunWorker) reportDepth() {
	w.mu.RLock()
	gauge := w.gauge
	w.mu.RUnlock()

	if gauge != nil {
		gauge.SetQueuedRuns(float64(len(w.jobs)))
	}
}
