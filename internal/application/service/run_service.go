package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/application/runner"
	"github.com/geoffsee/agent-mst/internal/application/transition"
	"github.com/geoffsee/agent-mst/internal/domain/event"
	"github.com/geoffsee/agent-mst/internal/domain/run"
	"github.com/geoffsee/agent-mst/internal/scenario"
)

var (
	// ErrUnknownScenario is returned when no scenario is registered under
	// the requested name
	ErrUnknownScenario = errors.New("unknown scenario")

	// ErrNoOracle is returned when an oracle-driven scenario is requested
	// but no decision oracle is configured
	ErrNoOracle = errors.New("no decision oracle configured")

	// ErrNoQueue is returned by Submit when no background queue is attached
	ErrNoQueue = errors.New("run queue not attached")

	// ErrQueueUnavailable wraps enqueue failures so transports can answer
	// with a retryable status
	ErrQueueUnavailable = errors.New("run queue unavailable")
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics is the slice of the collector set the service records into. A nil
// value disables recording.
type Metrics interface {
	RecordRunStarted(scenario string)
	RecordRunFinished(scenario, status string, duration time.Duration, iterations int)
	RecordRunFault(scenario, reason string)
	RecordTransition(policy, source string)
	RecordFallback(policy string)
	RecordInstructionFailure(scenario string)
}

// Dispatcher is the slice of the event dispatcher the service needs
type Dispatcher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// Queue hands accepted runs to background executors
type Queue interface {
	Enqueue(runID, scenarioName string, overrides map[string]interface{}) error
}

// RunService executes scenarios and answers questions about archived runs
type RunService interface {
	// Submit validates the request, archives an accepted record and hands
	// the run to the background queue. The returned record is still RUNNING.
	Submit(ctx context.Context, scenarioName string, overrides map[string]interface{}) (*run.Run, error)

	// Execute runs a scenario to completion on the calling goroutine. A
	// faulted run returns its sealed record together with the fault error.
	Execute(ctx context.Context, scenarioName string, overrides map[string]interface{}) (*run.Run, error)

	// ExecuteQueued executes a run that Submit already accepted. Called by
	// the queue workers.
	ExecuteQueued(ctx context.Context, runID, scenarioName string, overrides map[string]interface{}) error

	// SetQueue attaches the background queue Submit enqueues into
	SetQueue(q Queue)

	// GetRun retrieves an archived run by ID
	GetRun(ctx context.Context, id string) (*run.Run, error)

	// ListRuns retrieves archived runs, newest first
	ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error)

	// Trace retrieves the step trace of an archived run
	Trace(ctx context.Context, runID string) ([]*run.Step, error)

	// Scenarios lists the registered scenarios
	Scenarios() []*scenario.Scenario
}

type runService struct {
	registry        *scenario.Registry
	archive         port.RunArchive
	oracle          port.DecisionOracle
	queue           Queue
	dispatcher      Dispatcher
	metrics         Metrics
	logger          Logger
	maxIterations   int
	stagnationFault bool
}

// Option configures the run service
type Option func(*runService)

// WithLogger sets a logger for the service
func WithLogger(logger Logger) Option {
	return func(s *runService) {
		s.logger = logger
	}
}

// WithDispatcher sets the event dispatcher runs publish to
func WithDispatcher(d Dispatcher) Option {
	return func(s *runService) {
		s.dispatcher = d
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m Metrics) Option {
	return func(s *runService) {
		s.metrics = m
	}
}

// WithMaxIterations sets the iteration cap applied to scenarios that do not
// declare their own
func WithMaxIterations(n int) Option {
	return func(s *runService) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithStagnationFault makes runs fault when the fallback wraps around a
// fully visited state catalog instead of continuing
func WithStagnationFault() Option {
	return func(s *runService) {
		s.stagnationFault = true
	}
}

// NewRunService creates the run service. The oracle may be nil when only
// table-driven scenarios are in use.
func NewRunService(registry *scenario.Registry, archive port.RunArchive, oracle port.DecisionOracle, opts ...Option) RunService {
	s := &runService{
		registry:      registry,
		archive:       archive,
		oracle:        oracle,
		maxIterations: runner.DefaultMaxIterations,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *runService) SetQueue(q Queue) {
	s.queue = q
}

func (s *runService) Submit(ctx context.Context, scenarioName string, overrides map[string]interface{}) (*run.Run, error) {
	if s.queue == nil {
		return nil, ErrNoQueue
	}

	sc, ok := s.registry.Get(scenarioName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, scenarioName)
	}

	// Reject requests the workers could not execute before archiving
	// anything
	if _, err := s.policyFor(sc); err != nil {
		return nil, err
	}
	if _, err := sc.NewEntity(overrides); err != nil {
		return nil, fmt.Errorf("failed to build entity: %w", err)
	}

	rec := acceptedRecord(run.NewID(), sc)
	if err := s.archive.SaveRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to archive accepted run: %w", err)
	}

	if err := s.queue.Enqueue(rec.ID, sc.Name, overrides); err != nil {
		s.cancelRecord(ctx, rec, fmt.Sprintf("enqueue failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	if s.logger != nil {
		s.logger.Info("Run accepted",
			"run_id", rec.ID,
			"scenario", sc.Name,
			"policy", rec.Policy)
	}

	return rec, nil
}

func (s *runService) Execute(ctx context.Context, scenarioName string, overrides map[string]interface{}) (*run.Run, error) {
	sc, ok := s.registry.Get(scenarioName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, scenarioName)
	}

	return s.executeRun(ctx, run.NewID(), sc, overrides)
}

func (s *runService) ExecuteQueued(ctx context.Context, runID, scenarioName string, overrides map[string]interface{}) error {
	sc, ok := s.registry.Get(scenarioName)
	if !ok {
		return s.cancelByID(ctx, runID, fmt.Sprintf("scenario %s no longer registered", scenarioName))
	}

	_, err := s.executeRun(ctx, runID, sc, overrides)
	return err
}

func (s *runService) GetRun(ctx context.Context, id string) (*run.Run, error) {
	return s.archive.GetRun(ctx, id)
}

func (s *runService) ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	return s.archive.ListRuns(ctx, limit, offset)
}

func (s *runService) Trace(ctx context.Context, runID string) ([]*run.Step, error) {
	if _, err := s.archive.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	return s.archive.StepsByRunID(ctx, runID)
}

func (s *runService) Scenarios() []*scenario.Scenario {
	return s.registry.List()
}

// executeRun drives one run through the engine and archives its record and
// trace. The record row is written before the first step so traces always
// reference an archived run.
func (s *runService) executeRun(ctx context.Context, runID string, sc *scenario.Scenario, overrides map[string]interface{}) (*run.Run, error) {
	policy, err := s.policyFor(sc)
	if err != nil {
		return nil, err
	}

	entity, err := sc.NewEntity(overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to build entity: %w", err)
	}

	rec := acceptedRecord(runID, sc)
	if err := s.archive.SaveRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to archive run: %w", err)
	}

	maxIter := s.maxIterations
	if sc.MaxIterations > 0 {
		maxIter = sc.MaxIterations
	}

	observer := func(step *run.Step) {
		if err := s.archive.AppendStep(ctx, step); err != nil && s.logger != nil {
			s.logger.Error("Failed to archive step",
				"run_id", step.RunID,
				"iteration", step.Iteration,
				"error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordTransition(policy.Name(), step.Source)
			if step.Fallback {
				s.metrics.RecordFallback(policy.Name())
			}
		}
	}

	opts := []runner.Option{
		runner.WithMaxIterations(maxIter),
		runner.WithStepObserver(observer),
	}
	if s.logger != nil {
		opts = append(opts, runner.WithLogger(s.logger))
	}
	if s.dispatcher != nil {
		opts = append(opts, runner.WithDispatcher(s.dispatcher))
	}
	if s.stagnationFault {
		opts = append(opts, runner.WithStagnationFault())
	}

	if s.metrics != nil {
		s.metrics.RecordRunStarted(sc.Name)
	}
	s.emit(ctx, event.TypeRunStarted, runID, map[string]interface{}{
		"scenario":       sc.Name,
		"policy":         policy.Name(),
		"initial_state":  string(sc.InitialState),
		"max_iterations": maxIter,
	})

	rec, runErr := runner.New(policy, opts...).Execute(ctx, runID, entity, sc.Instructions)
	rec.Scenario = sc.Name

	s.recordOutcome(sc.Name, rec)

	saveErr := s.archive.SaveRun(ctx, rec)
	if saveErr != nil && s.logger != nil {
		s.logger.Error("Failed to archive run outcome",
			"run_id", rec.ID,
			"error", saveErr)
	}

	s.emit(ctx, event.TypeRunFinished, rec.ID, finishedPayload(rec))

	if runErr != nil {
		return rec, runErr
	}
	if saveErr != nil {
		return rec, fmt.Errorf("failed to archive run outcome: %w", saveErr)
	}
	return rec, nil
}

func (s *runService) policyFor(sc *scenario.Scenario) (transition.Policy, error) {
	switch sc.Policy {
	case scenario.PolicyTable:
		return transition.NewTablePolicy(sc.Successors), nil
	case scenario.PolicyOracle:
		if s.oracle == nil {
			return nil, fmt.Errorf("%w: scenario %s", ErrNoOracle, sc.Name)
		}
		if s.logger != nil {
			return transition.NewOraclePolicy(s.oracle, transition.WithLogger(s.logger)), nil
		}
		return transition.NewOraclePolicy(s.oracle), nil
	default:
		return nil, fmt.Errorf("unsupported policy %q in scenario %s", sc.Policy, sc.Name)
	}
}

func (s *runService) recordOutcome(scenarioName string, rec *run.Run) {
	if s.metrics == nil {
		return
	}

	duration := time.Duration(0)
	if rec.FinishedAt != nil {
		duration = rec.FinishedAt.Sub(rec.StartedAt)
	}

	s.metrics.RecordRunFinished(scenarioName, rec.Status.String(), duration, rec.Iterations)
	if rec.Status == run.StatusFaulted {
		s.metrics.RecordRunFault(scenarioName, rec.FaultReason.String())
	}
	for range rec.Failures {
		s.metrics.RecordInstructionFailure(scenarioName)
	}
}

// cancelByID marks an accepted run that never executed as cancelled
func (s *runService) cancelByID(ctx context.Context, runID, detail string) error {
	rec, err := s.archive.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	s.cancelRecord(ctx, rec, detail)
	return fmt.Errorf("run %s cancelled: %s", runID, detail)
}

func (s *runService) cancelRecord(ctx context.Context, rec *run.Run, detail string) {
	rec.Status = run.StatusFaulted
	rec.FaultReason = run.FaultCancelled
	rec.FaultDetail = detail
	now := time.Now()
	rec.FinishedAt = &now

	if err := s.archive.SaveRun(ctx, rec); err != nil && s.logger != nil {
		s.logger.Error("Failed to archive cancelled run",
			"run_id", rec.ID,
			"error", err)
	}

	s.emit(ctx, event.TypeRunFinished, rec.ID, finishedPayload(rec))
}

func (s *runService) emit(ctx context.Context, typ event.Type, runID string, payload map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(typ, runID, payload))
}

// acceptedRecord is the archived shape of a run that has been accepted but
// not yet finished. Execution rewrites it through the archive upsert.
func acceptedRecord(runID string, sc *scenario.Scenario) *run.Run {
	return &run.Run{
		ID:           runID,
		Scenario:     sc.Name,
		Policy:       sc.Policy,
		Status:       run.StatusRunning,
		InitialState: string(sc.InitialState),
		Visited:      []string{string(sc.InitialState)},
		StartedAt:    time.Now(),
	}
}

func finishedPayload(rec *run.Run) map[string]interface{} {
	payload := map[string]interface{}{
		"scenario":    rec.Scenario,
		"policy":      rec.Policy,
		"status":      rec.Status.String(),
		"final_state": rec.FinalState,
		"iterations":  rec.Iterations,
		"transitions": rec.Transitions,
		"fallbacks":   rec.Fallbacks,
	}
	if rec.Status == run.StatusFaulted {
		payload["fault_reason"] = rec.FaultReason.String()
		payload["fault_detail"] = rec.FaultDetail
	}
	if rec.FinishedAt != nil {
		payload["duration_ms"] = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	}
	return payload
}

// NotifyOnFinish returns an event handler that loads a finished run from
// the archive and delivers it to the notifier
func NotifyOnFinish(archive port.RunArchive, notifier port.RunNotifier) func(ctx context.Context, evt *event.Event) error {
	return func(ctx context.Context, evt *event.Event) error {
		rec, err := archive.GetRun(ctx, evt.RunID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", evt.RunID, err)
		}
		return notifier.NotifyRunFinished(ctx, rec)
	}
}
