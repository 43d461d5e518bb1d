package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geoffsee/agent-mst/internal/application/transition"
	"github.com/geoffsee/agent-mst/internal/domain/event"
	"github.com/geoffsee/agent-mst/internal/domain/machine"
	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// DefaultMaxIterations bounds a run when no explicit cap is configured
const DefaultMaxIterations = 100

var (
	// ErrIterationCap is returned when a run exhausts its iteration budget
	// without reaching its goal
	ErrIterationCap = errors.New("iteration cap exceeded")

	// ErrStagnation is returned when stagnation faulting is enabled and the
	// fallback wrapped around a fully visited catalog
	ErrStagnation = errors.New("run stagnated")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Dispatcher is the slice of the event dispatcher the runner needs
type Dispatcher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// StepObserver receives each completed loop iteration. The step's ID is
// zero; archives assign one on insert.
type StepObserver func(step *run.Step)

// Runner drives an entity through the execution loop under a transition
// policy until its goal is reached, a fault occurs or the iteration cap
// is hit. A runner holds no per-run state and may be reused sequentially.
type Runner struct {
	policy          transition.Policy
	maxIterations   int
	stagnationFault bool
	logger          Logger
	dispatcher      Dispatcher
	observer        StepObserver
}

// Option configures a runner
type Option func(*Runner)

// WithMaxIterations overrides the iteration cap
func WithMaxIterations(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithStagnationFault makes a fallback wrap-around fault the run instead
// of continuing from the head of the catalog
func WithStagnationFault() Option {
	return func(r *Runner) {
		r.stagnationFault = true
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithDispatcher sets the dispatcher used for transition, fallback and
// instruction failure events
func WithDispatcher(d Dispatcher) Option {
	return func(r *Runner) {
		r.dispatcher = d
	}
}

// WithStepObserver registers a callback invoked for every completed
// iteration
func WithStepObserver(fn StepObserver) Option {
	return func(r *Runner) {
		r.observer = fn
	}
}

// New creates a runner for the given policy
func New(policy transition.Policy, opts ...Option) *Runner {
	if policy == nil {
		panic("runner: nil transition policy")
	}

	r := &Runner{
		policy:        policy,
		maxIterations: DefaultMaxIterations,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Execute runs the entity until a terminal outcome. The returned record is
// always populated; the error is nil exactly when the run ended with its
// goal reached. An empty runID is replaced with a generated one.
//
// Each iteration checks for cancellation, executes the active instructions
// in declared order, consults the policy unless an instruction already
// transitioned the entity, applies the transition and checks the goal.
// Instruction action errors are recorded on the run and never stop it.
func (r *Runner) Execute(ctx context.Context, runID string, e *machine.Entity, instructions machine.Instructions) (*run.Run, error) {
	if runID == "" {
		runID = run.NewID()
	}

	rec := &run.Run{
		ID:           runID,
		Policy:       r.policy.Name(),
		Status:       run.StatusRunning,
		InitialState: string(e.State()),
		StartedAt:    time.Now(),
	}

	if r.logger != nil {
		r.logger.Info("Run started",
			"run_id", rec.ID,
			"policy", rec.Policy,
			"initial_state", rec.InitialState,
			"max_iterations", r.maxIterations)
	}

	// The goal may already hold for the initial state
	if e.GoalReached() {
		r.finish(rec, e)
		return rec, nil
	}

	for iter := 1; iter <= r.maxIterations; iter++ {
		select {
		case <-ctx.Done():
			return r.fault(ctx, rec, e, run.FaultCancelled, ctx.Err())
		default:
		}

		rec.Iterations = iter
		from := e.State()
		before := e.TransitionCount()

		r.runInstructions(ctx, iter, e, instructions, rec)

		var prop transition.Proposal
		if e.TransitionCount() != before {
			// An instruction already moved the entity, so the policy is
			// skipped for this iteration
			prop = transition.Proposal{State: e.State(), Source: run.SourceInstruction}
		} else {
			snap := transition.TakeSnapshot(e, instructions)

			p, err := r.policy.Propose(ctx, snap)
			if err != nil {
				return r.fault(ctx, rec, e, proposeFaultReason(ctx, err), err)
			}

			if err := e.TransitionTo(p.State); err != nil {
				return r.fault(ctx, rec, e, run.FaultInvalidTransition, err)
			}

			prop = p
			if prop.Fallback {
				rec.Fallbacks++
				r.emit(ctx, rec.ID, event.TypeRunFallback, map[string]interface{}{
					"iteration":  iter,
					"raw_choice": prop.Raw,
					"resolved":   string(prop.State),
					"stagnant":   prop.Stagnant,
				})
			}
		}

		r.observeStep(ctx, rec, iter, from, prop)

		if e.GoalReached() {
			r.finish(rec, e)
			return rec, nil
		}

		if prop.Stagnant && r.stagnationFault {
			return r.fault(ctx, rec, e, run.FaultStagnation, ErrStagnation)
		}

		// A policy backed by a successor map has dead ends the next
		// iteration could never leave; fault as soon as one is entered
		if checker, ok := r.policy.(transition.SuccessorChecker); ok && !checker.HasSuccessor(e.State()) {
			err := fmt.Errorf("%w: state %s", transition.ErrNoSuccessor, e.State())
			return r.fault(ctx, rec, e, run.FaultNoSuccessorDefined, err)
		}
	}

	return r.fault(ctx, rec, e, run.FaultIterationCapExceeded, ErrIterationCap)
}

// runInstructions executes every active instruction in declared order.
// Action errors and panics are recorded on the run and do not stop it.
func (r *Runner) runInstructions(ctx context.Context, iter int, e *machine.Entity, instructions machine.Instructions, rec *run.Run) {
	for idx, in := range instructions {
		if !in.Active(e) {
			continue
		}

		if err := runAction(ctx, in, e); err != nil {
			rec.Failures = append(rec.Failures, run.InstructionFailure{
				Iteration:   iter,
				Index:       idx,
				Description: in.Description,
				State:       string(e.State()),
				Error:       err.Error(),
			})

			if r.logger != nil {
				r.logger.Error("Instruction action failed",
					"run_id", rec.ID,
					"iteration", iter,
					"index", idx,
					"description", in.Description,
					"error", err)
			}

			r.emit(ctx, rec.ID, event.TypeRunInstructionFailed, map[string]interface{}{
				"iteration":   iter,
				"index":       idx,
				"description": in.Description,
				"error":       err.Error(),
			})
		}
	}
}

// runAction isolates one instruction action, converting a panic into an
// ordinary error
func runAction(ctx context.Context, in machine.Instruction, e *machine.Entity) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("instruction panic: %v", rec)
		}
	}()
	return in.Run(ctx, e)
}

func (r *Runner) observeStep(ctx context.Context, rec *run.Run, iter int, from machine.State, prop transition.Proposal) {
	step := &run.Step{
		RunID:     rec.ID,
		Iteration: iter,
		FromState: string(from),
		ToState:   string(prop.State),
		Source:    prop.Source,
		RawChoice: prop.Raw,
		Fallback:  prop.Fallback,
		Stagnant:  prop.Stagnant,
		Timestamp: time.Now(),
	}

	if r.observer != nil {
		r.observer(step)
	}

	if r.logger != nil {
		r.logger.Info("Transition applied",
			"run_id", rec.ID,
			"iteration", iter,
			"from", step.FromState,
			"to", step.ToState,
			"source", step.Source)
	}

	r.emit(ctx, rec.ID, event.TypeRunTransition, map[string]interface{}{
		"iteration": iter,
		"from":      step.FromState,
		"to":        step.ToState,
		"source":    step.Source,
		"fallback":  step.Fallback,
		"stagnant":  step.Stagnant,
	})
}

func (r *Runner) finish(rec *run.Run, e *machine.Entity) {
	rec.Status = run.StatusGoalReached
	r.seal(rec, e)

	if r.logger != nil {
		r.logger.Info("Run reached goal",
			"run_id", rec.ID,
			"final_state", rec.FinalState,
			"iterations", rec.Iterations,
			"transitions", rec.Transitions)
	}
}

func (r *Runner) fault(ctx context.Context, rec *run.Run, e *machine.Entity, reason run.FaultReason, err error) (*run.Run, error) {
	rec.Status = run.StatusFaulted
	rec.FaultReason = reason
	if err != nil {
		rec.FaultDetail = err.Error()
	}
	r.seal(rec, e)

	if r.logger != nil {
		r.logger.Error("Run faulted",
			"run_id", rec.ID,
			"reason", reason.String(),
			"final_state", rec.FinalState,
			"iterations", rec.Iterations,
			"error", err)
	}

	return rec, err
}

// seal fills the fields shared by every terminal outcome
func (r *Runner) seal(rec *run.Run, e *machine.Entity) {
	rec.FinalState = string(e.State())
	rec.Visited = stateStrings(e.VisitedStates())
	rec.Transitions = int(e.TransitionCount())
	now := time.Now()
	rec.FinishedAt = &now
}

func (r *Runner) emit(ctx context.Context, runID string, typ event.Type, payload map[string]interface{}) {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.DispatchAsync(ctx, event.NewEvent(typ, runID, payload))
}

// proposeFaultReason classifies a policy failure. A cancellation observed
// while the policy was running wins over the policy's own error.
func proposeFaultReason(ctx context.Context, err error) run.FaultReason {
	switch {
	case ctx.Err() != nil:
		return run.FaultCancelled
	case errors.Is(err, transition.ErrNoSuccessor):
		return run.FaultNoSuccessorDefined
	default:
		return run.FaultOracleError
	}
}

func stateStrings(states []machine.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
