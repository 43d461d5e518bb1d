package run

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by archives when no run exists under the given ID
var ErrNotFound = errors.New("run not found")

// Status describes where a run is in its lifecycle
type Status string

const (
	StatusRunning     Status = "RUNNING"
	StatusGoalReached Status = "GOAL_REACHED"
	StatusFaulted     Status = "FAULTED"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Terminal returns true once the run can no longer make progress
func (s Status) Terminal() bool {
	return s == StatusGoalReached || s == StatusFaulted
}

// FaultReason classifies why a run faulted
type FaultReason string

const (
	FaultNone                 FaultReason = ""
	FaultInvalidTransition    FaultReason = "INVALID_TRANSITION"
	FaultOracleError          FaultReason = "ORACLE_ERROR"
	FaultNoSuccessorDefined   FaultReason = "NO_SUCCESSOR_DEFINED"
	FaultIterationCapExceeded FaultReason = "ITERATION_CAP_EXCEEDED"
	FaultCancelled            FaultReason = "CANCELLED"
	FaultStagnation           FaultReason = "STAGNATION"
)

// String returns the string representation of the fault reason
func (r FaultReason) String() string {
	return string(r)
}

// Run is the archived record of a single execution
type Run struct {
	ID           string               `json:"id"`
	Scenario     string               `json:"scenario"`
	Policy       string               `json:"policy"`
	Status       Status               `json:"status"`
	FaultReason  FaultReason          `json:"fault_reason,omitempty"`
	FaultDetail  string               `json:"fault_detail,omitempty"`
	InitialState string               `json:"initial_state"`
	FinalState   string               `json:"final_state"`
	Visited      []string             `json:"visited"`
	Iterations   int                  `json:"iterations"`
	Transitions  int                  `json:"transitions"`
	Fallbacks    int                  `json:"fallbacks"`
	Failures     []InstructionFailure `json:"failures,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
}

// Step is one archived loop iteration of a run. FromState equals ToState on
// iterations that applied no transition.
type Step struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Source    string    `json:"source"`
	RawChoice string    `json:"raw_choice,omitempty"`
	Fallback  bool      `json:"fallback"`
	Stagnant  bool      `json:"stagnant"`
	Timestamp time.Time `json:"timestamp"`
}

// Step sources
const (
	SourceOracle      = "oracle"
	SourceFallback    = "fallback"
	SourceTable       = "table"
	SourceInstruction = "instruction"
	SourceNone        = "none"
)

// InstructionFailure records an isolated instruction action error.
// The run continues after one; the record is kept for the report.
type InstructionFailure struct {
	Iteration   int    `json:"iteration"`
	Index       int    `json:"index"`
	Description string `json:"description"`
	State       string `json:"state"`
	Error       string `json:"error"`
}

// NewID creates a unique run ID using timestamp and random bytes
func NewID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("run-%d-%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
