package transition

import (
	"context"
	"fmt"
	"strings"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/machine"
)

// OraclePolicy asks an external decision oracle for the next state. The
// first line of the oracle's reply, trimmed, is the candidate; a candidate
// that is empty, outside the catalog or equal to the current state is
// rejected and the default fallback resolver picks the state instead, so
// Propose only fails when the oracle itself does.
type OraclePolicy struct {
	oracle port.DecisionOracle
	logger Logger
}

// OracleOption configures the oracle policy
type OracleOption func(*OraclePolicy)

// WithLogger sets a logger for rejected candidates and fallback decisions
func WithLogger(logger Logger) OracleOption {
	return func(p *OraclePolicy) {
		p.logger = logger
	}
}

// NewOraclePolicy creates a policy backed by the given oracle
func NewOraclePolicy(oracle port.DecisionOracle, opts ...OracleOption) *OraclePolicy {
	p := &OraclePolicy{oracle: oracle}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name identifies the policy in logs and archived runs
func (p *OraclePolicy) Name() string {
	return "oracle"
}

// Propose sends the snapshot's prompt to the oracle and validates the reply
func (p *OraclePolicy) Propose(ctx context.Context, snap Snapshot) (Proposal, error) {
	reply, err := p.oracle.Decide(ctx, snap.Prompt())
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrOracle, err)
	}

	candidate := machine.State(strings.TrimSpace(strings.SplitN(reply, "\n", 2)[0]))

	if candidate != "" && candidate != snap.Current && snap.IsPossible(candidate) {
		return Proposal{
			State:  candidate,
			Source: SourceOracle,
			Raw:    string(candidate),
		}, nil
	}

	state, wrapped := ResolveFallback(snap.Possible, snap.Visited)

	if p.logger != nil {
		p.logger.Info("Oracle candidate rejected, falling back",
			"candidate", string(candidate),
			"current_state", string(snap.Current),
			"fallback_state", string(state),
			"stagnant", wrapped,
		)
	}

	return Proposal{
		State:    state,
		Source:   SourceFallback,
		Raw:      string(candidate),
		Fallback: true,
		Stagnant: wrapped,
	}, nil
}
