package port

import (
	"context"

	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// DecisionOracle answers a transition prompt with free-form text. The first
// line of the reply, trimmed of surrounding whitespace, is taken as the
// proposed state name; callers are responsible for validating it.
type DecisionOracle interface {
	Decide(ctx context.Context, prompt string) (string, error)
}

// DocumentText represents text extracted from a document
type DocumentText struct {
	Path  string
	Pages int
	Text  string
}

// DocumentReader defines document ingestion operations
type DocumentReader interface {
	ExtractText(ctx context.Context, path string) (*DocumentText, error)
}

// RunNotifier delivers a notification once a run has finished
type RunNotifier interface {
	NotifyRunFinished(ctx context.Context, rec *run.Run) error
}
