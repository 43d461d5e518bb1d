package dispatcher

import (
	"context"

	"github.com/geoffsee/agent-mst/internal/domain/event"
)

// Handler processes run lifecycle events
type Handler func(ctx context.Context, evt *event.Event) error

// namedHandler pairs a handler with the name it was registered under
type namedHandler struct {
	name string
	fn   Handler
}
