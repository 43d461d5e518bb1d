package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/geoffsee/agent-mst/internal/domain/event"
)

// Dispatcher routes run lifecycle events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler under a name. Registering the same
	// name for the same event type again replaces the previous handler.
	Subscribe(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch sends the event to all handlers in registration order and
	// returns the first error encountered
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync sends the event to its handlers on a separate
	// goroutine, preserving registration order per event, and returns
	// immediately
	DispatchAsync(ctx context.Context, evt *event.Event)

	// HandlerCount reports how many handlers an event type has
	HandlerCount(eventType event.Type) int

	// Close rejects further dispatches and waits for in-flight async
	// handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]namedHandler
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// New creates an event dispatcher
func New(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]namedHandler),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	replaced := false
	for i, h := range d.handlers[eventType] {
		if h.name == name {
			d.handlers[eventType][i].fn = handler
			replaced = true
			break
		}
	}
	if !replaced {
		d.handlers[eventType] = append(d.handlers[eventType], namedHandler{name: name, fn: handler})
	}

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"event_type", eventType,
			"handler_name", name,
			"replaced", replaced,
		)
	}
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[eventType]
	filtered := make([]namedHandler, 0, len(handlers))

	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}

	d.handlers[eventType] = filtered

	if d.logger != nil {
		d.logger.Info("Handler unregistered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	handlers := d.snapshot(evt.Type)

	for _, h := range handlers {
		if err := d.safeExecute(ctx, evt, h); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"run_id", evt.RunID,
					"handler_name", h.name,
					"error", err,
				)
			}
			return fmt.Errorf("handler %s failed: %w", h.name, err)
		}
	}

	return nil
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		if d.logger != nil {
			d.logger.Error("Async dispatch rejected, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}

	handlers := d.snapshot(evt.Type)
	if len(handlers) == 0 {
		return
	}

	// One goroutine per event keeps this event's handlers in registration
	// order while separate events proceed in parallel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		for _, h := range handlers {
			if err := d.safeExecute(ctx, evt, h); err != nil {
				if d.logger != nil {
					d.logger.Error("Async handler error",
						"event_type", evt.Type,
						"event_id", evt.ID,
						"run_id", evt.RunID,
						"handler_name", h.name,
						"error", err,
					)
				}
			}
		}
	}()
}

func (d *eventDispatcher) HandlerCount(eventType event.Type) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for async handlers")
	}

	d.wg.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

// snapshot copies the handler list so dispatch never holds the lock while
// handlers run
func (d *eventDispatcher) snapshot(eventType event.Type) []namedHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	out := make([]namedHandler, len(handlers))
	copy(out, handlers)
	return out
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, h namedHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", h.name,
					"panic", r,
				)
			}
		}
	}()

	return h.fn(ctx, evt)
}
