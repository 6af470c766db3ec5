package watcher

import (
	"sync/atomic"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
)

// FailureHandler is told about every callback failure Local isolated.
// It runs on the goroutine that called Update and must not panic.
type FailureHandler func(ev event.Event, err error)

// Local is the reference in-process Watcher. It renders each event with a
// single Renderer (FullRenderer unless configured otherwise) and invokes the
// registered callback inline.
type Local struct {
	slot      Slot
	renderer  Renderer
	log       core.Logger
	onFailure FailureHandler

	delivered atomic.Int64
	failed    atomic.Int64
}

// LocalOption configures a Local watcher.
type LocalOption func(*Local)

// WithRenderer sets the rendering policy.
func WithRenderer(r Renderer) LocalOption {
	return func(w *Local) {
		if r != nil {
			w.renderer = r
		}
	}
}

// WithLogger sets the logger used to report callback failures.
// Defaults to the global kart-io logger.
func WithLogger(l core.Logger) LocalOption {
	return func(w *Local) {
		w.log = l
	}
}

// WithFailureHandler registers a handler for isolated callback failures.
func WithFailureHandler(h FailureHandler) LocalOption {
	return func(w *Local) {
		w.onFailure = h
	}
}

// NewLocal creates a Local watcher with no callback registered.
func NewLocal(opts ...LocalOption) *Local {
	w := &Local{renderer: FullRenderer{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetUpdateCallback implements Watcher.
func (w *Local) SetUpdateCallback(cb Callback) {
	w.slot.Store(cb)
}

// Update implements Watcher.
func (w *Local) Update(ev event.Event) {
	if ev == nil {
		return
	}

	cb := w.slot.Load()
	if cb == nil {
		return
	}

	if err := Call(cb, w.renderer.Render(ev)); err != nil {
		w.failed.Add(1)
		w.logger().Errorw("Policy watcher callback failed",
			"component", "watcher.local",
			"event", ev.Type().Tag(),
			"error", err.Error(),
		)
		if w.onFailure != nil {
			w.onFailure(ev, err)
		}
		return
	}
	w.delivered.Add(1)
}

// Renderer returns the rendering policy of w.
func (w *Local) Renderer() Renderer {
	return w.renderer
}

// Stats returns how many callback invocations succeeded and failed.
func (w *Local) Stats() (delivered, failed int64) {
	return w.delivered.Load(), w.failed.Load()
}

func (w *Local) logger() core.Logger {
	if w.log != nil {
		return w.log
	}
	return logger.Global()
}

var _ Watcher = (*Local)(nil)
