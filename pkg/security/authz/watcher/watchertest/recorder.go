// Package watchertest provides a recording Watcher for tests.
package watchertest

import (
	"sync"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
)

// Recorder is a watcher.Watcher that keeps every event and payload it sees
// and forwards payloads to the registered callback like Local does. A
// callback failure is kept as well and never reaches the caller of Update.
type Recorder struct {
	renderer watcher.Renderer
	slot     watcher.Slot

	mu       sync.Mutex
	events   []event.Event
	payloads []string
	failures []error
}

// NewRecorder creates a Recorder rendering with FullRenderer.
func NewRecorder() *Recorder {
	return &Recorder{renderer: watcher.FullRenderer{}}
}

// SetUpdateCallback implements watcher.Watcher.
func (r *Recorder) SetUpdateCallback(cb watcher.Callback) {
	r.slot.Store(cb)
}

// Update implements watcher.Watcher.
func (r *Recorder) Update(ev event.Event) {
	payload := r.renderer.Render(ev)

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.payloads = append(r.payloads, payload)
	r.mu.Unlock()

	if _, err := r.slot.Invoke(payload); err != nil {
		r.mu.Lock()
		r.failures = append(r.failures, err)
		r.mu.Unlock()
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// Types returns the types of the recorded events, in order.
func (r *Recorder) Types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type()
	}
	return out
}

// Payloads returns a copy of the recorded payloads.
func (r *Recorder) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

// Failures returns the errors of callbacks that failed, in order.
func (r *Recorder) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failures...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.payloads = nil
	r.failures = nil
}

var _ watcher.Watcher = (*Recorder)(nil)
