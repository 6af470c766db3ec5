// Package watcher defines the observer capability the policy engine notifies
// on every policy mutation, and the reference in-process implementation.
//
// The engine holds a Watcher and, after a mutation has been applied to the
// policy store, calls Update with the event describing it. The watcher renders
// the event into a payload string and hands it to the one callback registered
// through SetUpdateCallback. Dispatch is synchronous and runs on the calling
// goroutine: there is no queue, no retry and no persistence at this layer.
//
// Payload format is fixed per watcher instance by its Renderer:
//
//	FullRenderer  {"type":"add_policy","sec":"p","ptype":"p","rule":["alice","data1","read"]}
//	TagRenderer   policy_updated:add_policy
//
// Usage:
//
//	w := watcher.NewLocal()
//	w.SetUpdateCallback(func(payload string) {
//	    bus.Publish(payload)
//	})
//	w.Update(event.NewAddPolicy("p", "p", "alice", "data1", "read"))
package watcher

import (
	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
)

// Callback receives the rendered payload of one event. It is owned by the
// watcher it is registered with; anything it captures is owned by the caller
// that registered it and must stay valid until the callback is replaced.
type Callback func(payload string)

// Watcher is implemented by every observer the policy engine can notify.
// Implementations must be safe for concurrent use by multiple goroutines.
type Watcher interface {
	// SetUpdateCallback registers cb, replacing any previous callback.
	// A nil cb unregisters.
	SetUpdateCallback(cb Callback)

	// Update renders ev and synchronously invokes the registered callback,
	// if any. A failing callback never propagates into the caller.
	Update(ev event.Event)
}
