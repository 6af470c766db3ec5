package watcher

import (
	"context"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
)

// ContextWatcher is implemented by watchers whose Update performs I/O that
// should join the caller's trace. UpdateContext behaves exactly like Update;
// ctx carries trace state only and its cancellation never aborts dispatch.
type ContextWatcher interface {
	Watcher
	UpdateContext(ctx context.Context, ev event.Event)
}

// Notify dispatches ev to w, passing ctx along when w accepts one.
func Notify(ctx context.Context, w Watcher, ev event.Event) {
	if cw, ok := w.(ContextWatcher); ok {
		cw.UpdateContext(ctx, ev)
		return
	}
	w.Update(ev)
}
