// Package config reloads parts of the daemon configuration when the config
// file changes on disk.
package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
	"github.com/spf13/viper"
)

const component = "config"

// ChangeHandler reacts to a changed configuration. v already holds the new
// file contents.
type ChangeHandler func(v *viper.Viper) error

type subscription struct {
	id      string
	handler ChangeHandler
}

// Watcher watches the file behind a viper instance and runs the subscribed
// handlers, in subscription order, after every change.
type Watcher struct {
	viper    *viper.Viper
	mu       sync.RWMutex
	subs     []subscription
	watching bool
}

// NewWatcher creates a Watcher for v, which must already have read its
// config file.
func NewWatcher(v *viper.Viper) *Watcher {
	return &Watcher{viper: v}
}

// Subscribe registers handler under id, replacing any handler with the same
// id in place.
func (w *Watcher) Subscribe(id string, handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.subs {
		if w.subs[i].id == id {
			w.subs[i].handler = handler
			return
		}
	}
	w.subs = append(w.subs, subscription{id: id, handler: handler})
}

// Unsubscribe removes the handler registered under id.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.subs {
		if w.subs[i].id == id {
			w.subs = append(w.subs[:i], w.subs[i+1:]...)
			return
		}
	}
}

// Start begins watching. It returns false, and does nothing, when viper
// has no config file to watch. Calling Start again has no effect.
func (w *Watcher) Start() bool {
	if w.viper.ConfigFileUsed() == "" {
		return false
	}

	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return true
	}
	w.watching = true
	w.mu.Unlock()

	w.viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Infow("Config file changed",
			"component", component,
			"file", e.Name,
			"op", e.Op.String(),
		)
		w.dispatch()
	})
	w.viper.WatchConfig()

	logger.Infow("Watching config file", "component", component, "file", w.viper.ConfigFileUsed())
	return true
}

// IsWatching reports whether Start has begun watching.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// dispatch runs every handler. A failing handler is logged and does not stop
// the others.
func (w *Watcher) dispatch() {
	w.mu.RLock()
	subs := make([]subscription, len(w.subs))
	copy(subs, w.subs)
	w.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(w.viper); err != nil {
			logger.Errorw("Config change rejected",
				"component", component,
				"handler", s.id,
				"error", err.Error(),
			)
		}
	}
}
