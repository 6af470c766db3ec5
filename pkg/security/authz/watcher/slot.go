package watcher

import (
	"sync/atomic"

	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// Slot holds at most one Callback. Store and Load may race freely; a reader
// sees either the previous or the new callback, never a partial one.
// The zero value is an empty slot.
type Slot struct {
	cb atomic.Pointer[Callback]
}

// Store replaces the held callback. Last write wins.
func (s *Slot) Store(cb Callback) {
	if cb == nil {
		s.cb.Store(nil)
		return
	}
	s.cb.Store(&cb)
}

// Load returns the held callback or nil.
func (s *Slot) Load() Callback {
	if p := s.cb.Load(); p != nil {
		return *p
	}
	return nil
}

// Invoke calls the held callback with payload. It reports whether a callback
// was registered; a panic inside the callback is returned as
// errors.ErrCallbackPanic.
func (s *Slot) Invoke(payload string) (bool, error) {
	cb := s.Load()
	if cb == nil {
		return false, nil
	}
	return true, Call(cb, payload)
}

// Call invokes cb with payload, converting a panic into an error.
func Call(cb Callback, payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.ErrCallbackPanic.WithMessagef("watcher callback panicked: %v", r)
		}
	}()
	cb(payload)
	return nil
}
