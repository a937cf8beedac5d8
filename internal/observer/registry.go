// Package observer implements the state change notification registry.
package observer

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when unregistering a handle that was never
// registered. This is a programmer error, not a runtime condition.
var ErrNotFound = errors.New("observer: callback handle not registered")

// Callback is a state change callback. It takes no arguments; observers
// read current state through the session's query accessors.
type Callback func()

// Handle identifies one registered callback.
type Handle uuid.UUID

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

type entry struct {
	handle   Handle
	callback Callback
}

// Registry is an ordered set of state change callbacks. Registration order
// is invocation order. The registry performs no deduplication of rapid
// successive notifications; suppressing duplicates (for example by capture
// timestamp) is a policy decision left to individual observers.
type Registry struct {
	mu      sync.Mutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a callback and returns its handle.
func (r *Registry) Register(cb Callback) Handle {
	h := Handle(uuid.New())

	r.mu.Lock()
	r.entries = append(r.entries, entry{handle: h, callback: cb})
	r.mu.Unlock()

	return h
}

// Unregister removes a previously registered callback. Returns ErrNotFound
// if the handle is unknown.
func (r *Registry) Unregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.handle == h {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}

	return ErrNotFound
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// NotifyAll invokes every registered callback once, in registration order,
// synchronously on the caller's goroutine. A callback that panics must not
// prevent the remaining callbacks from running, so each invocation is
// isolated and failures are logged instead of propagated.
func (r *Registry) NotifyAll() {
	r.mu.Lock()
	snapshot := make([]entry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		invoke(e)
	}
}

func invoke(e entry) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("handle", e.handle.String()).
				Interface("panic", rec).
				Msg("State change callback panicked")
		}
	}()

	e.callback()
}
