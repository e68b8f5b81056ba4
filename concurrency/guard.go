// Package concurrency provides the lock-poisoning recovery primitive
// described in §5/§9: a panic while holding a mutex must not cascade and
// must not leave the node unable to make progress. The node's posture is
// "best-effort availability" — log loudly, keep serving.
package concurrency

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Guard wraps a value of type T behind a mutex, and recovers from any
// panic raised inside a critical section instead of letting it propagate
// and poison the lock for subsequent callers.
type Guard[T any] struct {
	mu    sync.Mutex
	value T
}

// NewGuard wraps an initial value.
func NewGuard[T any](v T) *Guard[T] {
	return &Guard[T]{value: v}
}

// With runs fn with exclusive access to the guarded value. A panic inside
// fn is recovered, logged, and swallowed: the mutex is released normally
// via the deferred Unlock, and the guarded value remains whatever state fn
// left it in.
func (g *Guard[T]) With(fn func(v *T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Error("CRITICAL: recovered panic inside guarded critical section", "panic", r)
		}
	}()
	fn(&g.value)
}

// WithErr is With for functions that return an error; the error from a
// recovered panic is reported as a generic poisoning error rather than
// silently discarded.
func (g *Guard[T]) WithErr(fn func(v *T) error) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Error("CRITICAL: recovered panic inside guarded critical section", "panic", r)
			err = ErrPoisoned
		}
	}()
	err = fn(&g.value)
	return
}

// RLocker-style read helper: for types where most access is read-only this
// still serializes via the same mutex, matching the teacher's simple
// single-mutex-per-object model (§5) rather than introducing RWMutex
// sharding the spec does not ask for.
func (g *Guard[T]) Read(fn func(v T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Error("CRITICAL: recovered panic inside guarded read", "panic", r)
		}
	}()
	fn(g.value)
}

// ErrPoisoned is returned by WithErr when the critical section panicked.
var ErrPoisoned = poisonedError{}

type poisonedError struct{}

func (poisonedError) Error() string { return "concurrency: critical section panicked; state may be partial" }
