// Package txn models the whole-operation atomicity of the host environment.
//
// A Runner executes a function as one unit: either every effect it made on
// the participating state takes hold, or none does. Scopes nest; a nested
// scope that fails only undoes its own effects unless the error propagates.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBusy is returned when a new scope could not be entered before its
// context ended, typically because a callback entered with a context other
// than the one its scope handed it.
var ErrBusy = errors.New("atomic scope busy")

// Runner runs fn atomically. The context passed to fn carries the scope and
// must be used for every call that should join it.
type Runner interface {
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Atomically calls f.
func (f RunnerFunc) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Snapshotter is state that can capture itself and later be put back.
type Snapshotter interface {
	Snapshot() (restore func())
}

// Journal is an in-memory Runner over a set of Snapshotter parts.
//
// Top-level scopes are serialized, which gives the single sequential
// execution the coordinator assumes. Nested scopes on the same context
// re-use the held lock; waiting for the lock ends with the context.
type Journal struct {
	exec chan struct{}

	mu    sync.RWMutex
	parts []Snapshotter
}

type scopeKey struct{ j *Journal }

// NewJournal creates a journal over parts.
func NewJournal(parts ...Snapshotter) *Journal {
	return &Journal{exec: make(chan struct{}, 1), parts: parts}
}

// Add registers more parts. Call during setup, before the journal is used.
func (j *Journal) Add(parts ...Snapshotter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.parts = append(j.parts, parts...)
}

// InScope reports whether ctx is inside one of this journal's scopes.
func (j *Journal) InScope(ctx context.Context) bool {
	return ctx.Value(scopeKey{j}) != nil
}

// Atomically runs fn, restoring every part if fn fails or panics.
func (j *Journal) Atomically(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if !j.InScope(ctx) {
		select {
		case j.exec <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
		}
		defer func() { <-j.exec }()
		ctx = context.WithValue(ctx, scopeKey{j}, struct{}{})
	}

	j.mu.RLock()
	restores := make([]func(), 0, len(j.parts))
	for _, p := range j.parts {
		restores = append(restores, p.Snapshot())
	}
	j.mu.RUnlock()

	rollback := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		rollback()
		return err
	}
	return nil
}
