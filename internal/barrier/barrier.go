// Package barrier rejects re-entrant operations on the same swap.
package barrier

import (
	"errors"
	"sync"
)

// ErrReentrant is returned when a swap already has an operation in flight.
var ErrReentrant = errors.New("operation already in progress for swap")

// Barrier is a set of per-key try-locks. It never blocks: a second caller
// for a held key fails at once.
type Barrier struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates an empty barrier.
func New() *Barrier {
	return &Barrier{held: make(map[string]struct{})}
}

// Acquire takes the lock for key and returns its release func.
func (b *Barrier) Acquire(key string) (release func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, busy := b.held[key]; busy {
		return nil, ErrReentrant
	}
	b.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.held, key)
			b.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked.
func (b *Barrier) Held(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.held[key]
	return ok
}

// Len returns the number of held keys.
func (b *Barrier) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.held)
}
