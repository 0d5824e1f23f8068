package ledger

import (
	"context"
	"sync"

	"github.com/klingon-exchange/klingon-swap/internal/txn"
)

type balanceKey struct{ account, asset string }

type allowanceKey struct{ owner, spender, asset string }

// MemoryBook is an in-memory Book. It takes part in a txn.Journal through
// Snapshot.
type MemoryBook struct {
	runner txn.Runner

	mu         sync.Mutex
	balances   map[balanceKey]uint64
	allowances map[allowanceKey]uint64
}

// NewMemoryBook creates an empty book. Scopes run on runner, which must
// snapshot the book; a nil runner gives the book a journal of its own.
func NewMemoryBook(runner txn.Runner) *MemoryBook {
	b := &MemoryBook{
		balances:   make(map[balanceKey]uint64),
		allowances: make(map[allowanceKey]uint64),
	}
	if runner == nil {
		runner = txn.NewJournal(b)
	}
	b.runner = runner
	return b
}

// NewMemory creates a ledger over a fresh MemoryBook.
func NewMemory(cfg Config, runner txn.Runner) (*Ledger, error) {
	return New(cfg, NewMemoryBook(runner))
}

// Atomically implements txn.Runner.
func (b *MemoryBook) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.runner.Atomically(ctx, fn)
}

// Snapshot implements txn.Snapshotter.
func (b *MemoryBook) Snapshot() func() {
	b.mu.Lock()
	balances := make(map[balanceKey]uint64, len(b.balances))
	for k, v := range b.balances {
		balances[k] = v
	}
	allowances := make(map[allowanceKey]uint64, len(b.allowances))
	for k, v := range b.allowances {
		allowances[k] = v
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.balances = balances
		b.allowances = allowances
		b.mu.Unlock()
	}
}

func (b *MemoryBook) Balance(_ context.Context, account, asset string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[balanceKey{account, asset}], nil
}

func (b *MemoryBook) SetBalance(_ context.Context, account, asset string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount == 0 {
		delete(b.balances, balanceKey{account, asset})
		return nil
	}
	b.balances[balanceKey{account, asset}] = amount
	return nil
}

func (b *MemoryBook) Allowance(_ context.Context, owner, spender, asset string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowances[allowanceKey{owner, spender, asset}], nil
}

func (b *MemoryBook) SetAllowance(_ context.Context, owner, spender, asset string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount == 0 {
		delete(b.allowances, allowanceKey{owner, spender, asset})
		return nil
	}
	b.allowances[allowanceKey{owner, spender, asset}] = amount
	return nil
}

func (b *MemoryBook) Supply(_ context.Context, asset string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total uint64
	for k, v := range b.balances {
		if k.asset == asset {
			total += v
		}
	}
	return total, nil
}
