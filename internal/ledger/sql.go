package ledger

import (
	"context"

	"github.com/klingon-exchange/klingon-swap/internal/storage"
)

// SQLBook is a Book persisted in the node database. Several ledgers share one
// database, separated by ledger name.
type SQLBook struct {
	store  *storage.Storage
	ledger string
}

// NewSQLBook creates a book for the named ledger.
func NewSQLBook(store *storage.Storage, ledger string) *SQLBook {
	return &SQLBook{store: store, ledger: ledger}
}

// NewSQL creates a ledger persisted in store.
func NewSQL(cfg Config, store *storage.Storage) (*Ledger, error) {
	return New(cfg, NewSQLBook(store, cfg.Name))
}

func (b *SQLBook) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.store.Atomically(ctx, fn)
}

func (b *SQLBook) Balance(ctx context.Context, account, asset string) (uint64, error) {
	return b.store.GetBalance(ctx, b.ledger, account, asset)
}

func (b *SQLBook) SetBalance(ctx context.Context, account, asset string, amount uint64) error {
	return b.store.SetBalance(ctx, b.ledger, account, asset, amount)
}

func (b *SQLBook) Allowance(ctx context.Context, owner, spender, asset string) (uint64, error) {
	return b.store.GetAllowance(ctx, b.ledger, owner, spender, asset)
}

func (b *SQLBook) SetAllowance(ctx context.Context, owner, spender, asset string, amount uint64) error {
	return b.store.SetAllowance(ctx, b.ledger, owner, spender, asset, amount)
}

func (b *SQLBook) Supply(ctx context.Context, asset string) (uint64, error) {
	return b.store.Supply(ctx, b.ledger, asset)
}
