package ledger

import (
	"context"

	"github.com/klingon-exchange/klingon-swap/internal/txn"
)

// Book is the balance store behind a Ledger. A Book's Atomically scope must
// cover every read and write made through the context it hands out.
type Book interface {
	txn.Runner

	Balance(ctx context.Context, account, asset string) (uint64, error)
	SetBalance(ctx context.Context, account, asset string, amount uint64) error
	Allowance(ctx context.Context, owner, spender, asset string) (uint64, error)
	SetAllowance(ctx context.Context, owner, spender, asset string, amount uint64) error
	Supply(ctx context.Context, asset string) (uint64, error)
}
