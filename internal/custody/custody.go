// Package custody moves swap legs between principals and the coordinator's
// custody account across any number of asset ledgers.
//
// A bundle of legs is applied as one unit: legs are grouped by ledger and
// every group runs inside a single atomic scope, so a failure on one ledger
// undoes the movements already made on the others.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/txn"
)

// Custody errors
var (
	ErrTransferFailed  = errors.New("transfer failed")
	ErrUnknownLedger   = errors.New("unknown ledger")
	ErrEmptyBundle     = errors.New("asset bundle is empty")
	ErrDuplicateLeg    = errors.New("duplicate leg in bundle")
	ErrInvalidLeg      = errors.New("invalid leg")
	ErrLedgerExists    = errors.New("ledger already registered")
	ErrMaxLegsExceeded = errors.New("too many legs in bundle")
)

// DefaultMaxLegs caps the number of legs in one bundle.
const DefaultMaxLegs = 64

// Adapter dispatches legs to registered ledgers.
type Adapter struct {
	account string
	runner  txn.Runner
	maxLegs int

	mu      sync.RWMutex
	ledgers map[string]ledger.AssetLedger
}

// Config configures an Adapter.
type Config struct {
	Account string     // custody account, as seen by every ledger
	Runner  txn.Runner // host atomic scope
	MaxLegs int
}

// New creates an adapter with no ledgers.
func New(cfg Config) (*Adapter, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("custody account is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("atomic runner is required")
	}
	maxLegs := cfg.MaxLegs
	if maxLegs <= 0 {
		maxLegs = DefaultMaxLegs
	}
	return &Adapter{
		account: cfg.Account,
		runner:  cfg.Runner,
		maxLegs: maxLegs,
		ledgers: make(map[string]ledger.AssetLedger),
	}, nil
}

// Account returns the custody account.
func (a *Adapter) Account() string { return a.account }

// Register adds a ledger under its name.
func (a *Adapter) Register(l ledger.AssetLedger) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ledgers[l.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrLedgerExists, l.Name())
	}
	a.ledgers[l.Name()] = l
	return nil
}

// Ledger returns a registered ledger.
func (a *Adapter) Ledger(name string) (ledger.AssetLedger, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	l, ok := a.ledgers[name]
	return l, ok
}

// Ledgers returns registered ledger names in sorted order.
func (a *Adapter) Ledgers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.ledgers))
	for name := range a.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a bundle without moving anything.
func (a *Adapter) Validate(legs []ledger.Leg) error {
	if len(legs) == 0 {
		return ErrEmptyBundle
	}
	if len(legs) > a.maxLegs {
		return fmt.Errorf("%w: %d > %d", ErrMaxLegsExceeded, len(legs), a.maxLegs)
	}

	type key struct{ ledger, asset string }
	seen := make(map[key]struct{}, len(legs))
	for i, leg := range legs {
		if leg.Quantity == 0 {
			return fmt.Errorf("%w: leg %d has zero quantity", ErrInvalidLeg, i)
		}
		if leg.Quantity > ledger.MaxQuantity {
			return fmt.Errorf("%w: leg %d quantity %d exceeds %d", ErrInvalidLeg, i, leg.Quantity, uint64(ledger.MaxQuantity))
		}
		if leg.Asset == "" {
			return fmt.Errorf("%w: leg %d has no asset", ErrInvalidLeg, i)
		}
		k := key{leg.Ledger, leg.Asset}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateLeg, leg.Ledger, leg.Asset)
		}
		seen[k] = struct{}{}

		l, ok := a.Ledger(leg.Ledger)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownLedger, leg.Ledger)
		}
		if v, ok := l.(ledger.LegValidator); ok {
			if err := v.ValidateLeg(leg); err != nil {
				return fmt.Errorf("%w: leg %d: %w", ErrInvalidLeg, i, err)
			}
		}
	}
	return nil
}

// Pull moves legs from owner into custody.
func (a *Adapter) Pull(ctx context.Context, owner string, legs []ledger.Leg) error {
	return a.each(ctx, "pull", legs, func(ctx context.Context, l ledger.AssetLedger, group []ledger.Leg) error {
		return l.PullIntoCustody(ctx, owner, group)
	})
}

// Push moves legs out of custody to recipient.
func (a *Adapter) Push(ctx context.Context, recipient string, legs []ledger.Leg) error {
	return a.each(ctx, "push", legs, func(ctx context.Context, l ledger.AssetLedger, group []ledger.Leg) error {
		return l.PushFromCustody(ctx, recipient, group)
	})
}

// Direct moves legs from owner straight to recipient.
func (a *Adapter) Direct(ctx context.Context, owner, recipient string, legs []ledger.Leg) error {
	return a.each(ctx, "direct", legs, func(ctx context.Context, l ledger.AssetLedger, group []ledger.Leg) error {
		return l.DirectTransfer(ctx, owner, recipient, group)
	})
}

// BalanceOf reads a balance on a registered ledger.
func (a *Adapter) BalanceOf(ctx context.Context, ledgerName, account, asset string) (uint64, error) {
	l, ok := a.Ledger(ledgerName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownLedger, ledgerName)
	}
	return l.BalanceOf(ctx, account, asset)
}

// each groups legs by ledger, keeping first-seen order, and applies fn to
// each group inside one atomic scope.
func (a *Adapter) each(ctx context.Context, op string, legs []ledger.Leg, fn func(context.Context, ledger.AssetLedger, []ledger.Leg) error) error {
	var order []string
	groups := make(map[string][]ledger.Leg)
	for _, leg := range legs {
		if _, ok := groups[leg.Ledger]; !ok {
			order = append(order, leg.Ledger)
		}
		groups[leg.Ledger] = append(groups[leg.Ledger], leg)
	}

	err := a.runner.Atomically(ctx, func(ctx context.Context) error {
		for _, name := range order {
			l, ok := a.Ledger(name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownLedger, name)
			}
			if err := fn(ctx, l, groups[name]); err != nil {
				return fmt.Errorf("%s on %s: %w", op, name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}
