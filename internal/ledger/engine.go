package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/klingon-exchange/klingon-swap/internal/txn"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

// Config configures a Ledger.
type Config struct {
	Name      string
	Kind      Kind
	Custodian string // account that holds escrowed assets
	AllowMint bool
	Decimals  uint8 // display only
	Logger    *logging.Logger
}

// Ledger is an AssetLedger over a Book.
type Ledger struct {
	name      string
	kind      Kind
	custodian string
	allowMint bool
	decimals  uint8
	book      Book
	log       *logging.Logger

	hookMu sync.RWMutex
	hooks  []Hook
}

// New creates a ledger over book.
func New(cfg Config, book Book) (*Ledger, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("ledger name is required")
	}
	if cfg.Custodian == "" {
		return nil, fmt.Errorf("ledger %s: custodian account is required", cfg.Name)
	}
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}

	return &Ledger{
		name:      cfg.Name,
		kind:      kind,
		custodian: cfg.Custodian,
		allowMint: cfg.AllowMint,
		decimals:  cfg.Decimals,
		book:      book,
		log:       log.Component("ledger").With("ledger", cfg.Name),
	}, nil
}

// Name returns the ledger name.
func (l *Ledger) Name() string { return l.name }

// Kind returns the ledger's asset model.
func (l *Ledger) Kind() Kind { return l.kind }

// Custodian returns the custody account.
func (l *Ledger) Custodian() string { return l.custodian }

// Decimals returns the display precision of quantities.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// OnTransfer registers a hook that observes every movement.
func (l *Ledger) OnTransfer(h Hook) {
	l.hookMu.Lock()
	defer l.hookMu.Unlock()
	l.hooks = append(l.hooks, h)
}

// Snapshot implements txn.Snapshotter when the book does.
func (l *Ledger) Snapshot() func() {
	if s, ok := l.book.(txn.Snapshotter); ok {
		return s.Snapshot()
	}
	return func() {}
}

// ValidateLeg checks that leg can be moved on this ledger.
func (l *Ledger) ValidateLeg(leg Leg) error {
	if leg.Ledger != l.name {
		return fmt.Errorf("%w: %s", ErrWrongLedger, leg.Ledger)
	}
	if leg.Asset == "" {
		return ErrEmptyAsset
	}
	if leg.Quantity == 0 {
		return fmt.Errorf("%w: zero", ErrInvalidQuantity)
	}
	if leg.Quantity > MaxQuantity {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidQuantity, leg.Quantity, uint64(MaxQuantity))
	}
	if l.kind == KindNonFungible && leg.Quantity != 1 {
		return fmt.Errorf("%w: non-fungible quantity must be 1, got %d", ErrInvalidQuantity, leg.Quantity)
	}
	return nil
}

// BalanceOf returns the balance of account in asset.
func (l *Ledger) BalanceOf(ctx context.Context, account, asset string) (uint64, error) {
	return l.book.Balance(ctx, account, asset)
}

// Allowance returns how much of asset spender may move for owner.
func (l *Ledger) Allowance(ctx context.Context, owner, spender, asset string) (uint64, error) {
	return l.book.Allowance(ctx, owner, spender, asset)
}

// Approve sets the allowance of spender over owner's asset.
func (l *Ledger) Approve(ctx context.Context, owner, spender, asset string, amount uint64) error {
	if owner == "" || spender == "" {
		return ErrEmptyAccount
	}
	if asset == "" {
		return ErrEmptyAsset
	}
	if amount > MaxQuantity {
		return fmt.Errorf("%w: allowance %d exceeds %d", ErrInvalidQuantity, amount, uint64(MaxQuantity))
	}
	return l.book.Atomically(ctx, func(ctx context.Context) error {
		return l.book.SetAllowance(ctx, owner, spender, asset, amount)
	})
}

// Mint credits new units of asset to account. Non-fungible assets can be
// minted once, with quantity 1.
func (l *Ledger) Mint(ctx context.Context, account, asset string, quantity uint64) error {
	if !l.allowMint {
		return ErrMintDisabled
	}
	return l.mint(ctx, account, asset, quantity)
}

// Seed credits an initial balance unless asset already has supply, so it
// can run on every start. It ignores AllowMint.
func (l *Ledger) Seed(ctx context.Context, account, asset string, quantity uint64) (bool, error) {
	var seeded bool
	err := l.book.Atomically(ctx, func(ctx context.Context) error {
		supply, err := l.book.Supply(ctx, asset)
		if err != nil {
			return err
		}
		if supply > 0 {
			return nil
		}
		seeded = true
		return l.mint(ctx, account, asset, quantity)
	})
	if err != nil {
		return false, err
	}
	return seeded, nil
}

func (l *Ledger) mint(ctx context.Context, account, asset string, quantity uint64) error {
	if account == "" {
		return ErrEmptyAccount
	}
	if err := l.ValidateLeg(Leg{Ledger: l.name, Asset: asset, Quantity: quantity}); err != nil {
		return err
	}

	return l.book.Atomically(ctx, func(ctx context.Context) error {
		if l.kind == KindNonFungible {
			supply, err := l.book.Supply(ctx, asset)
			if err != nil {
				return err
			}
			if supply > 0 {
				return fmt.Errorf("%w: %s", ErrAlreadyMinted, asset)
			}
		}
		bal, err := l.book.Balance(ctx, account, asset)
		if err != nil {
			return err
		}
		if bal > MaxQuantity-quantity {
			return ErrOverflow
		}
		l.log.Debug("Minted", "account", account, "asset", asset, "quantity", quantity)
		return l.book.SetBalance(ctx, account, asset, bal+quantity)
	})
}

// Transfer moves the owner's own asset to another account.
func (l *Ledger) Transfer(ctx context.Context, from, to string, legs []Leg) error {
	return l.apply(ctx, "transfer", l.movements(from, to, "", legs))
}

// PullIntoCustody implements AssetLedger.
func (l *Ledger) PullIntoCustody(ctx context.Context, from string, legs []Leg) error {
	return l.apply(ctx, "pull", l.movements(from, l.custodian, l.custodian, legs))
}

// PushFromCustody implements AssetLedger.
func (l *Ledger) PushFromCustody(ctx context.Context, to string, legs []Leg) error {
	return l.apply(ctx, "push", l.movements(l.custodian, to, "", legs))
}

// DirectTransfer implements AssetLedger.
func (l *Ledger) DirectTransfer(ctx context.Context, from, to string, legs []Leg) error {
	return l.apply(ctx, "direct", l.movements(from, to, l.custodian, legs))
}

func (l *Ledger) movements(from, to, spender string, legs []Leg) []Movement {
	moves := make([]Movement, 0, len(legs))
	for _, leg := range legs {
		moves = append(moves, Movement{
			Ledger:   leg.Ledger,
			From:     from,
			To:       to,
			Asset:    leg.Asset,
			Quantity: leg.Quantity,
			Spender:  spender,
		})
	}
	return moves
}

// apply performs moves, then runs hooks, all in one scope of the book.
func (l *Ledger) apply(ctx context.Context, op string, moves []Movement) error {
	return l.book.Atomically(ctx, func(ctx context.Context) error {
		for _, m := range moves {
			if err := l.move(ctx, m); err != nil {
				return fmt.Errorf("%s %s: %w", op, m, err)
			}
		}

		l.hookMu.RLock()
		hooks := append([]Hook(nil), l.hooks...)
		l.hookMu.RUnlock()

		for _, m := range moves {
			for _, h := range hooks {
				if err := h(ctx, m); err != nil {
					return fmt.Errorf("%s %s: %w: %w", op, m, ErrHookRejected, err)
				}
			}
		}

		l.log.Debug("Applied movements", "op", op, "count", len(moves))
		return nil
	})
}

func (l *Ledger) move(ctx context.Context, m Movement) error {
	if m.From == "" || m.To == "" {
		return ErrEmptyAccount
	}
	if err := l.ValidateLeg(Leg{Ledger: m.Ledger, Asset: m.Asset, Quantity: m.Quantity}); err != nil {
		return err
	}

	if m.Spender != "" && m.Spender != m.From {
		allowance, err := l.book.Allowance(ctx, m.From, m.Spender, m.Asset)
		if err != nil {
			return err
		}
		if allowance < m.Quantity {
			return fmt.Errorf("%w: %s allows %s %d, need %d", ErrInsufficientAllowance, m.From, m.Spender, allowance, m.Quantity)
		}
		if err := l.book.SetAllowance(ctx, m.From, m.Spender, m.Asset, allowance-m.Quantity); err != nil {
			return err
		}
	}

	fromBal, err := l.book.Balance(ctx, m.From, m.Asset)
	if err != nil {
		return err
	}
	if fromBal < m.Quantity {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientBalance, m.From, fromBal, m.Quantity)
	}
	if m.From == m.To {
		return nil
	}

	toBal, err := l.book.Balance(ctx, m.To, m.Asset)
	if err != nil {
		return err
	}
	if toBal > MaxQuantity-m.Quantity {
		return ErrOverflow
	}

	if err := l.book.SetBalance(ctx, m.From, m.Asset, fromBal-m.Quantity); err != nil {
		return err
	}
	return l.book.SetBalance(ctx, m.To, m.Asset, toBal+m.Quantity)
}
