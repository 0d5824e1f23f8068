// Package ledger provides the external asset ledgers a swap moves value on.
//
// An AssetLedger holds balances per (account, asset). Owners escrow assets
// by granting the custodian account an allowance; the ledger then lets the
// custodian pull up to that allowance into its own balance, push from its
// balance to anyone, and move assets directly between two accounts on the
// owner's behalf.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Ledger errors
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrWrongLedger           = errors.New("leg belongs to a different ledger")
	ErrEmptyAccount          = errors.New("empty account")
	ErrEmptyAsset            = errors.New("empty asset id")
	ErrHookRejected          = errors.New("transfer rejected by hook")
	ErrMintDisabled          = errors.New("minting is disabled on this ledger")
	ErrAlreadyMinted         = errors.New("non-fungible asset already exists")
	ErrOverflow              = errors.New("balance overflow")
)

// MaxQuantity bounds every quantity, balance and allowance. The sqlite
// book stores them as signed 64-bit integers.
const MaxQuantity = math.MaxInt64

// Kind is the asset model of a ledger.
type Kind string

const (
	// KindFungible ledgers hold divisible quantities.
	KindFungible Kind = "fungible"
	// KindNonFungible ledgers hold unique items; every quantity is 1.
	KindNonFungible Kind = "non_fungible"
)

// ParseKind parses a ledger kind. The empty string means fungible.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindFungible:
		return KindFungible, nil
	case KindNonFungible:
		return KindNonFungible, nil
	default:
		return "", fmt.Errorf("unknown ledger kind %q", s)
	}
}

// Leg is one asset movement inside a swap bundle.
type Leg struct {
	Ledger   string `json:"ledger"`
	Asset    string `json:"asset"`
	Quantity uint64 `json:"quantity"`
}

func (l Leg) String() string {
	return fmt.Sprintf("%d %s/%s", l.Quantity, l.Ledger, l.Asset)
}

// Movement is a single balance change applied by a ledger.
type Movement struct {
	Ledger   string `json:"ledger"`
	From     string `json:"from"`
	To       string `json:"to"`
	Asset    string `json:"asset"`
	Quantity uint64 `json:"quantity"`

	// Spender is the account that authorized the move on behalf of From.
	// Empty when From moves its own assets.
	Spender string `json:"spender,omitempty"`
}

func (m Movement) String() string {
	return fmt.Sprintf("%d %s/%s %s->%s", m.Quantity, m.Ledger, m.Asset, m.From, m.To)
}

// Hook observes movements after a ledger applied them. A hook may call back
// into any component; returning an error rejects the whole ledger call.
// Calls made from a hook must use ctx: it carries the atomic scope of the
// transfer, and a call with any other context waits for that scope to end
// and fails with txn.ErrBusy once its own context is done.
type Hook func(ctx context.Context, m Movement) error

// AssetLedger is the interface the custody adapter drives.
type AssetLedger interface {
	Name() string
	Kind() Kind
	BalanceOf(ctx context.Context, account, asset string) (uint64, error)

	// PullIntoCustody moves legs from an owner into the custodian account.
	PullIntoCustody(ctx context.Context, from string, legs []Leg) error
	// PushFromCustody moves legs out of the custodian account.
	PushFromCustody(ctx context.Context, to string, legs []Leg) error
	// DirectTransfer moves legs between two accounts, authorized by the
	// owner's allowance to the custodian.
	DirectTransfer(ctx context.Context, from, to string, legs []Leg) error
}

// LegValidator is implemented by ledgers that check legs before moving them.
type LegValidator interface {
	ValidateLeg(leg Leg) error
}
