// Package registry stores swap records keyed by id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/timelock"
	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
)

// Registry errors
var (
	ErrNotFound          = errors.New("swap not found")
	ErrExists            = errors.New("swap already exists")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is the lifecycle state of a swap.
type State string

const (
	StateInitiated State = "initiated"
	StateCompleted State = "completed"
	StateRefunded  State = "refunded"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRefunded
}

// ParseState parses a state name. The empty string is returned as is.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "", StateInitiated, StateCompleted, StateRefunded:
		return State(s), nil
	default:
		return "", fmt.Errorf("unknown swap state %q", s)
	}
}

// CheckTransition allows only Initiated to a terminal state.
func CheckTransition(from, to State) error {
	if from == StateInitiated && to.Terminal() {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Swap is the central swap record.
type Swap struct {
	ID          string
	Initiator   string
	Participant string
	Operator    string // optional

	InitiatorLegs   []ledger.Leg
	ParticipantLegs []ledger.Leg

	Commitment []byte
	Scheme     commitment.Scheme
	Secret     []byte // set once completed

	CreatedAt time.Time
	Timeout   time.Duration

	State       State
	Nonce       uint64
	UpdatedAt   time.Time
	FinalizedAt time.Time
}

// Deadline is the instant from which the swap may be refunded.
func (s *Swap) Deadline() time.Time {
	return timelock.Deadline(s.CreatedAt, s.Timeout)
}

// Involves reports whether account is a party to the swap.
func (s *Swap) Involves(account string) bool {
	return account != "" && (account == s.Initiator || account == s.Participant || account == s.Operator)
}

// Clone returns a deep copy.
func (s *Swap) Clone() *Swap {
	c := *s
	c.InitiatorLegs = append([]ledger.Leg(nil), s.InitiatorLegs...)
	c.ParticipantLegs = append([]ledger.Leg(nil), s.ParticipantLegs...)
	c.Commitment = helpers.CloneBytes(s.Commitment)
	c.Secret = helpers.CloneBytes(s.Secret)
	return &c
}

// Filter narrows List.
type Filter struct {
	State   State
	Account string
	Limit   int
}

func (f Filter) match(s *Swap) bool {
	if f.State != "" && s.State != f.State {
		return false
	}
	if f.Account != "" && !s.Involves(f.Account) {
		return false
	}
	return true
}

// Registry is the durable mapping from swap id to record.
type Registry interface {
	// Create stores a new swap. It fails with ErrExists if the id is taken.
	Create(ctx context.Context, s *Swap) error
	// Get returns a copy of the swap.
	Get(ctx context.Context, id string) (*Swap, error)
	// Update stores a state transition of an existing swap.
	Update(ctx context.Context, s *Swap) error
	// List returns swaps in creation order.
	List(ctx context.Context, f Filter) ([]*Swap, error)
	// Expired returns initiated swaps whose deadline is not after now, in
	// creation order. A non-empty after resumes past that swap id.
	Expired(ctx context.Context, now time.Time, after string, limit int) ([]*Swap, error)
	// NextNonce returns a value never returned before.
	NextNonce(ctx context.Context) (uint64, error)
}
