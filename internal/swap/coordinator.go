// Package swap implements the swap lifecycle: initiate, complete and refund
// of hash- and time-locked exchanges between two principals.
package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/access"
	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/internal/barrier"
	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/custody"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/registry"
	"github.com/klingon-exchange/klingon-swap/internal/timelock"
	"github.com/klingon-exchange/klingon-swap/internal/txn"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

// Operation names used in errors, metrics and logs.
const (
	OpInitiate = "initiate"
	OpComplete = "complete"
	OpRefund   = "refund"
	OpGet      = "get"
)

// CoordinatorConfig holds the coordinator's collaborators and policy.
type CoordinatorConfig struct {
	Registry registry.Registry
	Custody  *custody.Adapter
	Runner   txn.Runner // must cover Registry and every ledger behind Custody

	Clock   timelock.Clock  // default SystemClock
	Policy  timelock.Policy // timeout bounds
	Access  access.Provider // default AllowAll
	Audit   audit.Sink      // default audit.Nop
	Metrics Metrics         // default NopMetrics
	Logger  *logging.Logger

	IDScheme      IDScheme
	DefaultScheme commitment.Scheme

	// StrictCompleteWindow rejects complete once the deadline has passed.
	StrictCompleteWindow bool
}

// Coordinator drives swaps through their lifecycle.
type Coordinator struct {
	registry registry.Registry
	custody  *custody.Adapter
	runner   txn.Runner
	barrier  *barrier.Barrier

	clock   timelock.Clock
	policy  timelock.Policy
	access  access.Provider
	audit   audit.Sink
	metrics Metrics
	log     *logging.Logger

	idScheme      IDScheme
	defaultScheme commitment.Scheme
	strict        bool
}

// NewCoordinator creates a new swap coordinator.
func NewCoordinator(cfg *CoordinatorConfig) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Custody == nil {
		return nil, fmt.Errorf("custody adapter is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("atomic runner is required")
	}

	idScheme, err := ParseIDScheme(string(cfg.IDScheme))
	if err != nil {
		return nil, err
	}
	defaultScheme, err := commitment.ParseScheme(string(cfg.DefaultScheme))
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		registry:      cfg.Registry,
		custody:       cfg.Custody,
		runner:        cfg.Runner,
		barrier:       barrier.New(),
		clock:         cfg.Clock,
		policy:        cfg.Policy,
		access:        cfg.Access,
		audit:         cfg.Audit,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
		idScheme:      idScheme,
		defaultScheme: defaultScheme,
		strict:        cfg.StrictCompleteWindow,
	}
	if c.clock == nil {
		c.clock = timelock.SystemClock{}
	}
	if c.access == nil {
		c.access = access.AllowAll{}
	}
	if c.audit == nil {
		c.audit = audit.Nop{}
	}
	if c.metrics == nil {
		c.metrics = NopMetrics{}
	}
	if c.log == nil {
		c.log = logging.GetDefault()
	}
	c.log = c.log.Component("swap")

	return c, nil
}

// Custody returns the custody adapter.
func (c *Coordinator) Custody() *custody.Adapter { return c.custody }

// Clock returns the coordinator's time source.
func (c *Coordinator) Clock() timelock.Clock { return c.clock }

// IDScheme returns the configured id derivation.
func (c *Coordinator) IDScheme() IDScheme { return c.idScheme }

// DefaultScheme returns the commitment scheme used when a request names none.
func (c *Coordinator) DefaultScheme() commitment.Scheme { return c.defaultScheme }

// InitiateParams are the terms of a new swap.
type InitiateParams struct {
	Initiator       string
	Participant     string
	Operator        string // optional
	InitiatorLegs   []ledger.Leg
	ParticipantLegs []ledger.Leg
	Commitment      []byte
	Scheme          commitment.Scheme // empty means the coordinator default
	Timeout         time.Duration
}

// Initiate escrows the initiator's legs and records a new swap.
func (c *Coordinator) Initiate(ctx context.Context, p InitiateParams) (id string, err error) {
	start := time.Now()
	defer func() { c.observe(OpInitiate, start, err) }()

	scheme, err := c.validateInitiate(&p)
	if err != nil {
		return "", err
	}
	if err := access.Check(ctx, c.access, access.ActionInitiate, principals(p.Initiator, p.Participant, p.Operator)...); err != nil {
		return "", fail(OpInitiate, ErrAuthorization, err)
	}

	var s *registry.Swap
	err = c.atomically(ctx, OpInitiate, func(ctx context.Context) error {
		id, nonce, err := c.deriveID(ctx, &p)
		if err != nil {
			return err
		}

		release, err := c.barrier.Acquire(id)
		if err != nil {
			return fail(OpInitiate, ErrState, err)
		}
		defer release()

		if _, err := c.registry.Get(ctx, id); err == nil {
			return fail(OpInitiate, ErrState, fmt.Errorf("%w: %s", ErrSwapExists, id))
		} else if !errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("failed to look up swap: %w", err)
		}

		now := c.clock.Now()
		s = &registry.Swap{
			ID:              id,
			Initiator:       p.Initiator,
			Participant:     p.Participant,
			Operator:        p.Operator,
			InitiatorLegs:   append([]ledger.Leg(nil), p.InitiatorLegs...),
			ParticipantLegs: append([]ledger.Leg(nil), p.ParticipantLegs...),
			Commitment:      append([]byte(nil), p.Commitment...),
			Scheme:          scheme,
			CreatedAt:       now,
			Timeout:         p.Timeout,
			State:           registry.StateInitiated,
			Nonce:           nonce,
			UpdatedAt:       now,
		}

		// Record first so a callback during the pull sees the swap, and the
		// barrier, rather than a free id.
		if err := c.registry.Create(ctx, s); err != nil {
			if errors.Is(err, registry.ErrExists) {
				return fail(OpInitiate, ErrState, fmt.Errorf("%w: %s", ErrSwapExists, id))
			}
			return fmt.Errorf("failed to record swap: %w", err)
		}
		if err := c.custody.Pull(ctx, p.Initiator, p.InitiatorLegs); err != nil {
			return fail(OpInitiate, ErrTransfer, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	c.metrics.AddOpen(1)
	c.log.Info("Swap initiated",
		"swap_id", s.ID,
		"initiator", s.Initiator,
		"participant", s.Participant,
		"legs", len(s.InitiatorLegs),
		"deadline", s.Deadline().Format(time.RFC3339),
	)
	c.emit(ctx, audit.EventInitiated, s, s.Initiator)
	return s.ID, nil
}

// Complete reveals secret, delivers the participant's legs to the initiator
// and releases custody to the participant, as one unit.
func (c *Coordinator) Complete(ctx context.Context, id, caller string, secret []byte) (err error) {
	start := time.Now()
	defer func() { c.observe(OpComplete, start, err) }()

	release, err := c.barrier.Acquire(id)
	if err != nil {
		return fail(OpComplete, ErrState, err)
	}
	defer release()

	var s *registry.Swap
	err = c.atomically(ctx, OpComplete, func(ctx context.Context) error {
		var err error
		s, err = c.load(ctx, OpComplete, id)
		if err != nil {
			return err
		}

		if err := access.CheckRole(access.ActionComplete, caller, parties(s)); err != nil {
			return fail(OpComplete, ErrAuthorization, err)
		}
		if err := access.Check(ctx, c.access, access.ActionComplete, caller); err != nil {
			return fail(OpComplete, ErrAuthorization, err)
		}
		if err := s.Scheme.Verify(secret, s.Commitment); err != nil {
			return fail(OpComplete, ErrCommitment, err)
		}

		now := c.clock.Now()
		if c.strict {
			if err := timelock.CheckOpen(now, s.Deadline()); err != nil {
				return fail(OpComplete, ErrTiming, err)
			}
		}

		s.State = registry.StateCompleted
		s.Secret = append([]byte(nil), secret...)
		s.UpdatedAt = now
		s.FinalizedAt = now
		if err := c.registry.Update(ctx, s); err != nil {
			return c.updateFailed(OpComplete, err)
		}

		if err := c.custody.Direct(ctx, s.Participant, s.Initiator, s.ParticipantLegs); err != nil {
			return fail(OpComplete, ErrTransfer, err)
		}
		if err := c.custody.Push(ctx, s.Participant, s.InitiatorLegs); err != nil {
			return fail(OpComplete, ErrTransfer, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.metrics.AddOpen(-1)
	c.log.Info("Swap completed", "swap_id", id, "caller", caller)
	c.emit(ctx, audit.EventCompleted, s, caller)
	return nil
}

// Refund returns custody to the initiator once the deadline has passed.
func (c *Coordinator) Refund(ctx context.Context, id, caller string) (err error) {
	start := time.Now()
	defer func() { c.observe(OpRefund, start, err) }()

	release, err := c.barrier.Acquire(id)
	if err != nil {
		return fail(OpRefund, ErrState, err)
	}
	defer release()

	var s *registry.Swap
	err = c.atomically(ctx, OpRefund, func(ctx context.Context) error {
		var err error
		s, err = c.load(ctx, OpRefund, id)
		if err != nil {
			return err
		}

		// The deadline gates every caller, so it is checked before roles.
		now := c.clock.Now()
		if err := timelock.CheckRefundable(now, s.Deadline()); err != nil {
			return fail(OpRefund, ErrTiming, err)
		}
		if err := access.CheckRole(access.ActionRefund, caller, parties(s)); err != nil {
			return fail(OpRefund, ErrAuthorization, err)
		}
		if err := access.Check(ctx, c.access, access.ActionRefund, caller); err != nil {
			return fail(OpRefund, ErrAuthorization, err)
		}

		s.State = registry.StateRefunded
		s.UpdatedAt = now
		s.FinalizedAt = now
		if err := c.registry.Update(ctx, s); err != nil {
			return c.updateFailed(OpRefund, err)
		}

		if err := c.custody.Push(ctx, s.Initiator, s.InitiatorLegs); err != nil {
			return fail(OpRefund, ErrTransfer, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.metrics.AddOpen(-1)
	c.log.Info("Swap refunded", "swap_id", id, "caller", caller)
	c.emit(ctx, audit.EventRefunded, s, caller)
	return nil
}

// Get returns a read-only view of a swap.
func (c *Coordinator) Get(ctx context.Context, id string) (SwapView, error) {
	s, err := c.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return SwapView{}, fail(OpGet, ErrState, fmt.Errorf("%w: %s", ErrSwapNotFound, id))
		}
		return SwapView{}, fmt.Errorf("failed to get swap: %w", err)
	}
	return NewView(s), nil
}

// List returns views of the swaps matching f.
func (c *Coordinator) List(ctx context.Context, f registry.Filter) ([]SwapView, error) {
	swaps, err := c.registry.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	return views(swaps), nil
}

// Expired returns initiated swaps whose deadline has passed.
func (c *Coordinator) Expired(ctx context.Context, limit int) ([]SwapView, error) {
	swaps, err := c.registry.Expired(ctx, c.clock.Now(), "", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired swaps: %w", err)
	}
	return views(swaps), nil
}

// SyncOpenGauge sets the open swap gauge from the registry.
func (c *Coordinator) SyncOpenGauge(ctx context.Context) error {
	open, err := c.registry.List(ctx, registry.Filter{State: registry.StateInitiated})
	if err != nil {
		return err
	}
	c.metrics.SetOpen(len(open))
	return nil
}

// validateInitiate checks the terms and returns the effective scheme.
func (c *Coordinator) validateInitiate(p *InitiateParams) (commitment.Scheme, error) {
	invalid := func(err error) (commitment.Scheme, error) {
		return "", fail(OpInitiate, ErrValidation, err)
	}

	if p.Initiator == "" || p.Participant == "" {
		return invalid(ErrEmptyAccount)
	}
	if p.Initiator == p.Participant {
		return invalid(ErrSameParties)
	}
	if p.Operator != "" && (p.Operator == p.Initiator || p.Operator == p.Participant) {
		return invalid(ErrOperatorIsParty)
	}
	custodian := c.custody.Account()
	if p.Initiator == custodian || p.Participant == custodian || p.Operator == custodian {
		return invalid(ErrCustodyIsParty)
	}

	scheme := p.Scheme
	if scheme == "" {
		scheme = c.defaultScheme
	}
	scheme, err := commitment.ParseScheme(string(scheme))
	if err != nil {
		return invalid(err)
	}
	if err := scheme.CheckCommitment(p.Commitment); err != nil {
		return invalid(err)
	}

	if err := c.policy.Validate(p.Timeout); err != nil {
		return invalid(err)
	}
	if err := c.custody.Validate(p.InitiatorLegs); err != nil {
		return invalid(fmt.Errorf("initiator legs: %w", err))
	}
	if err := c.custody.Validate(p.ParticipantLegs); err != nil {
		return invalid(fmt.Errorf("participant legs: %w", err))
	}
	return scheme, nil
}

func (c *Coordinator) deriveID(ctx context.Context, p *InitiateParams) (string, uint64, error) {
	switch c.idScheme {
	case IDLegacy:
		return DeriveID(p.Initiator, p.Participant, p.Commitment, nil), 0, nil
	case IDRandom:
		return DeriveID(p.Initiator, p.Participant, p.Commitment, randomNonce()), 0, nil
	default:
		n, err := c.registry.NextNonce(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("failed to allocate nonce: %w", err)
		}
		return DeriveID(p.Initiator, p.Participant, p.Commitment, counterNonce(n)), n, nil
	}
}

// load fetches a swap that must still be initiated.
func (c *Coordinator) load(ctx context.Context, op, id string) (*registry.Swap, error) {
	s, err := c.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fail(op, ErrState, fmt.Errorf("%w: %s", ErrSwapNotFound, id))
		}
		return nil, fmt.Errorf("failed to load swap: %w", err)
	}
	if s.State != registry.StateInitiated {
		return nil, fail(op, ErrState, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, id, s.State))
	}
	return s, nil
}

// atomically runs fn in one host scope. A scope that could not be entered
// means another transition holds the host, which is a state conflict.
func (c *Coordinator) atomically(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.runner.Atomically(ctx, fn)
	var se *Error
	if errors.Is(err, txn.ErrBusy) && !errors.As(err, &se) {
		return fail(op, ErrState, err)
	}
	return err
}

func (c *Coordinator) updateFailed(op string, err error) error {
	if errors.Is(err, registry.ErrInvalidTransition) {
		return fail(op, ErrState, err)
	}
	return fmt.Errorf("failed to update swap: %w", err)
}

func (c *Coordinator) observe(op string, start time.Time, err error) {
	if err != nil {
		c.metrics.ObserveFailure(op, KindName(err))
		c.log.Debug("Swap operation failed", "op", op, "kind", KindName(err), "error", err)
		return
	}
	c.metrics.ObserveTransition(op, time.Since(start))
}

// emit notifies the audit sink. Failures are logged only.
func (c *Coordinator) emit(ctx context.Context, typ audit.EventType, s *registry.Swap, actor string) {
	e := audit.NewEvent(typ, s.ID, c.clock.Now())
	e.Actor = actor
	e.Initiator = s.Initiator
	e.Participant = s.Participant
	e.Operator = s.Operator
	e.State = string(s.State)
	e.Deadline = s.Deadline()

	if err := c.audit.Notify(ctx, e); err != nil {
		c.log.Warn("Audit notification failed", "swap_id", s.ID, "type", typ, "error", err)
	}
}

func parties(s *registry.Swap) access.Parties {
	return access.Parties{Initiator: s.Initiator, Participant: s.Participant, Operator: s.Operator}
}

func principals(accounts ...string) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func views(swaps []*registry.Swap) []SwapView {
	out := make([]SwapView, 0, len(swaps))
	for _, s := range swaps {
		out = append(out, NewView(s))
	}
	return out
}
