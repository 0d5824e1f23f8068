package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/storage"
	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
)

// NonceCounter is the counters row backing NextNonce.
const NonceCounter = "swap_nonce"

// SQL is a Registry persisted in the node database.
type SQL struct {
	store *storage.Storage
}

// NewSQL creates a registry over store.
func NewSQL(store *storage.Storage) *SQL {
	return &SQL{store: store}
}

func (r *SQL) Create(ctx context.Context, s *Swap) error {
	err := r.store.CreateSwap(ctx, toRecord(s))
	if errors.Is(err, storage.ErrSwapExists) {
		return ErrExists
	}
	return err
}

func (r *SQL) Get(ctx context.Context, id string) (*Swap, error) {
	rec, err := r.store.GetSwap(ctx, id)
	if errors.Is(err, storage.ErrSwapNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

func (r *SQL) Update(ctx context.Context, s *Swap) error {
	return r.store.Atomically(ctx, func(ctx context.Context) error {
		cur, err := r.Get(ctx, s.ID)
		if err != nil {
			return err
		}
		if err := CheckTransition(cur.State, s.State); err != nil {
			return err
		}
		return r.store.UpdateSwap(ctx, toRecord(s))
	})
}

func (r *SQL) List(ctx context.Context, f Filter) ([]*Swap, error) {
	recs, err := r.store.ListSwaps(ctx, storage.SwapFilter{
		State:   string(f.State),
		Account: f.Account,
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

func (r *SQL) Expired(ctx context.Context, now time.Time, after string, limit int) ([]*Swap, error) {
	recs, err := r.store.ListSwaps(ctx, storage.SwapFilter{
		State:          string(StateInitiated),
		DeadlineBefore: now,
		After:          after,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

func (r *SQL) NextNonce(ctx context.Context) (uint64, error) {
	return r.store.NextCounter(ctx, NonceCounter)
}

func toRecord(s *Swap) *storage.SwapRecord {
	var secret string
	if len(s.Secret) > 0 {
		secret = helpers.BytesToHex(s.Secret)
	}
	return &storage.SwapRecord{
		ID:              s.ID,
		Initiator:       s.Initiator,
		Participant:     s.Participant,
		Operator:        s.Operator,
		InitiatorLegs:   toLegRecords(s.InitiatorLegs),
		ParticipantLegs: toLegRecords(s.ParticipantLegs),
		Commitment:      helpers.BytesToHex(s.Commitment),
		Scheme:          string(s.Scheme),
		Secret:          secret,
		CreatedAt:       s.CreatedAt,
		Timeout:         s.Timeout,
		Deadline:        s.Deadline(),
		State:           string(s.State),
		Nonce:           s.Nonce,
		UpdatedAt:       s.UpdatedAt,
		FinalizedAt:     s.FinalizedAt,
	}
}

func fromRecord(rec *storage.SwapRecord) (*Swap, error) {
	c, err := helpers.HexToBytes(rec.Commitment)
	if err != nil {
		return nil, fmt.Errorf("swap %s: bad commitment: %w", rec.ID, err)
	}
	var secret []byte
	if rec.Secret != "" {
		if secret, err = helpers.HexToBytes(rec.Secret); err != nil {
			return nil, fmt.Errorf("swap %s: bad secret: %w", rec.ID, err)
		}
	}
	return &Swap{
		ID:              rec.ID,
		Initiator:       rec.Initiator,
		Participant:     rec.Participant,
		Operator:        rec.Operator,
		InitiatorLegs:   fromLegRecords(rec.InitiatorLegs),
		ParticipantLegs: fromLegRecords(rec.ParticipantLegs),
		Commitment:      c,
		Scheme:          commitment.Scheme(rec.Scheme),
		Secret:          secret,
		CreatedAt:       rec.CreatedAt,
		Timeout:         rec.Timeout,
		State:           State(rec.State),
		Nonce:           rec.Nonce,
		UpdatedAt:       rec.UpdatedAt,
		FinalizedAt:     rec.FinalizedAt,
	}, nil
}

func fromRecords(recs []*storage.SwapRecord) ([]*Swap, error) {
	out := make([]*Swap, 0, len(recs))
	for _, rec := range recs {
		s, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toLegRecords(legs []ledger.Leg) []storage.LegRecord {
	out := make([]storage.LegRecord, len(legs))
	for i, l := range legs {
		out[i] = storage.LegRecord{Ledger: l.Ledger, Asset: l.Asset, Quantity: l.Quantity}
	}
	return out
}

func fromLegRecords(recs []storage.LegRecord) []ledger.Leg {
	out := make([]ledger.Leg, len(recs))
	for i, r := range recs {
		out[i] = ledger.Leg{Ledger: r.Ledger, Asset: r.Asset, Quantity: r.Quantity}
	}
	return out
}
