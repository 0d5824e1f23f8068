package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sampleSwap(id string, created time.Time) *SwapRecord {
	return &SwapRecord{
		ID:          id,
		Initiator:   "alice",
		Participant: "bob",
		Operator:    "op",
		InitiatorLegs: []LegRecord{
			{Ledger: "gold", Asset: "coin", Quantity: 100},
			{Ledger: "art", Asset: "painting-7", Quantity: 1},
		},
		ParticipantLegs: []LegRecord{
			{Ledger: "silver", Asset: "coin", Quantity: 250},
		},
		Commitment: "ab",
		Scheme:     "sha256",
		CreatedAt:  created,
		Timeout:    time.Hour,
		Deadline:   created.Add(time.Hour),
		State:      "initiated",
		Nonce:      1,
	}
}

func TestCreateAndGetSwap(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	created := time.Unix(1700000000, 123).UTC()

	rec := sampleSwap("0x01", created)
	if err := store.CreateSwap(ctx, rec); err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}

	got, err := store.GetSwap(ctx, "0x01")
	if err != nil {
		t.Fatalf("GetSwap() error = %v", err)
	}
	if got.Initiator != "alice" || got.Participant != "bob" || got.Operator != "op" {
		t.Errorf("parties = %s/%s/%s", got.Initiator, got.Participant, got.Operator)
	}
	if !got.CreatedAt.Equal(created) || !got.Deadline.Equal(created.Add(time.Hour)) {
		t.Errorf("times = %v / %v", got.CreatedAt, got.Deadline)
	}
	if got.Timeout != time.Hour {
		t.Errorf("Timeout = %v, want 1h", got.Timeout)
	}
	if len(got.InitiatorLegs) != 2 || got.InitiatorLegs[1].Asset != "painting-7" {
		t.Errorf("InitiatorLegs = %+v", got.InitiatorLegs)
	}
	if len(got.ParticipantLegs) != 1 || got.ParticipantLegs[0].Quantity != 250 {
		t.Errorf("ParticipantLegs = %+v", got.ParticipantLegs)
	}
	if got.Secret != "" || !got.FinalizedAt.IsZero() {
		t.Errorf("unexpected finalization data: %+v", got)
	}
}

func TestCreateSwapDuplicate(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateSwap(ctx, sampleSwap("0x01", time.Now())); err != nil {
		t.Fatal(err)
	}
	err := store.CreateSwap(ctx, sampleSwap("0x01", time.Now()))
	if !errors.Is(err, ErrSwapExists) {
		t.Errorf("CreateSwap() duplicate error = %v, want ErrSwapExists", err)
	}
}

func TestGetSwapNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetSwap(context.Background(), "missing")
	if !errors.Is(err, ErrSwapNotFound) {
		t.Errorf("GetSwap() error = %v, want ErrSwapNotFound", err)
	}
}

func TestUpdateSwap(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	created := time.Unix(1700000000, 0).UTC()

	rec := sampleSwap("0x01", created)
	if err := store.CreateSwap(ctx, rec); err != nil {
		t.Fatal(err)
	}

	rec.State = "completed"
	rec.Secret = "deadbeef"
	rec.UpdatedAt = created.Add(time.Minute)
	rec.FinalizedAt = created.Add(time.Minute)
	if err := store.UpdateSwap(ctx, rec); err != nil {
		t.Fatalf("UpdateSwap() error = %v", err)
	}

	got, _ := store.GetSwap(ctx, "0x01")
	if got.State != "completed" || got.Secret != "deadbeef" {
		t.Errorf("state/secret = %s/%s", got.State, got.Secret)
	}
	if !got.FinalizedAt.Equal(created.Add(time.Minute)) {
		t.Errorf("FinalizedAt = %v", got.FinalizedAt)
	}

	missing := sampleSwap("0x02", created)
	if err := store.UpdateSwap(ctx, missing); !errors.Is(err, ErrSwapNotFound) {
		t.Errorf("UpdateSwap(missing) error = %v, want ErrSwapNotFound", err)
	}
}

func TestListSwaps(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	a := sampleSwap("0xa", base)
	b := sampleSwap("0xb", base.Add(time.Second))
	b.Participant = "carol"
	c := sampleSwap("0xc", base.Add(2*time.Second))
	c.State = "refunded"
	for _, rec := range []*SwapRecord{a, b, c} {
		if err := store.CreateSwap(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter SwapFilter
		want   []string
	}{
		{"all", SwapFilter{}, []string{"0xa", "0xb", "0xc"}},
		{"by state", SwapFilter{State: "initiated"}, []string{"0xa", "0xb"}},
		{"by account", SwapFilter{Account: "carol"}, []string{"0xb"}},
		{"by deadline", SwapFilter{DeadlineBefore: base.Add(time.Hour)}, []string{"0xa"}},
		{"limit", SwapFilter{Limit: 2}, []string{"0xa", "0xb"}},
		{"after", SwapFilter{After: "0xa"}, []string{"0xb", "0xc"}},
		{"after with limit", SwapFilter{After: "0xa", State: "initiated", Limit: 1}, []string{"0xb"}},
		{"after last", SwapFilter{After: "0xc"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListSwaps(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListSwaps() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListSwaps() returned %d swaps, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.ID != tt.want[i] {
					t.Errorf("swap[%d] = %s, want %s", i, rec.ID, tt.want[i])
				}
				if len(rec.InitiatorLegs) != 2 {
					t.Errorf("swap[%d] legs not loaded", i)
				}
			}
		})
	}

	counts, err := store.CountSwaps(ctx)
	if err != nil {
		t.Fatalf("CountSwaps() error = %v", err)
	}
	if counts["initiated"] != 2 || counts["refunded"] != 1 {
		t.Errorf("CountSwaps() = %v", counts)
	}
}

func TestCreateSwapRollsBackInScope(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	_ = store.Atomically(ctx, func(ctx context.Context) error {
		if err := store.CreateSwap(ctx, sampleSwap("0x01", time.Now())); err != nil {
			return err
		}
		return errors.New("abort")
	})

	if _, err := store.GetSwap(ctx, "0x01"); !errors.Is(err, ErrSwapNotFound) {
		t.Errorf("GetSwap() error = %v, want ErrSwapNotFound", err)
	}
}
