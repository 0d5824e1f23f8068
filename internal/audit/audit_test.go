package audit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/storage"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

func TestNewEvent(t *testing.T) {
	now := time.Now()
	a := NewEvent(EventInitiated, "0x01", now)
	b := NewEvent(EventInitiated, "0x01", now)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event ids %q and %q", a.ID, b.ID)
	}
	if a.Type != EventInitiated || a.SwapID != "0x01" || !a.At.Equal(now) {
		t.Errorf("NewEvent() = %+v", a)
	}
}

func TestMulti(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("boom")
	failing := SinkFunc(func(context.Context, Event) error { return boom })

	m := Multi{failing, rec, Nop{}, NewLogSink(logging.Discard())}
	err := m.Notify(context.Background(), NewEvent(EventCompleted, "0x01", time.Now()))
	if !errors.Is(err, boom) {
		t.Errorf("Notify() error = %v, want boom", err)
	}
	if got := rec.Types(); len(got) != 1 || got[0] != EventCompleted {
		t.Errorf("recorder saw %v", got)
	}
}

func TestAsyncDelivers(t *testing.T) {
	rec := &Recorder{}
	a := NewAsync(rec, 16, logging.Discard())

	for i := 0; i < 5; i++ {
		if err := a.Notify(context.Background(), NewEvent(EventInitiated, "0x01", time.Now())); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}
	a.Close()

	if n := len(rec.Events()); n != 5 {
		t.Errorf("delivered %d events, want 5", n)
	}
	if err := a.Notify(context.Background(), Event{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify() after Close error = %v, want ErrClosed", err)
	}
	a.Close()
}

func TestAsyncDropsWhenFull(t *testing.T) {
	var once sync.Once
	gate := make(chan struct{})
	started := make(chan struct{})
	blocking := SinkFunc(func(context.Context, Event) error {
		once.Do(func() { close(started) })
		<-gate
		return nil
	})

	a := NewAsync(blocking, 1, logging.Discard())
	ctx := context.Background()

	// First event is taken by the worker, second fills the queue.
	_ = a.Notify(ctx, Event{})
	<-started
	if err := a.Notify(ctx, Event{}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := a.Notify(ctx, Event{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Notify() error = %v, want ErrQueueFull", err)
	}
	if a.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", a.Dropped())
	}

	close(gate)
	a.Close()
}

func TestStoreSink(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "swap-audit-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer store.Close()

	sink := NewStoreSink(store)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	first := NewEvent(EventInitiated, "0x01", base)
	first.Actor = "alice"
	second := NewEvent(EventCompleted, "0x01", base.Add(time.Minute))
	second.Actor = "bob"
	other := NewEvent(EventInitiated, "0x02", base)

	for _, e := range []Event{first, second, other} {
		if err := sink.Notify(ctx, e); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}

	trail, err := sink.Trail(ctx, "0x01", 0)
	if err != nil {
		t.Fatalf("Trail() error = %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("Trail() = %d events, want 2", len(trail))
	}
	if trail[0].ID != first.ID || trail[1].Type != EventCompleted || trail[1].Actor != "bob" {
		t.Errorf("Trail() = %+v", trail)
	}
}
