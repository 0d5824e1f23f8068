package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "swap-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	store := newTestStorage(t)

	if _, err := os.Stat(store.Path()); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if filepath.Base(store.Path()) != DBFileName {
		t.Errorf("Path() = %s, want file %s", store.Path(), DBFileName)
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNewWithTildeExpansion(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")

	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
}

func TestStorageSchema(t *testing.T) {
	store := newTestStorage(t)

	for _, table := range []string{"swaps", "swap_legs", "ledger_balances", "ledger_allowances", "audit_log", "counters"} {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not found: %v", table, err)
		}
	}
}

func TestAtomicallyCommitAndRollback(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Atomically(ctx, func(ctx context.Context) error {
		if !store.InTx(ctx) {
			t.Error("expected transaction in context")
		}
		return store.SetBalance(ctx, "gold", "alice", "coin", 10)
	})
	if err != nil {
		t.Fatalf("Atomically() error = %v", err)
	}

	err = store.Atomically(ctx, func(ctx context.Context) error {
		if err := store.SetBalance(ctx, "gold", "alice", "coin", 99); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomically() error = %v, want boom", err)
	}

	bal, err := store.GetBalance(ctx, "gold", "alice", "coin")
	if err != nil {
		t.Fatalf("GetBalance() error = %v", err)
	}
	if bal != 10 {
		t.Errorf("balance = %d, want 10", bal)
	}
}

func TestAtomicallySavepoint(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Atomically(ctx, func(ctx context.Context) error {
		if err := store.SetBalance(ctx, "gold", "alice", "coin", 1); err != nil {
			return err
		}

		inner := store.Atomically(ctx, func(ctx context.Context) error {
			if err := store.SetBalance(ctx, "gold", "bob", "coin", 5); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(inner, boom) {
			t.Errorf("inner error = %v, want boom", inner)
		}

		return store.Atomically(ctx, func(ctx context.Context) error {
			return store.SetBalance(ctx, "gold", "carol", "coin", 7)
		})
	})
	if err != nil {
		t.Fatalf("Atomically() error = %v", err)
	}

	want := map[string]uint64{"alice": 1, "bob": 0, "carol": 7}
	for account, w := range want {
		got, err := store.GetBalance(ctx, "gold", account, "coin")
		if err != nil {
			t.Fatalf("GetBalance(%s) error = %v", account, err)
		}
		if got != w {
			t.Errorf("balance(%s) = %d, want %d", account, got, w)
		}
	}
}

func TestCounters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if v, _ := store.Counter(ctx, "nonce"); v != 0 {
		t.Errorf("Counter() = %d, want 0", v)
	}
	for i := uint64(1); i <= 3; i++ {
		v, err := store.NextCounter(ctx, "nonce")
		if err != nil {
			t.Fatalf("NextCounter() error = %v", err)
		}
		if v != i {
			t.Errorf("NextCounter() = %d, want %d", v, i)
		}
	}

	// A rolled back scope does not consume a value.
	_ = store.Atomically(ctx, func(ctx context.Context) error {
		if _, err := store.NextCounter(ctx, "nonce"); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if v, _ := store.Counter(ctx, "nonce"); v != 3 {
		t.Errorf("Counter() = %d after rollback, want 3", v)
	}
}

func TestLedgerRows(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.SetBalance(ctx, "gold", "alice", "coin", 40); err != nil {
		t.Fatal(err)
	}
	if err := store.SetBalance(ctx, "gold", "bob", "coin", 2); err != nil {
		t.Fatal(err)
	}
	if err := store.SetBalance(ctx, "gold", "alice", "gem", 0); err != nil {
		t.Fatal(err)
	}

	supply, err := store.Supply(ctx, "gold", "coin")
	if err != nil {
		t.Fatalf("Supply() error = %v", err)
	}
	if supply != 42 {
		t.Errorf("Supply() = %d, want 42", supply)
	}
	if supply, _ := store.Supply(ctx, "gold", "missing"); supply != 0 {
		t.Errorf("Supply(missing) = %d, want 0", supply)
	}

	list, err := store.ListBalances(ctx, "gold", "alice")
	if err != nil {
		t.Fatalf("ListBalances() error = %v", err)
	}
	if len(list) != 1 || list[0].Asset != "coin" || list[0].Amount != 40 {
		t.Errorf("ListBalances() = %+v", list)
	}

	if err := store.SetAllowance(ctx, "gold", "alice", "custody", "coin", 15); err != nil {
		t.Fatal(err)
	}
	allowance, err := store.GetAllowance(ctx, "gold", "alice", "custody", "coin")
	if err != nil {
		t.Fatalf("GetAllowance() error = %v", err)
	}
	if allowance != 15 {
		t.Errorf("GetAllowance() = %d, want 15", allowance)
	}
	if a, _ := store.GetAllowance(ctx, "gold", "bob", "custody", "coin"); a != 0 {
		t.Errorf("GetAllowance(bob) = %d, want 0", a)
	}
}

func TestAuditLog(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	recs := []*AuditRecord{
		{ID: "e1", EventType: "initiated", SwapID: "s1", Actor: "alice", State: "initiated", CreatedAt: fromUnixNano(100)},
		{ID: "e2", EventType: "completed", SwapID: "s1", Actor: "bob", State: "completed", Payload: `{"x":1}`, CreatedAt: fromUnixNano(200)},
		{ID: "e3", EventType: "initiated", SwapID: "s2", CreatedAt: fromUnixNano(300)},
	}
	for _, rec := range recs {
		if err := store.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit() error = %v", err)
		}
	}
	// Duplicate id is ignored
	if err := store.AppendAudit(ctx, recs[0]); err != nil {
		t.Fatalf("AppendAudit(duplicate) error = %v", err)
	}

	trail, err := store.ListAudit(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	if len(trail) != 2 || trail[0].ID != "e1" || trail[1].Payload != `{"x":1}` {
		t.Errorf("ListAudit(s1) = %+v", trail)
	}

	recent, err := store.ListAudit(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "e3" {
		t.Errorf("ListAudit(all) = %+v", recent)
	}
}
