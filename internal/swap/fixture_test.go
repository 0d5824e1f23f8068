package swap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/custody"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/registry"
	"github.com/klingon-exchange/klingon-swap/internal/storage"
	"github.com/klingon-exchange/klingon-swap/internal/timelock"
	"github.com/klingon-exchange/klingon-swap/internal/txn"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

const (
	alice    = "alice"
	bob      = "bob"
	operator = "op"
	custAcct = "custody"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	clock    *timelock.ManualClock
	registry registry.Registry
	adapter  *custody.Adapter
	gold     *ledger.Ledger // fungible, asset X
	silver   *ledger.Ledger // fungible, asset Y
	art      *ledger.Ledger // non-fungible
	audit    *audit.Recorder
	coord    *Coordinator
}

type option func(*CoordinatorConfig)

type backend func(t *testing.T, opts ...option) *fixture

// backends runs a test against the in-memory and sqlite hosts.
var backends = map[string]backend{
	"memory": newMemoryFixture,
	"sqlite": newSQLFixture,
}

func newMemoryFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	j := txn.NewJournal()
	reg := registry.NewMemory()

	mk := func(name string, kind ledger.Kind) *ledger.Ledger {
		l, err := ledger.NewMemory(ledger.Config{Name: name, Kind: kind, Custodian: custAcct, AllowMint: true, Logger: logging.Discard()}, j)
		if err != nil {
			t.Fatalf("ledger.NewMemory(%s) error = %v", name, err)
		}
		return l
	}
	gold, silver, art := mk("gold", ledger.KindFungible), mk("silver", ledger.KindFungible), mk("art", ledger.KindNonFungible)
	j.Add(reg, gold, silver, art)

	return buildFixture(t, j, reg, gold, silver, art, opts...)
}

func newSQLFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "swap-coordinator-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mk := func(name string, kind ledger.Kind) *ledger.Ledger {
		l, err := ledger.NewSQL(ledger.Config{Name: name, Kind: kind, Custodian: custAcct, AllowMint: true, Logger: logging.Discard()}, store)
		if err != nil {
			t.Fatalf("ledger.NewSQL(%s) error = %v", name, err)
		}
		return l
	}

	return buildFixture(t, store, registry.NewSQL(store),
		mk("gold", ledger.KindFungible), mk("silver", ledger.KindFungible), mk("art", ledger.KindNonFungible), opts...)
}

func buildFixture(t *testing.T, runner txn.Runner, reg registry.Registry, gold, silver, art *ledger.Ledger, opts ...option) *fixture {
	t.Helper()

	adapter, err := custody.New(custody.Config{Account: custAcct, Runner: runner})
	if err != nil {
		t.Fatalf("custody.New() error = %v", err)
	}
	for _, l := range []*ledger.Ledger{gold, silver, art} {
		if err := adapter.Register(l); err != nil {
			t.Fatalf("Register(%s) error = %v", l.Name(), err)
		}
	}

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		clock:    timelock.NewManualClock(epoch),
		registry: reg,
		adapter:  adapter,
		gold:     gold,
		silver:   silver,
		art:      art,
		audit:    &audit.Recorder{},
	}

	cfg := &CoordinatorConfig{
		Registry: reg,
		Custody:  adapter,
		Runner:   runner,
		Clock:    f.clock,
		Audit:    f.audit,
		Logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	f.coord, err = NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return f
}

// fund mints quantity of asset to account and authorizes custody to move it.
func (f *fixture) fund(l *ledger.Ledger, account, asset string, quantity uint64) {
	f.t.Helper()
	if err := l.Mint(f.ctx, account, asset, quantity); err != nil {
		f.t.Fatalf("Mint(%s %s) error = %v", account, asset, err)
	}
	f.approve(l, account, asset, quantity)
}

func (f *fixture) approve(l *ledger.Ledger, account, asset string, quantity uint64) {
	f.t.Helper()
	if err := l.Approve(f.ctx, account, custAcct, asset, quantity); err != nil {
		f.t.Fatalf("Approve(%s %s) error = %v", account, asset, err)
	}
}

func (f *fixture) balance(l *ledger.Ledger, account, asset string) uint64 {
	f.t.Helper()
	b, err := l.BalanceOf(f.ctx, account, asset)
	if err != nil {
		f.t.Fatalf("BalanceOf(%s) error = %v", account, err)
	}
	return b
}

func (f *fixture) expectBalance(l *ledger.Ledger, account, asset string, want uint64) {
	f.t.Helper()
	if got := f.balance(l, account, asset); got != want {
		f.t.Errorf("%s balance of %s %s = %d, want %d", l.Name(), account, asset, got, want)
	}
}

func (f *fixture) expectState(id string, want registry.State) SwapView {
	f.t.Helper()
	v, err := f.coord.Get(f.ctx, id)
	if err != nil {
		f.t.Fatalf("Get(%s) error = %v", id, err)
	}
	if v.State != string(want) {
		f.t.Errorf("state = %s, want %s", v.State, want)
	}
	return v
}

// secretPair returns a fixed secret and its sha256 commitment.
func secretPair(t *testing.T) (secret, c []byte) {
	t.Helper()
	secret = []byte("correct horse battery staple")
	c, err := commitment.SchemeSHA256.Digest(secret)
	if err != nil {
		t.Fatal(err)
	}
	return secret, c
}

// standard returns scenario A terms: 100 X for 50 Y, one hour.
func (f *fixture) standard(c []byte) InitiateParams {
	return InitiateParams{
		Initiator:       alice,
		Participant:     bob,
		InitiatorLegs:   []ledger.Leg{{Ledger: "gold", Asset: "X", Quantity: 100}},
		ParticipantLegs: []ledger.Leg{{Ledger: "silver", Asset: "Y", Quantity: 50}},
		Commitment:      c,
		Timeout:         time.Hour,
	}
}

// setupStandard funds both parties for scenario A and initiates it.
func (f *fixture) setupStandard(mod ...func(*InitiateParams)) (id string, secret []byte) {
	f.t.Helper()
	secret, c := secretPair(f.t)
	f.fund(f.gold, alice, "X", 100)
	f.fund(f.silver, bob, "Y", 50)

	p := f.standard(c)
	for _, m := range mod {
		m(&p)
	}
	id, err := f.coord.Initiate(f.ctx, p)
	if err != nil {
		f.t.Fatalf("Initiate() error = %v", err)
	}
	return id, secret
}
