package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/custody"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/registry"
	"github.com/klingon-exchange/klingon-swap/internal/swap"
	"github.com/klingon-exchange/klingon-swap/internal/timelock"
	"github.com/klingon-exchange/klingon-swap/internal/txn"
	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	clock  *timelock.ManualClock
	events *audit.Recorder
	hub    *WSHub
	client *Client
	http   *httptest.Server
}

// recorderTrail serves the audit trail from a Recorder.
type recorderTrail struct{ r *audit.Recorder }

func (rt recorderTrail) Trail(_ context.Context, swapID string, _ int) ([]audit.Event, error) {
	var out []audit.Event
	for _, e := range rt.r.Events() {
		if e.SwapID == swapID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	j := txn.NewJournal()
	reg := registry.NewMemory()
	adapter, err := custody.New(custody.Config{Account: "custody", Runner: j})
	if err != nil {
		t.Fatalf("custody.New() error = %v", err)
	}
	j.Add(reg)
	for _, name := range []string{"gold", "silver"} {
		l, err := ledger.NewMemory(ledger.Config{
			Name:      name,
			Kind:      ledger.KindFungible,
			Custodian: "custody",
			AllowMint: true,
			Decimals:  2,
			Logger:    logging.Discard(),
		}, j)
		if err != nil {
			t.Fatalf("ledger.NewMemory() error = %v", err)
		}
		j.Add(l)
		if err := adapter.Register(l); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	env := &testEnv{
		t:      t,
		ctx:    context.Background(),
		clock:  timelock.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		events: &audit.Recorder{},
		hub:    NewWSHub(),
	}
	go env.hub.Run()
	t.Cleanup(env.hub.Stop)

	promReg := prometheus.NewRegistry()
	metrics, err := swap.NewMetrics(promReg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	coord, err := swap.NewCoordinator(&swap.CoordinatorConfig{
		Registry: reg,
		Custody:  adapter,
		Runner:   j,
		Clock:    env.clock,
		Audit:    audit.Multi{env.events, env.hub},
		Metrics:  metrics,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	srv, err := NewServer(&Config{
		Coordinator: coord,
		Trail:       recorderTrail{env.events},
		Hub:         env.hub,
		Gatherer:    promReg,
		Backend:     "memory",
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	env.http = httptest.NewServer(srv.Handler())
	t.Cleanup(env.http.Close)
	env.client = NewClient(env.http.URL)
	return env
}

func (e *testEnv) call(method string, params, result interface{}) error {
	e.t.Helper()
	return e.client.Call(e.ctx, method, params, result)
}

func (e *testEnv) mustCall(method string, params, result interface{}) {
	e.t.Helper()
	if err := e.call(method, params, result); err != nil {
		e.t.Fatalf("%s error = %v", method, err)
	}
}

func (e *testEnv) expectCode(err error, code int) {
	e.t.Helper()
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		e.t.Fatalf("error = %v, want rpc error %d", err, code)
	}
	if rpcErr.Code != code {
		e.t.Errorf("code = %d, want %d (%s)", rpcErr.Code, code, rpcErr.Message)
	}
}

func (e *testEnv) balance(ledgerName, account, asset string) uint64 {
	e.t.Helper()
	var res LedgerBalanceResult
	e.mustCall("ledger_balance", LedgerBalanceParams{Ledger: ledgerName, Account: account, Asset: asset}, &res)
	return res.Balance
}

func (e *testEnv) fund(ledgerName, account, asset string, amount uint64) {
	e.t.Helper()
	e.mustCall("ledger_mint", LedgerMintParams{Ledger: ledgerName, Account: account, Asset: asset, Quantity: amount}, nil)
	e.mustCall("ledger_approve", LedgerApproveParams{Ledger: ledgerName, Owner: account, Asset: asset, Amount: amount}, nil)
}

// initiate funds both sides and opens a 100 X for 50 Y swap.
func (e *testEnv) initiate() (id string, secret string) {
	e.t.Helper()
	e.fund("gold", "alice", "X", 100)
	e.fund("silver", "bob", "Y", 50)

	var sec SwapNewSecretResult
	e.mustCall("swap_newSecret", SwapNewSecretParams{}, &sec)

	var res SwapInitiateResult
	e.mustCall("swap_initiate", SwapInitiateParams{
		Initiator:       "alice",
		Participant:     "bob",
		InitiatorLegs:   []ledger.Leg{{Ledger: "gold", Asset: "X", Quantity: 100}},
		ParticipantLegs: []ledger.Leg{{Ledger: "silver", Asset: "Y", Quantity: 50}},
		Commitment:      sec.Commitment,
		Timeout:         "1h",
	}, &res)
	if want := e.clock.Now().Add(time.Hour); !res.Deadline.Equal(want) {
		e.t.Errorf("deadline = %v, want %v", res.Deadline, want)
	}
	return res.ID, sec.Secret
}

func TestRequest(t *testing.T) {
	tests := []struct {
		name    string
		request *Request
	}{
		{"string id", &Request{JSONRPC: "2.0", Method: "test_method", ID: "123"}},
		{"number id", &Request{JSONRPC: "2.0", Method: "test_method", ID: 1}},
		{"notification", &Request{JSONRPC: "2.0", Method: "test_method"}},
		{"with params", &Request{JSONRPC: "2.0", Method: "test_method", Params: json.RawMessage(`{"key":"value"}`), ID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.request)
			if err != nil {
				t.Fatalf("failed to marshal request: %v", err)
			}
			var parsed Request
			if err := json.Unmarshal(data, &parsed); err != nil {
				t.Fatalf("failed to unmarshal request: %v", err)
			}
			if parsed.Method != tt.request.Method {
				t.Errorf("Method = %s, want %s", parsed.Method, tt.request.Method)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	kindErr := func(kind error) error {
		return &swap.Error{Op: swap.OpComplete, Kind: kind, Err: errors.New("cause")}
	}

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid params", fmt.Errorf("%w: id is required", ErrInvalidParams), InvalidParams},
		{"validation", kindErr(swap.ErrValidation), ValidationError},
		{"authorization", kindErr(swap.ErrAuthorization), AuthorizationError},
		{"state", kindErr(swap.ErrState), StateError},
		{"commitment", kindErr(swap.ErrCommitment), CommitmentError},
		{"timing", kindErr(swap.ErrTiming), TimingError},
		{"transfer", kindErr(swap.ErrTransfer), TransferError},
		{"internal", errors.New("disk on fire"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := errorCode(tt.err)
			if code != tt.code {
				t.Errorf("errorCode() = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestProtocolErrors(t *testing.T) {
	env := newTestEnv(t)

	post := func(body string) Response {
		t.Helper()
		resp, err := http.Post(env.http.URL, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		defer resp.Body.Close()
		var r Response
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		return r
	}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, ParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"node_info","id":1}`, InvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"wallet_send","id":1}`, MethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","method":"swap_get","id":1}`, InvalidParams},
		{"bad params", `{"jsonrpc":"2.0","method":"swap_get","params":[1,2],"id":1}`, InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := post(tt.body)
			if r.Error == nil {
				t.Fatalf("expected error, got result %v", r.Result)
			}
			if r.Error.Code != tt.code {
				t.Errorf("code = %d, want %d", r.Error.Code, tt.code)
			}
		})
	}
}

func TestSwapComplete(t *testing.T) {
	env := newTestEnv(t)
	id, secret := env.initiate()

	if got := env.balance("gold", "custody", "X"); got != 100 {
		t.Errorf("custody X = %d, want 100", got)
	}

	var res SwapTransitionResult
	env.mustCall("swap_complete", SwapCompleteParams{ID: id, Caller: "bob", Secret: secret}, &res)
	if res.State != string(registry.StateCompleted) {
		t.Errorf("state = %s, want completed", res.State)
	}

	checks := []struct {
		ledger, account, asset string
		want                   uint64
	}{
		{"gold", "alice", "X", 0},
		{"gold", "bob", "X", 100},
		{"gold", "custody", "X", 0},
		{"silver", "alice", "Y", 50},
		{"silver", "bob", "Y", 0},
	}
	for _, c := range checks {
		if got := env.balance(c.ledger, c.account, c.asset); got != c.want {
			t.Errorf("%s %s %s = %d, want %d", c.ledger, c.account, c.asset, got, c.want)
		}
	}

	var got SwapGetResult
	env.mustCall("swap_get", SwapGetParams{ID: id, Trail: true}, &got)
	if got.State != string(registry.StateCompleted) {
		t.Errorf("swap_get state = %s", got.State)
	}
	if got.Secret != secret {
		t.Errorf("swap_get secret = %s, want %s", got.Secret, secret)
	}
	if len(got.Trail) != 2 || got.Trail[0].Type != audit.EventInitiated || got.Trail[1].Type != audit.EventCompleted {
		t.Errorf("trail = %+v, want initiated then completed", got.Trail)
	}

	err := env.call("swap_complete", SwapCompleteParams{ID: id, Caller: "bob", Secret: secret}, nil)
	env.expectCode(err, StateError)
}

func TestSwapCompleteErrors(t *testing.T) {
	env := newTestEnv(t)
	id, secret := env.initiate()

	err := env.call("swap_complete", SwapCompleteParams{ID: id, Caller: "bob", Secret: helpers.BytesToHex([]byte("wrong"))}, nil)
	env.expectCode(err, CommitmentError)

	err = env.call("swap_complete", SwapCompleteParams{ID: id, Caller: "mallory", Secret: secret}, nil)
	env.expectCode(err, AuthorizationError)

	err = env.call("swap_complete", SwapCompleteParams{ID: id, Caller: "bob", Secret: "zz"}, nil)
	env.expectCode(err, InvalidParams)

	err = env.call("swap_complete", SwapCompleteParams{ID: "0xdeadbeef", Caller: "bob", Secret: secret}, nil)
	env.expectCode(err, StateError)

	var got SwapGetResult
	env.mustCall("swap_get", SwapGetParams{ID: id}, &got)
	if got.State != string(registry.StateInitiated) {
		t.Errorf("state = %s, want initiated", got.State)
	}
}

func TestSwapRefund(t *testing.T) {
	env := newTestEnv(t)
	id, secret := env.initiate()

	err := env.call("swap_refund", SwapRefundParams{ID: id, Caller: "alice"}, nil)
	env.expectCode(err, TimingError)

	env.clock.Advance(time.Hour)

	var res SwapTransitionResult
	env.mustCall("swap_refund", SwapRefundParams{ID: id, Caller: "alice"}, &res)
	if res.State != string(registry.StateRefunded) {
		t.Errorf("state = %s, want refunded", res.State)
	}
	if got := env.balance("gold", "alice", "X"); got != 100 {
		t.Errorf("alice X = %d, want 100", got)
	}

	err = env.call("swap_complete", SwapCompleteParams{ID: id, Caller: "bob", Secret: secret}, nil)
	env.expectCode(err, StateError)
}

func TestSwapInitiateErrors(t *testing.T) {
	env := newTestEnv(t)
	_, c, err := commitment.NewSecret(commitment.SchemeSHA256)
	if err != nil {
		t.Fatal(err)
	}
	base := SwapInitiateParams{
		Initiator:       "alice",
		Participant:     "bob",
		InitiatorLegs:   []ledger.Leg{{Ledger: "gold", Asset: "X", Quantity: 100}},
		ParticipantLegs: []ledger.Leg{{Ledger: "silver", Asset: "Y", Quantity: 50}},
		Commitment:      helpers.BytesToHex(c),
		Timeout:         "1h",
	}

	tests := []struct {
		name string
		mod  func(*SwapInitiateParams)
		code int
	}{
		{"bad timeout", func(p *SwapInitiateParams) { p.Timeout = "soon" }, InvalidParams},
		{"missing commitment", func(p *SwapInitiateParams) { p.Commitment = "" }, InvalidParams},
		{"same parties", func(p *SwapInitiateParams) { p.Participant = "alice" }, ValidationError},
		{"zero quantity", func(p *SwapInitiateParams) { p.InitiatorLegs[0].Quantity = 0 }, ValidationError},
		{"unknown ledger", func(p *SwapInitiateParams) { p.ParticipantLegs[0].Ledger = "lead" }, ValidationError},
		{"negative timeout", func(p *SwapInitiateParams) { p.Timeout = "-1h" }, ValidationError},
		{"unfunded", func(p *SwapInitiateParams) {}, TransferError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			p.InitiatorLegs = append([]ledger.Leg(nil), base.InitiatorLegs...)
			p.ParticipantLegs = append([]ledger.Leg(nil), base.ParticipantLegs...)
			tt.mod(&p)
			env.expectCode(env.call("swap_initiate", p, nil), tt.code)
		})
	}

	var list SwapListResult
	env.mustCall("swap_list", nil, &list)
	if list.Count != 0 {
		t.Errorf("swap_list count = %d, want 0", list.Count)
	}
}

func TestSwapList(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.initiate()

	var list SwapListResult
	env.mustCall("swap_list", SwapListParams{Account: "bob"}, &list)
	if list.Count != 1 || list.Swaps[0].ID != id {
		t.Errorf("swap_list(bob) = %+v", list)
	}

	env.mustCall("swap_list", SwapListParams{State: "completed"}, &list)
	if list.Count != 0 {
		t.Errorf("swap_list(completed) count = %d, want 0", list.Count)
	}

	env.mustCall("swap_list", SwapListParams{Expired: true}, &list)
	if list.Count != 0 {
		t.Errorf("expired before deadline count = %d, want 0", list.Count)
	}
	env.clock.Advance(2 * time.Hour)
	env.mustCall("swap_list", SwapListParams{Expired: true}, &list)
	if list.Count != 1 {
		t.Errorf("expired after deadline count = %d, want 1", list.Count)
	}

	env.expectCode(env.call("swap_list", SwapListParams{State: "pending"}, nil), InvalidParams)
}

func TestLedgerHandlers(t *testing.T) {
	env := newTestEnv(t)
	env.mustCall("ledger_mint", LedgerMintParams{Ledger: "gold", Account: "alice", Asset: "X", Quantity: 150}, nil)
	env.mustCall("ledger_approve", LedgerApproveParams{Ledger: "gold", Owner: "alice", Asset: "X", Amount: 40}, nil)

	var res LedgerBalanceResult
	env.mustCall("ledger_balance", LedgerBalanceParams{Ledger: "gold", Account: "alice", Asset: "X"}, &res)
	if res.Balance != 150 || res.Formatted != "1.5" || res.Allowance != 40 {
		t.Errorf("ledger_balance = %+v", res)
	}

	env.expectCode(env.call("ledger_balance", LedgerBalanceParams{Ledger: "lead", Account: "alice", Asset: "X"}, nil), InvalidParams)
	env.expectCode(env.call("ledger_mint", LedgerMintParams{Ledger: "gold", Account: "alice", Asset: "X"}, nil), InvalidParams)
}

func TestNodeInfo(t *testing.T) {
	env := newTestEnv(t)
	env.initiate()

	var info NodeInfoResult
	env.mustCall("node_info", nil, &info)
	if info.CustodyAccount != "custody" {
		t.Errorf("custody_account = %s", info.CustodyAccount)
	}
	if len(info.Ledgers) != 2 || info.Ledgers[0] != "gold" {
		t.Errorf("ledgers = %v", info.Ledgers)
	}
	if info.OpenSwaps != 1 {
		t.Errorf("open_swaps = %d, want 1", info.OpenSwaps)
	}
	if info.IDScheme != string(swap.IDCounter) || info.DefaultScheme != string(commitment.SchemeSHA256) {
		t.Errorf("schemes = %s/%s", info.IDScheme, info.DefaultScheme)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.initiate()

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{`swap_transitions_total{op="initiate"} 1`, "swap_open 1"} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWSWatchMatches(t *testing.T) {
	e := audit.Event{Type: audit.EventCompleted, SwapID: "0x01", Initiator: "alice", Participant: "bob", Operator: "op"}

	tests := []struct {
		name  string
		watch *WSWatch
		want  bool
	}{
		{"no watch", nil, true},
		{"empty watch", &WSWatch{}, true},
		{"by swap", &WSWatch{Swaps: []string{"0x01"}}, true},
		{"other swap", &WSWatch{Swaps: []string{"0x02"}}, false},
		{"by participant", &WSWatch{Accounts: []string{"bob"}}, true},
		{"by operator", &WSWatch{Accounts: []string{"op"}}, true},
		{"other account", &WSWatch{Accounts: []string{"carol"}}, false},
		{"swap or account", &WSWatch{Swaps: []string{"0x02"}, Accounts: []string{"alice"}}, true},
		{"event type", &WSWatch{Events: []string{"swap_completed"}}, true},
		{"other event type", &WSWatch{Events: []string{"swap_refunded"}}, false},
		{"event narrows account", &WSWatch{Accounts: []string{"bob"}, Events: []string{"swap_expired"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.watch.matches(EventSwapCompleted, e); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWSStream(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	id, _ := env.initiate()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev WSEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != EventSwapInitiated || ev.Data.SwapID != id {
		t.Errorf("event = %s %s, want %s %s", ev.Type, ev.Data.SwapID, EventSwapInitiated, id)
	}
	if ev.Data.Initiator != "alice" || ev.Data.Participant != "bob" {
		t.Errorf("event parties = %s/%s", ev.Data.Initiator, ev.Data.Participant)
	}
}

func TestWSHubStop(t *testing.T) {
	hub := NewWSHub()
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	if err := hub.Notify(context.Background(), audit.NewEvent(audit.EventExpired, "0x01", time.Now())); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}
