package coordinator

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/baxromumarov/distributed-ledger/pkg/config"
	"github.com/baxromumarov/distributed-ledger/pkg/wire"
)

// fakeClient drives participants purely in memory, recording every call
// so tests can assert on PREPARE/COMMIT/ABORT fan-out without a real
// listener. balances is the shadow per-node-per-account balance used to
// decide votes, matching the Prepare-time feasibility check in
// pkg/participant/store.go.
type fakeClient struct {
	mu sync.Mutex

	// addr -> account -> balance
	balances map[string]map[string]int64

	prepareCalls []string
	commitCalls  []string
	abortCalls   []string

	// denyPrepare forces a VOTE_ABORT from this addr regardless of balance.
	denyPrepare map[string]bool
	// unreachable simulates a dial failure from this addr on COMMIT.
	unreachable map[string]bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		balances:    make(map[string]map[string]int64),
		denyPrepare: make(map[string]bool),
		unreachable: make(map[string]bool),
	}
}

func (f *fakeClient) seed(addr, account string, balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[addr] == nil {
		f.balances[addr] = make(map[string]int64)
	}
	f.balances[addr][account] = balance
}

func (f *fakeClient) balance(addr, account string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[addr][account]
}

func (f *fakeClient) Prepare(addr, txID string, ops []wire.Operation) (wire.Message, error) {
	f.mu.Lock()
	f.prepareCalls = append(f.prepareCalls, addr)
	deny := f.denyPrepare[addr]
	f.mu.Unlock()

	// unreachable only affects COMMIT in these tests: PREPARE still
	// succeeds so the transfer reaches COMMIT and exercises retry.
	if deny {
		return wire.NewVote(txID, false), nil
	}

	for _, op := range ops {
		if f.balance(addr, op.AccountID)+op.Delta < 0 {
			return wire.NewVote(txID, false), nil
		}
	}
	return wire.NewVote(txID, true), nil
}

func (f *fakeClient) Commit(addr, txID string, ops []wire.Operation) (wire.Message, error) {
	f.mu.Lock()
	f.commitCalls = append(f.commitCalls, addr)
	unreachable := f.unreachable[addr]
	f.mu.Unlock()

	if unreachable {
		return wire.Message{}, errors.New("fake: unreachable")
	}

	f.mu.Lock()
	if f.balances[addr] == nil {
		f.balances[addr] = make(map[string]int64)
	}
	for _, op := range ops {
		f.balances[addr][op.AccountID] += op.Delta
	}
	f.mu.Unlock()
	return wire.NewAck(txID, wire.AckCommitted), nil
}

func (f *fakeClient) Abort(addr, txID string) (wire.Message, error) {
	f.mu.Lock()
	f.abortCalls = append(f.abortCalls, addr)
	f.mu.Unlock()
	return wire.NewAck(txID, wire.AckAborted), nil
}

func newTestCoordinator(t *testing.T, client ParticipantClient) (*Coordinator, *config.NodeMap) {
	t.Helper()
	nodes, err := config.ParseNodeMap("N1:127.0.0.1:6001,N2:127.0.0.1:6002")
	if err != nil {
		t.Fatalf("ParseNodeMap failed: %v", err)
	}

	txLog, err := OpenTxLog(t.TempDir())
	if err != nil {
		t.Fatalf("OpenTxLog failed: %v", err)
	}
	t.Cleanup(func() { txLog.Close() })

	c := New(nodes, client, txLog)
	c.Phase2Delay = time.Millisecond
	return c, nodes
}

func TestTransferCommitsWhenAllVoteCommit(t *testing.T) {
	fc := newFakeClient()
	c, nodes := newTestCoordinator(t, fc)
	n1, _ := nodes.Get("N1")
	n2, _ := nodes.Get("N2")
	fc.seed(n1.Addr(), "alice", 100)
	fc.seed(n2.Addr(), "bob", 0)

	ok, err := c.Transfer("N1", "alice", "N2", "bob", 40)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !ok {
		t.Fatal("expected transfer to succeed")
	}
	if got := fc.balance(n1.Addr(), "alice"); got != 60 {
		t.Errorf("expected alice=60, got %d", got)
	}
	if got := fc.balance(n2.Addr(), "bob"); got != 40 {
		t.Errorf("expected bob=40, got %d", got)
	}
}

func TestTransferAbortsWhenOneNodeVotesAbort(t *testing.T) {
	fc := newFakeClient()
	c, nodes := newTestCoordinator(t, fc)
	n1, _ := nodes.Get("N1")
	n2, _ := nodes.Get("N2")
	fc.seed(n1.Addr(), "alice", 100)
	fc.seed(n2.Addr(), "bob", 0)
	fc.denyPrepare[n2.Addr()] = true

	ok, err := c.Transfer("N1", "alice", "N2", "bob", 40)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if ok {
		t.Fatal("expected transfer to abort")
	}
	if got := fc.balance(n1.Addr(), "alice"); got != 100 {
		t.Errorf("expected alice unchanged at 100, got %d", got)
	}
	if len(fc.abortCalls) == 0 {
		t.Error("expected ABORT to be sent to participants")
	}
}

func TestTransferAbortsOnInsufficientBalance(t *testing.T) {
	fc := newFakeClient()
	c, nodes := newTestCoordinator(t, fc)
	n1, _ := nodes.Get("N1")
	n2, _ := nodes.Get("N2")
	fc.seed(n1.Addr(), "alice", 10)
	fc.seed(n2.Addr(), "bob", 0)

	ok, err := c.Transfer("N1", "alice", "N2", "bob", 40)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if ok {
		t.Fatal("expected transfer to abort on insufficient balance")
	}
}

func TestTransferSameNodeBothOperationsGrouped(t *testing.T) {
	fc := newFakeClient()
	c, nodes := newTestCoordinator(t, fc)
	n1, _ := nodes.Get("N1")
	fc.seed(n1.Addr(), "alice", 100)
	fc.seed(n1.Addr(), "bob", 0)

	ok, err := c.Transfer("N1", "alice", "N1", "bob", 25)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !ok {
		t.Fatal("expected transfer to succeed")
	}
	if got := fc.balance(n1.Addr(), "alice"); got != 75 {
		t.Errorf("expected alice=75, got %d", got)
	}
	if got := fc.balance(n1.Addr(), "bob"); got != 25 {
		t.Errorf("expected bob=25, got %d", got)
	}
	// Both operations are sent to the same node in a single PREPARE and
	// a single COMMIT call.
	if len(fc.prepareCalls) != 1 {
		t.Errorf("expected exactly one PREPARE call for a single-node transfer, got %d", len(fc.prepareCalls))
	}
}

func TestTransferRetriesUnreachableNodeOnCommit(t *testing.T) {
	fc := newFakeClient()
	c, nodes := newTestCoordinator(t, fc)
	n1, _ := nodes.Get("N1")
	n2, _ := nodes.Get("N2")
	fc.seed(n1.Addr(), "alice", 100)
	fc.seed(n2.Addr(), "bob", 0)
	fc.unreachable[n2.Addr()] = true

	c.Phase2Retries = 2

	ok, err := c.Transfer("N1", "alice", "N2", "bob", 40)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !ok {
		t.Fatal("expected transfer to report success even though phase 2 is best-effort")
	}

	n2Commits := 0
	for _, addr := range fc.commitCalls {
		if addr == n2.Addr() {
			n2Commits++
		}
	}
	if n2Commits != 2 {
		t.Errorf("expected 2 COMMIT attempts to the unreachable node, got %d", n2Commits)
	}
}

func TestTransferRejectsNonPositiveAmount(t *testing.T) {
	fc := newFakeClient()
	c, nodes := newTestCoordinator(t, fc)
	n1, _ := nodes.Get("N1")
	n2, _ := nodes.Get("N2")
	fc.seed(n1.Addr(), "alice", 100)
	fc.seed(n2.Addr(), "bob", 0)

	for _, amount := range []int64{0, -10} {
		ok, err := c.Transfer("N1", "alice", "N2", "bob", amount)
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("amount=%d: expected ErrProtocol, got %v", amount, err)
		}
		if ok {
			t.Errorf("amount=%d: expected transfer to be rejected", amount)
		}
	}
	if len(fc.prepareCalls) != 0 {
		t.Error("expected no PREPARE to be sent for a rejected transfer")
	}
}

func TestTransferRejectsMissingFields(t *testing.T) {
	fc := newFakeClient()
	c, _ := newTestCoordinator(t, fc)

	cases := []struct{ fromNode, fromAccount, toNode, toAccount string }{
		{"", "alice", "N2", "bob"},
		{"N1", "", "N2", "bob"},
		{"N1", "alice", "", "bob"},
		{"N1", "alice", "N2", ""},
	}
	for _, c2 := range cases {
		_, err := c.Transfer(c2.fromNode, c2.fromAccount, c2.toNode, c2.toAccount, 10)
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("case %+v: expected ErrProtocol, got %v", c2, err)
		}
	}
}

func TestTransferRejectsUnknownNode(t *testing.T) {
	fc := newFakeClient()
	c, _ := newTestCoordinator(t, fc)

	if _, err := c.Transfer("N1", "alice", "N9", "bob", 10); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol for unknown to_node, got %v", err)
	}
	if _, err := c.Transfer("N9", "alice", "N2", "bob", 10); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol for unknown from_node, got %v", err)
	}
}

func TestTransferValidationDoesNotTouchLog(t *testing.T) {
	fc := newFakeClient()
	c, _ := newTestCoordinator(t, fc)

	if _, err := c.Transfer("N1", "alice", "N2", "bob", -5); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}

	dataDir := filepath.Dir(c.Log.path)
	entries, err := ReadAllEntries(dataDir)
	if err != nil {
		t.Fatalf("ReadAllEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no log entries for a rejected transfer, got %d", len(entries))
	}
}

func TestTransferLogsEveryPhase(t *testing.T) {
	fc := newFakeClient()
	c, nodes := newTestCoordinator(t, fc)
	n1, _ := nodes.Get("N1")
	n2, _ := nodes.Get("N2")
	fc.seed(n1.Addr(), "alice", 100)
	fc.seed(n2.Addr(), "bob", 0)

	if _, err := c.Transfer("N1", "alice", "N2", "bob", 10); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	dataDir := filepath.Dir(c.Log.path)
	entries, err := ReadAllEntries(dataDir)
	if err != nil {
		t.Fatalf("ReadAllEntries failed: %v", err)
	}

	phases := make(map[string]bool)
	for _, e := range entries {
		phases[e.Phase] = true
	}
	for _, want := range []string{PhaseStart, PhasePrepare, PhaseCommit, PhaseComplete} {
		if !phases[want] {
			t.Errorf("expected a %s log entry, got phases %v", want, phases)
		}
	}
}
