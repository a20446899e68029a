package coordinator

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/baxromumarov/distributed-ledger/pkg/config"
	"github.com/baxromumarov/distributed-ledger/pkg/wire"
)

// ErrSimulatedCrash is returned by Transfer when a configured failure hook
// fires, standing in for a coordinator process crash at that exact point
// in the protocol. The hooks let SPEC_FULL.md's recovery scenarios be
// driven without actually killing the process.
var ErrSimulatedCrash = errors.New("coordinator: simulated crash")

// ErrProtocol is returned by Transfer when the request itself is
// malformed — a missing field, a non-positive amount, or a node label
// that is not configured — rather than a
// failure of the 2PC round. Callers reply with a protocol ERROR message
// and never touch the log or any participant (spec.md §4.1).
var ErrProtocol = errors.New("coordinator: protocol error")

// ParticipantClient is the subset of transport.Client the coordinator
// needs to drive PREPARE/COMMIT/ABORT against a participant. It is an
// interface so tests can substitute a fake without a real TCP round trip.
type ParticipantClient interface {
	Prepare(addr, txID string, ops []wire.Operation) (wire.Message, error)
	Commit(addr, txID string, ops []wire.Operation) (wire.Message, error)
	Abort(addr, txID string) (wire.Message, error)
}

// Coordinator orchestrates two-phase commit transfers across the
// configured participant nodes and maintains the durable transaction log
// needed to recover from a crash mid-protocol.
type Coordinator struct {
	Nodes  *config.NodeMap
	Client ParticipantClient
	Log    *TxLog

	// Phase2Retries bounds how many attempts, the first one included, a
	// COMMIT or ABORT gets against an unresponsive participant before the
	// coordinator gives up and
	// logs COMPLETE anyway (SPEC_FULL.md §4.1 addition; the original
	// fires-and-forgets once).
	Phase2Retries int
	Phase2Delay   time.Duration

	// mu serializes the entire two-phase round, matching the teacher's
	// and the Python original's single coordinator-wide lock: transfers
	// are correct but not run concurrently with each other.
	mu sync.Mutex

	// Failure-injection hooks for exercising recovery (SPEC_FULL.md §8
	// scenarios 4 and 5). Nil hooks never fire. Each returns true to
	// simulate a crash at that exact point, aborting Transfer with
	// ErrSimulatedCrash after whatever log entry would have already been
	// durably written.
	FailBeforePrepare     func(txID string) bool
	FailAfterCommitLogged func(txID string) bool
	FailAfterPhase2Sent   func(txID string) bool
}

// New constructs a Coordinator with the default bounded phase-2 retry
// policy (3 attempts, 50ms fixed backoff).
func New(nodes *config.NodeMap, client ParticipantClient, txLog *TxLog) *Coordinator {
	return &Coordinator{
		Nodes:         nodes,
		Client:        client,
		Log:           txLog,
		Phase2Retries: 3,
		Phase2Delay:   50 * time.Millisecond,
	}
}

// Transfer performs one distributed money transfer: it groups the debit
// and credit into per-node operations, runs PREPARE against every
// involved node, and either COMMITs or ABORTs everywhere depending on the
// vote, logging each phase transition before acting on it.
func (c *Coordinator) Transfer(fromNode, fromAccount, toNode, toAccount string, amount int64) (bool, error) {
	if err := c.validateTransfer(fromNode, fromAccount, toNode, toAccount, amount); err != nil {
		return false, err
	}

	txID := uuid.NewString()
	log.Printf("[Coordinator] starting transaction %s: %s/%s -> %s/%s amount=%d",
		txID, fromNode, fromAccount, toNode, toAccount, amount)

	nodeOps := make(map[string][]wire.Operation)
	nodeOps[fromNode] = append(nodeOps[fromNode], wire.Operation{AccountID: fromAccount, Delta: -amount})
	nodeOps[toNode] = append(nodeOps[toNode], wire.Operation{AccountID: toAccount, Delta: amount})

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Log.Append(LogEntry{TxID: txID, Phase: PhaseStart, Timestamp: now(), NodeOps: nodeOps}); err != nil {
		return false, fmt.Errorf("coordinator: log START: %w", err)
	}

	if c.FailBeforePrepare != nil && c.FailBeforePrepare(txID) {
		return false, ErrSimulatedCrash
	}

	if err := c.Log.Append(LogEntry{TxID: txID, Phase: PhasePrepare, Timestamp: now(), NodeOps: nodeOps}); err != nil {
		return false, fmt.Errorf("coordinator: log PREPARE: %w", err)
	}

	votes := c.prepareAll(txID, nodeOps)
	allCommit := true
	for nodeID, ok := range votes {
		log.Printf("[Coordinator] node %s vote for %s: %v", nodeID, txID, ok)
		if !ok {
			allCommit = false
		}
	}

	if !allCommit {
		log.Printf("[Coordinator] at least one node voted ABORT for %s, aborting on all nodes", txID)
		if err := c.Log.Append(LogEntry{TxID: txID, Phase: PhaseAbort, Timestamp: now(), NodeOps: nodeOps, Status: "vote_abort"}); err != nil {
			return false, fmt.Errorf("coordinator: log ABORT: %w", err)
		}
		c.abortAll(txID, nodeOps)
		if err := c.Log.Append(LogEntry{TxID: txID, Phase: PhaseComplete, Timestamp: now(), Status: "aborted"}); err != nil {
			return false, fmt.Errorf("coordinator: log COMPLETE: %w", err)
		}
		return false, nil
	}

	log.Printf("[Coordinator] all nodes voted COMMIT for %s, committing", txID)
	if err := c.Log.Append(LogEntry{TxID: txID, Phase: PhaseCommit, Timestamp: now(), NodeOps: nodeOps, Status: "all_voted_commit"}); err != nil {
		return false, fmt.Errorf("coordinator: log COMMIT: %w", err)
	}

	if c.FailAfterCommitLogged != nil && c.FailAfterCommitLogged(txID) {
		return false, ErrSimulatedCrash
	}

	c.commitAll(txID, nodeOps)

	if c.FailAfterPhase2Sent != nil && c.FailAfterPhase2Sent(txID) {
		return false, ErrSimulatedCrash
	}

	log.Printf("[Coordinator] transaction %s committed", txID)
	if err := c.Log.Append(LogEntry{TxID: txID, Phase: PhaseComplete, Timestamp: now(), Status: "committed"}); err != nil {
		return false, fmt.Errorf("coordinator: log COMPLETE: %w", err)
	}
	return true, nil
}

// validateTransfer rejects a malformed TRANSFER before any txid is
// assigned or log entry written: required fields missing, an
// unconfigured node label, or a non-positive amount are all protocol
// errors per spec.md §4.1, not cases that enter the 2PC round.
func (c *Coordinator) validateTransfer(fromNode, fromAccount, toNode, toAccount string, amount int64) error {
	if fromNode == "" || fromAccount == "" || toNode == "" || toAccount == "" {
		return fmt.Errorf("%w: from_node, from_account, to_node and to_account are all required", ErrProtocol)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive integer, got %d", ErrProtocol, amount)
	}
	if !c.Nodes.Has(fromNode) {
		return fmt.Errorf("%w: unknown from_node %q", ErrProtocol, fromNode)
	}
	if !c.Nodes.Has(toNode) {
		return fmt.Errorf("%w: unknown to_node %q", ErrProtocol, toNode)
	}
	return nil
}

// prepareAll fans PREPARE out to every node in nodeOps concurrently and
// collects one vote per node, using errgroup to generalize the teacher's
// sync.WaitGroup-based fan-out (pkg/two_phase_commit/coordinator.go).
func (c *Coordinator) prepareAll(txID string, nodeOps map[string][]wire.Operation) map[string]bool {
	votes := make(map[string]bool, len(nodeOps))
	var mu sync.Mutex

	var g errgroup.Group
	for nodeID, ops := range nodeOps {
		nodeID, ops := nodeID, ops
		g.Go(func() error {
			ok := c.prepareOnNode(nodeID, txID, ops)
			mu.Lock()
			votes[nodeID] = ok
			mu.Unlock()
			return nil
		})
	}
	g.Wait() // prepareOnNode never returns an error; Wait cannot fail here

	return votes
}

func (c *Coordinator) prepareOnNode(nodeID, txID string, ops []wire.Operation) bool {
	node, ok := c.Nodes.Get(nodeID)
	if !ok {
		log.Printf("[Coordinator] PREPARE failed on node %s: not configured", nodeID)
		return false
	}

	reply, err := c.Client.Prepare(node.Addr(), txID, ops)
	if err != nil {
		log.Printf("[Coordinator] PREPARE failed on node %s: %v", nodeID, err)
		return false
	}
	return reply.Type == wire.TypeVoteCommit
}

// commitAll and abortAll fan phase 2 out concurrently, each with a
// bounded retry against an unresponsive node rather than the single
// fire-and-forget attempt of the original.
func (c *Coordinator) commitAll(txID string, nodeOps map[string][]wire.Operation) {
	var g errgroup.Group
	for nodeID, ops := range nodeOps {
		nodeID, ops := nodeID, ops
		g.Go(func() error {
			c.withRetry(nodeID, func() error { return c.commitOnNode(nodeID, txID, ops) })
			return nil
		})
	}
	g.Wait()
}

func (c *Coordinator) abortAll(txID string, nodeOps map[string][]wire.Operation) {
	var g errgroup.Group
	for nodeID := range nodeOps {
		nodeID := nodeID
		g.Go(func() error {
			c.withRetry(nodeID, func() error { return c.abortOnNode(nodeID, txID) })
			return nil
		})
	}
	g.Wait()
}

func (c *Coordinator) commitOnNode(nodeID, txID string, ops []wire.Operation) error {
	node, ok := c.Nodes.Get(nodeID)
	if !ok {
		return fmt.Errorf("node %s not configured", nodeID)
	}
	_, err := c.Client.Commit(node.Addr(), txID, ops)
	return err
}

func (c *Coordinator) abortOnNode(nodeID, txID string) error {
	node, ok := c.Nodes.Get(nodeID)
	if !ok {
		return fmt.Errorf("node %s not configured", nodeID)
	}
	_, err := c.Client.Abort(node.Addr(), txID)
	return err
}

// withRetry attempts call up to Phase2Retries times with a fixed delay
// between attempts, logging and giving up silently on final failure: a
// participant that never acknowledges phase 2 still gets COMPLETE logged
// so the coordinator doesn't stall, per SPEC_FULL.md §9.
func (c *Coordinator) withRetry(nodeID string, call func() error) {
	attempts := c.Phase2Retries
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = call(); err == nil {
			return
		}
		if i < attempts-1 {
			time.Sleep(c.Phase2Delay)
		}
	}
	log.Printf("[Coordinator] phase 2 call to node %s failed after %d attempts: %v", nodeID, attempts, err)
}
