package transport

import (
	"bufio"
	"net"
	"time"

	"github.com/baxromumarov/distributed-ledger/pkg/wire"
)

// Client dials a single TCP connection per call, writes one request
// message, reads one reply, and closes — the connection model §4.3
// mandates. It generalizes the teacher's HTTPClient (one method per
// message kind, a shared timeout) to the raw wire.Message protocol.
type Client struct {
	Timeout time.Duration
}

// NewClient creates a Client bounding each call's dial+round-trip by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{Timeout: timeout}
}

// Call opens a fresh connection to addr, sends req, and returns the single
// reply. Any dial, write, or read failure — including a timeout — is
// returned as an error; callers in the coordinator treat that identically
// to an explicit VOTE_ABORT during PREPARE (spec.md §4.1 step 3).
func (c *Client) Call(addr string, req wire.Message) (wire.Message, error) {
	conn, err := net.DialTimeout("tcp", addr, c.Timeout)
	if err != nil {
		return wire.Message{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return wire.Message{}, err
	}

	if err := wire.WriteMessage(conn, req); err != nil {
		return wire.Message{}, err
	}

	return wire.ReadMessage(bufio.NewReader(conn))
}

// Prepare sends a PREPARE request and returns the participant's vote.
func (c *Client) Prepare(addr, txID string, ops []wire.Operation) (wire.Message, error) {
	return c.Call(addr, wire.NewPrepare(txID, ops))
}

// Commit sends a COMMIT request and returns the participant's ACK.
func (c *Client) Commit(addr, txID string, ops []wire.Operation) (wire.Message, error) {
	return c.Call(addr, wire.NewCommit(txID, ops))
}

// Abort sends an ABORT request and returns the participant's ACK.
func (c *Client) Abort(addr, txID string) (wire.Message, error) {
	return c.Call(addr, wire.NewAbort(txID))
}

// Read fetches a single account's balance from a participant.
func (c *Client) Read(addr, accountID string) (wire.Message, error) {
	return c.Call(addr, wire.NewRead(accountID))
}

// Transfer sends a client TRANSFER request to the coordinator.
func (c *Client) Transfer(addr, fromNode, fromAccount, toNode, toAccount string, amount int64) (wire.Message, error) {
	return c.Call(addr, wire.NewTransfer(fromNode, fromAccount, toNode, toAccount, amount))
}
