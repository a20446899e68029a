package transport

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/baxromumarov/distributed-ledger/pkg/wire"
)

func startEchoVoteServer(t *testing.T, vote wire.Message) (addr string, stop func()) {
	t.Helper()

	srv := NewServer("127.0.0.1:0", func(conn net.Conn) {
		if _, err := wire.ReadMessage(bufio.NewReader(conn)); err != nil {
			return
		}
		wire.WriteMessage(conn, vote)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// Start binds asynchronously; poll until the listener address is set.
	deadline := time.Now().Add(time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind in time")
		}
		time.Sleep(time.Millisecond)
	}

	return srv.Addr().String(), func() {
		srv.Stop()
		<-errCh
	}
}

func TestClientPrepareRoundTrip(t *testing.T) {
	addr, stop := startEchoVoteServer(t, wire.NewVote("tx-1", true))
	defer stop()

	client := NewClient(time.Second)
	reply, err := client.Prepare(addr, "tx-1", []wire.Operation{{AccountID: "A", Delta: -5}})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if reply.Type != wire.TypeVoteCommit {
		t.Errorf("expected VOTE_COMMIT, got %s", reply.Type)
	}
}

func TestClientCallUnreachable(t *testing.T) {
	client := NewClient(100 * time.Millisecond)
	// Nothing listens on port 1; this exercises the "unreachable participant"
	// path that the coordinator treats as a NO vote.
	if _, err := client.Call("127.0.0.1:1", wire.NewRead("A")); err == nil {
		t.Error("expected an error dialing an unreachable address")
	}
}
