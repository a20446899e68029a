package coordinator

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"

	"github.com/baxromumarov/distributed-ledger/pkg/wire"
)

// NewHandler returns a transport.Handler that serves client-facing
// connections: reads one TRANSFER request, drives it through the
// coordinator, and writes back a single TRANSFER_RESULT.
func NewHandler(c *Coordinator) func(conn net.Conn) {
	return func(conn net.Conn) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Coordinator] panic handling connection: %v", r)
			}
		}()

		msg, err := wire.ReadMessage(bufio.NewReader(conn))
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, wire.ErrMalformed) {
				log.Printf("[Coordinator] read error: %v", err)
			}
			return
		}

		reply := dispatch(c, msg)
		if err := wire.WriteMessage(conn, reply); err != nil {
			log.Printf("[Coordinator] write error: %v", err)
		}
	}
}

func dispatch(c *Coordinator, msg wire.Message) wire.Message {
	switch msg.Type {
	case wire.TypeTransfer:
		ok, err := c.Transfer(msg.FromNode, msg.FromAccount, msg.ToNode, msg.ToAccount, msg.Amount)
		if err != nil {
			log.Printf("[Coordinator] transfer failed: %v", err)
			return wire.NewError(err.Error())
		}
		return wire.NewTransferResult(ok)

	default:
		return wire.NewError("unknown client message")
	}
}
