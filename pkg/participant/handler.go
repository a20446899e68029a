package participant

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"

	"github.com/baxromumarov/distributed-ledger/pkg/wire"
)

// NewHandler returns a transport.Handler that dispatches the one message on
// conn to store and writes back the single reply, matching the connection
// model of spec.md §4.3: one request, one reply, then the caller closes.
func NewHandler(store *Store) func(conn net.Conn) {
	return func(conn net.Conn) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Participant %s] panic handling connection: %v", store.Label, r)
			}
		}()

		msg, err := wire.ReadMessage(bufio.NewReader(conn))
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, wire.ErrMalformed) {
				log.Printf("[Participant %s] read error: %v", store.Label, err)
			}
			return
		}

		reply, err := dispatch(store, msg)
		if err != nil {
			log.Printf("[Participant %s] handling %s failed: %v", store.Label, msg.Type, err)
			reply = wire.NewError(err.Error())
		}

		if err := wire.WriteMessage(conn, reply); err != nil {
			log.Printf("[Participant %s] write error: %v", store.Label, err)
		}
	}
}

func dispatch(store *Store, msg wire.Message) (wire.Message, error) {
	switch msg.Type {
	case wire.TypePrepare:
		ok, err := store.Prepare(msg.TxID, msg.Operations)
		if err != nil {
			return wire.Message{}, err
		}
		return wire.NewVote(msg.TxID, ok), nil

	case wire.TypeCommit:
		status, err := store.Commit(msg.TxID, msg.Operations)
		if err != nil {
			return wire.Message{}, err
		}
		return wire.NewAck(msg.TxID, status), nil

	case wire.TypeAbort:
		if err := store.Abort(msg.TxID); err != nil {
			return wire.Message{}, err
		}
		return wire.NewAck(msg.TxID, wire.AckAborted), nil

	case wire.TypeRead:
		return wire.NewReadResult(msg.AccountID, store.Read(msg.AccountID)), nil

	default:
		return wire.NewError("unknown message type " + string(msg.Type)), nil
	}
}
