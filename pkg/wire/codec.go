package wire

import (
	"bufio"
	"errors"
	"io"

	json "github.com/goccy/go-json"
)

// ErrMalformed is returned by ReadMessage when a line could not be parsed as
// a Message. Callers treat this the same as a closed connection: the
// message is dropped, not propagated as a fatal error.
var ErrMalformed = errors.New("wire: malformed message")

// WriteMessage serializes msg as a single JSON object terminated by a
// newline byte and writes it to w.
func WriteMessage(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	body = append(body, '\n')
	_, err = w.Write(body)
	return err
}

// ReadMessage reads up to the first newline byte from r and parses the
// preceding bytes as a Message. Any bytes after that newline are left
// unread; one message per connection is the convention in this protocol.
//
// io.EOF is returned when the connection closes before any bytes arrive.
// ErrMalformed is returned when a line was read but does not parse as JSON;
// callers should treat this like a closed connection, not a fatal error.
func ReadMessage(r *bufio.Reader) (Message, error) {
	line, err := r.ReadBytes('\n')
	if len(line) == 0 {
		if err != nil {
			return Message{}, err
		}
		return Message{}, io.EOF
	}
	// A connection closed mid-line (err == io.EOF with a partial, unterminated
	// read) still gets a parse attempt on whatever bytes arrived; most such
	// partial lines fail to parse and come back as ErrMalformed.
	if err != nil && err != io.EOF {
		return Message{}, err
	}

	var msg Message
	if jsonErr := json.Unmarshal(line, &msg); jsonErr != nil {
		return Message{}, ErrMalformed
	}
	return msg, nil
}
