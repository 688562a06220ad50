package jsonsock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/marmos91/knsock/pkg/conn"
)

// Message is one decoded request. It is only valid during the handler call.
type Message struct {
	// Doc is the decoded document. Numbers are json.Number.
	Doc any

	// Raw is the frame payload the document was decoded from.
	Raw []byte

	// Conn is the connection the request arrived on.
	Conn *conn.Connection
}

// Decode unmarshals the raw payload into v.
func (m *Message) Decode(v any) error {
	return unmarshal(m.Raw, v)
}

// unmarshal decodes exactly one JSON value, keeping numbers exact.
func unmarshal(data []byte, v any) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedJSON)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after document", ErrMalformedJSON)
	}
	return nil
}

// asRemoteError recognises an error envelope: an object whose only key is
// "error" holding a code.
func asRemoteError(data []byte) *RemoteError {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) != 1 {
		return nil
	}
	if _, ok := fields["error"]; !ok {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Error == nil || env.Error.Code == "" {
		return nil
	}
	return env.Error
}

func encodeError(code, message string) []byte {
	out, _ := json.Marshal(envelope{Error: &RemoteError{Code: code, Message: message}})
	return out
}
