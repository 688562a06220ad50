package jsonsock

import (
	"errors"
	"fmt"
)

// ErrMalformedJSON indicates a payload that is not valid UTF-8 JSON.
var ErrMalformedJSON = errors.New("malformed json")

// Error codes carried in error envelopes.
const (
	CodeMalformedJSON    = "malformed_json"
	CodeHandlerError     = "handler_error"
	CodeResponseTooLarge = "response_too_large"
)

// RemoteError is an error envelope returned by the server:
//
//	{"error": {"code": "...", "message": "..."}}
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%s): %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrMalformedJSON) match a malformed_json envelope.
func (e *RemoteError) Is(target error) bool {
	return target == ErrMalformedJSON && e.Code == CodeMalformedJSON
}

type envelope struct {
	Error *RemoteError `json:"error"`
}
