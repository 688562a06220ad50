package conn

import "errors"

// ErrTimeout is returned when a read or write does not complete within the
// configured timeout. The connection is closed before the error is returned.
var ErrTimeout = errors.New("connection timeout")
