package metrics

import "time"

// Directions for RecordFrame.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Transfer outcomes for RecordTransfer.
const (
	OutcomeComplete         = "complete"
	OutcomeChecksumMismatch = "checksum_mismatch"
	OutcomeAborted          = "aborted"
	OutcomeRejected         = "rejected"
)

// SocketMetrics provides observability for acceptors, connections and the
// protocols running on them.
//
// The protocol label is the adapter's Protocol() name ("json", "transfer",
// "raw").
type SocketMetrics interface {
	// RecordConnectionAccepted counts a connection handed to a handler.
	RecordConnectionAccepted(protocol string)

	// RecordConnectionRejected counts a connection closed immediately because
	// max_connections was reached.
	RecordConnectionRejected(protocol string)

	// RecordConnectionClosed counts a connection whose handler returned.
	RecordConnectionClosed(protocol string)

	// RecordConnectionForceClosed counts a connection closed by a shutdown
	// that ran out of grace period.
	RecordConnectionForceClosed(protocol string)

	// SetActiveConnections updates the current connection gauge.
	SetActiveConnections(protocol string, count int32)

	// RecordFrame counts one frame of payload size bytes in direction.
	RecordFrame(direction string, bytes int)

	// RecordRequest records one request/response exchange.
	RecordRequest(protocol string, duration time.Duration, err error)

	// RecordTransfer records the end of one file transfer session.
	RecordTransfer(outcome string, bytes int64, duration time.Duration)
}

type noopSocketMetrics struct{}

// NewNoopSocketMetrics returns a SocketMetrics that discards everything.
func NewNoopSocketMetrics() SocketMetrics {
	return noopSocketMetrics{}
}

func (noopSocketMetrics) RecordConnectionAccepted(string)             {}
func (noopSocketMetrics) RecordConnectionRejected(string)             {}
func (noopSocketMetrics) RecordConnectionClosed(string)               {}
func (noopSocketMetrics) RecordConnectionForceClosed(string)          {}
func (noopSocketMetrics) SetActiveConnections(string, int32)          {}
func (noopSocketMetrics) RecordFrame(string, int)                     {}
func (noopSocketMetrics) RecordRequest(string, time.Duration, error)  {}
func (noopSocketMetrics) RecordTransfer(string, int64, time.Duration) {}
