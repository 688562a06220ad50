package stream

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/knsock/internal/ratelimiter"
)

// Mode selects how accepted connections are scheduled.
type Mode string

const (
	// ModeThreaded runs every connection on its own goroutine.
	ModeThreaded Mode = "threaded"

	// ModeCooperative runs one handler at a time. Handlers give up the
	// execution token only while blocked on socket I/O.
	ModeCooperative Mode = "cooperative"
)

// OverflowPolicy decides what happens to a connection that arrives while
// MaxConnections handlers are active.
type OverflowPolicy string

const (
	// OverflowReject accepts and immediately closes the new connection.
	OverflowReject OverflowPolicy = "reject"

	// OverflowQueue stops accepting until a slot frees. Pending clients
	// wait in the kernel backlog.
	OverflowQueue OverflowPolicy = "queue"
)

// Config holds the acceptor configuration.
//
// Default values (applied by New if zero):
//   - Mode: threaded
//   - Overflow: reject
//   - MaxFrameSize: 16MB
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
//
// Timeouts of zero mean no timeout. Port 0 lets the OS choose a port.
type Config struct {
	// Enabled controls whether the adapter is started by the server.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Host is the bind address. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host" json:"host,omitempty"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" yaml:"port" json:"port" validate:"min=0,max=65535"`

	// Mode is the concurrency model: threaded or cooperative.
	Mode Mode `mapstructure:"mode" yaml:"mode" json:"mode,omitempty" validate:"omitempty,oneof=threaded cooperative" jsonschema:"enum=threaded,enum=cooperative"`

	// MaxConnections limits concurrently served connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" json:"max_connections" validate:"min=0"`

	// Overflow is applied when MaxConnections is reached: reject or queue.
	Overflow OverflowPolicy `mapstructure:"overflow" yaml:"overflow" json:"overflow,omitempty" validate:"omitempty,oneof=reject queue" jsonschema:"enum=reject,enum=queue"`

	// MaxFrameSize bounds frame payloads in bytes.
	MaxFrameSize int `mapstructure:"max_frame_size" yaml:"max_frame_size" json:"max_frame_size" validate:"min=0"`

	// ReadTimeout bounds each socket read.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds each socket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout" validate:"min=0"`

	// IdleTimeout bounds the wait between two messages.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is the grace period for in-flight connections before
	// they are force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is how often the active connection count is
	// logged. Negative disables the log line.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" json:"metrics_log_interval"`

	// RateLimit throttles frames received on each connection.
	RateLimit ratelimiter.Config `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeThreaded
	}
	if c.Overflow == "" {
		c.Overflow = OverflowReject
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 16 << 20
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// Validate checks a configuration after defaults have been applied.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	switch c.Mode {
	case ModeThreaded, ModeCooperative:
	default:
		return fmt.Errorf("invalid mode %q: must be threaded or cooperative", c.Mode)
	}
	switch c.Overflow {
	case OverflowReject, OverflowQueue:
	default:
		return fmt.Errorf("invalid overflow policy %q: must be reject or queue", c.Overflow)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("invalid max_frame_size %d: must be > 0", c.MaxFrameSize)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts: must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// Address returns the host:port the acceptor binds.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
