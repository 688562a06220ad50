package raw

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/marmos91/knsock/pkg/adapter/stream"
	"github.com/marmos91/knsock/pkg/conn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func startServer(t *testing.T, mode stream.Mode, h Handler, opts ...Option) string {
	t.Helper()

	a := stream.New(Protocol, stream.Config{
		Host:               "127.0.0.1",
		Mode:               mode,
		ReadTimeout:        5 * time.Second,
		ShutdownTimeout:    2 * time.Second,
		MetricsLogInterval: -1,
	}, NewServer(h, opts...))
	require.NoError(t, a.Listen(context.Background()))
	go func() { _ = a.Serve(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a.Addr().String()
}

func TestRaw_Echo(t *testing.T) {
	for _, mode := range []stream.Mode{stream.ModeThreaded, stream.ModeCooperative} {
		t.Run(string(mode), func(t *testing.T) {
			addr := startServer(t, mode, Echo)

			reply, err := Send(context.Background(), addr, []byte("hello"), conn.Options{})
			require.NoError(t, err)
			assert.Equal(t, "hello", string(reply))

			big := make([]byte, 200_000)
			_, err = rand.Read(big)
			require.NoError(t, err)

			reply, err = Send(context.Background(), addr, big, conn.Options{})
			require.NoError(t, err)
			assert.True(t, bytes.Equal(big, reply))
		})
	}
}

func TestRaw_EmptyMessage(t *testing.T) {
	addr := startServer(t, stream.ModeThreaded, Echo)

	reply, err := Send(context.Background(), addr, nil, conn.Options{})
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestRaw_CustomHandler(t *testing.T) {
	upper := HandlerFunc(func(_ context.Context, data []byte) ([]byte, error) {
		return bytes.ToUpper(data), nil
	})
	addr := startServer(t, stream.ModeCooperative, upper, WithBufferSize(2))

	reply, err := Send(context.Background(), addr, []byte("abcdef"), conn.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", string(reply))
}

func TestRaw_ConcurrentClients(t *testing.T) {
	addr := startServer(t, stream.ModeCooperative, Echo)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			msg := fmt.Sprintf("client %d", i)
			reply, err := Send(context.Background(), addr, []byte(msg), conn.Options{})
			if err != nil {
				return err
			}
			if string(reply) != msg {
				return fmt.Errorf("got %q, want %q", reply, msg)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestRaw_HandlerErrorClosesConnection(t *testing.T) {
	failing := HandlerFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})
	addr := startServer(t, stream.ModeThreaded, failing)

	// The server hangs up without replying.
	reply, err := Send(context.Background(), addr, []byte("x"), conn.Options{})
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestSend_ContextDeadline(t *testing.T) {
	// A peer that never answers and never closes.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		<-time.After(5 * time.Second)
		_ = nc.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = Send(ctx, ln.Addr().String(), []byte("hello?"), conn.Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
