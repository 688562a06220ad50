package conn

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/marmos91/knsock/internal/ratelimiter"
	"github.com/marmos91/knsock/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- nc
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server, ok := <-accepted
	require.True(t, ok, "accept failed")

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func TestConnection_Frames(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		a, b := tcpPair(t)
		left := New(a, Options{})
		right := New(b, Options{})

		for _, msg := range []string{"", "one", "two"} {
			require.NoError(t, left.SendFrame([]byte(msg)))
		}
		for _, want := range []string{"", "one", "two"} {
			got, err := right.ReceiveFrame()
			require.NoError(t, err)
			assert.Equal(t, want, string(got))
		}
	})

	t.Run("OversizedSendKeepsConnectionOpen", func(t *testing.T) {
		a, b := tcpPair(t)
		left := New(a, Options{MaxFrameSize: 8})
		right := New(b, Options{MaxFrameSize: 8})

		err := left.SendFrame(make([]byte, 9))
		assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
		assert.False(t, left.IsClosed())

		require.NoError(t, left.SendFrame([]byte("ok")))
		got, err := right.ReceiveFrame()
		require.NoError(t, err)
		assert.Equal(t, "ok", string(got))
	})

	t.Run("OversizedReceiveCloses", func(t *testing.T) {
		a, b := tcpPair(t)
		sender := New(a, Options{MaxFrameSize: 64})
		receiver := New(b, Options{MaxFrameSize: 8})

		require.NoError(t, sender.SendFrame(make([]byte, 32)))
		_, err := receiver.ReceiveFrame()
		assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
		assert.True(t, receiver.IsClosed())
	})

	t.Run("PeerCloseIsConnectionClosed", func(t *testing.T) {
		a, b := tcpPair(t)
		c := New(a, Options{})
		require.NoError(t, b.Close())

		_, err := c.ReceiveFrame()
		assert.ErrorIs(t, err, frame.ErrConnectionClosed)
		assert.True(t, c.IsClosed())
	})

	t.Run("PeerCloseMidFrameIsIncomplete", func(t *testing.T) {
		a, b := tcpPair(t)
		c := New(a, Options{})

		_, err := b.Write([]byte{0, 0, 0, 10, 'a', 'b'})
		require.NoError(t, err)
		require.NoError(t, b.Close())

		_, err = c.ReceiveFrame()
		assert.ErrorIs(t, err, frame.ErrIncompleteFrame)
		assert.True(t, c.IsClosed())
	})

	t.Run("UseAfterClose", func(t *testing.T) {
		a, _ := tcpPair(t)
		c := New(a, Options{})
		require.NoError(t, c.Close())

		assert.ErrorIs(t, c.SendFrame([]byte("x")), frame.ErrConnectionClosed)
		_, err := c.ReceiveFrame()
		assert.ErrorIs(t, err, frame.ErrConnectionClosed)
	})
}

func TestConnection_Timeouts(t *testing.T) {
	t.Run("ReadTimeoutClosesConnection", func(t *testing.T) {
		a, _ := tcpPair(t)
		c := New(a, Options{ReadTimeout: 50 * time.Millisecond})

		start := time.Now()
		_, err := c.ReceiveFrame()
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, c.IsClosed())
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("IdleTimeoutAppliesToHeader", func(t *testing.T) {
		a, _ := tcpPair(t)
		c := New(a, Options{ReadTimeout: time.Minute, IdleTimeout: 50 * time.Millisecond})

		_, err := c.ReceiveFrame()
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("ContinuationIgnoresIdleTimeout", func(t *testing.T) {
		a, _ := tcpPair(t)
		c := New(a, Options{ReadTimeout: 50 * time.Millisecond, IdleTimeout: time.Minute})

		start := time.Now()
		_, err := c.ReceiveContinuation()
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, c.IsClosed())
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("RawReadTimeout", func(t *testing.T) {
		a, _ := tcpPair(t)
		c := New(a, Options{ReadTimeout: 50 * time.Millisecond})

		_, err := c.Read(make([]byte, 16))
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, c.IsClosed())
	})
}

func TestConnection_Close(t *testing.T) {
	a, _ := tcpPair(t)
	c := New(a, Options{})

	assert.NotEmpty(t, c.ID())
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestConnection_Raw(t *testing.T) {
	a, b := tcpPair(t)
	left := New(a, Options{})
	right := New(b, Options{})

	n, err := left.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	_, err = io.ReadFull(right, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, left.Close())
	_, err = right.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, right.IsClosed())
}

func TestConnection_CloseWrite(t *testing.T) {
	a, b := tcpPair(t)
	left := New(a, Options{})

	_, err := left.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, left.CloseWrite())

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	// The half-closed side can still read.
	_, err = b.Write([]byte("pong"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(left, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))
	assert.False(t, left.IsClosed())
}

func TestConnection_RateLimit(t *testing.T) {
	a, b := tcpPair(t)
	sender := New(a, Options{})
	receiver := New(b, Options{
		Limiter: ratelimiter.New(ratelimiter.Config{FramesPerSecond: 10, Burst: 1}),
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, sender.SendFrame([]byte("x")))
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := receiver.ReceiveFrame()
		require.NoError(t, err)
	}
	// One frame from the burst, two more at 10/s.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestConnection_GateReleasedDuringIO(t *testing.T) {
	a, b := tcpPair(t)
	gate := NewGate()
	c := New(a, Options{Gate: gate})
	peer := New(b, Options{})

	ctx := context.Background()
	require.NoError(t, gate.Acquire(ctx))

	result := make(chan error, 1)
	go func() {
		_, err := c.ReceiveFrame()
		gate.Release()
		result <- err
	}()

	// The receiver is parked on the socket, so the token must be free.
	acquireCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, gate.Acquire(acquireCtx))
	gate.Release()

	require.NoError(t, peer.SendFrame([]byte("wake")))
	require.NoError(t, <-result)

	// The receiver gave the token back when it finished.
	require.NoError(t, gate.Acquire(acquireCtx))
	gate.Release()
}

func TestGate(t *testing.T) {
	t.Run("Exclusive", func(t *testing.T) {
		g := NewGate()
		require.NoError(t, g.Acquire(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, g.Acquire(ctx), context.DeadlineExceeded)

		g.Release()
		assert.NoError(t, g.Acquire(context.Background()))
	})

	t.Run("NilGateNeverBlocks", func(t *testing.T) {
		var g *Gate
		assert.NoError(t, g.Acquire(context.Background()))
		g.Release()
	})
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		c := New(nc, Options{})
		defer c.Close()
		payload, err := c.ReceiveFrame()
		if err == nil {
			_ = c.SendFrame(payload)
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendFrame([]byte("echo")))
	got, err := c.ReceiveFrame()
	require.NoError(t, err)
	assert.Equal(t, "echo", string(got))

	_, err = Dial(context.Background(), "127.0.0.1:1", Options{})
	assert.Error(t, err)
}
