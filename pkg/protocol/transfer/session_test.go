package transfer

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/marmos91/knsock/pkg/store"
	"github.com/marmos91/knsock/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaFor(t *testing.T, name string, data []byte) *Metadata {
	t.Helper()
	sum, _, err := Checksum(bytes.NewReader(data), "sha256")
	require.NoError(t, err)
	return &Metadata{Name: name, Size: int64(len(data)), ChecksumAlgorithm: "sha256", ExpectedChecksum: sum}
}

func TestSession_StateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("HappyPath", func(t *testing.T) {
		dst := memory.New()
		data := []byte("hello, world")

		s := newSession("peer")
		assert.Equal(t, StateHandshake, s.State)

		require.NoError(t, s.begin(ctx, metaFor(t, "h.txt", data), dst, 0))
		assert.Equal(t, StateTransfer, s.State)

		require.NoError(t, s.write(data[:5]))
		assert.Equal(t, StateTransfer, s.State)
		require.NoError(t, s.write(data[5:]))
		assert.Equal(t, StateVerify, s.State)

		require.NoError(t, s.verify(ctx))
		assert.Equal(t, StateComplete, s.State)
		assert.True(t, s.State.Terminal())

		rc, err := dst.Open(ctx, "h.txt")
		require.NoError(t, err)
		got, _ := io.ReadAll(rc)
		assert.Equal(t, data, got)

		res := s.result()
		assert.Equal(t, StatusComplete, res.Status)
		assert.Nil(t, res.Error)
	})

	t.Run("EmptyFileGoesStraightToVerify", func(t *testing.T) {
		dst := memory.New()
		s := newSession("peer")
		require.NoError(t, s.begin(ctx, metaFor(t, "empty", nil), dst, 0))
		require.NoError(t, s.verify(ctx))
		assert.Equal(t, StateComplete, s.State)
		assert.Equal(t, []string{"empty"}, dst.Names())
	})

	t.Run("MismatchDiscards", func(t *testing.T) {
		dst := memory.New()
		s := newSession("peer")
		require.NoError(t, s.begin(ctx, metaFor(t, "m", []byte("abc")), dst, 0))
		require.NoError(t, s.write([]byte("abd")))

		err := s.verify(ctx)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
		assert.Equal(t, StateFailed, s.State)
		assert.Empty(t, dst.Names())
		assert.Equal(t, CodeChecksumMismatch, s.result().Error.Code)
	})

	t.Run("UppercaseChecksumAccepted", func(t *testing.T) {
		dst := memory.New()
		meta := metaFor(t, "u", []byte("abc"))
		meta.ExpectedChecksum = string(bytes.ToUpper([]byte(meta.ExpectedChecksum)))

		s := newSession("peer")
		require.NoError(t, s.begin(ctx, meta, dst, 0))
		require.NoError(t, s.write([]byte("abc")))
		assert.NoError(t, s.verify(ctx))
	})

	t.Run("OverrunAborts", func(t *testing.T) {
		dst := memory.New()
		s := newSession("peer")
		require.NoError(t, s.begin(ctx, metaFor(t, "o", []byte("abc")), dst, 0))

		err := s.write([]byte("abcd"))
		assert.ErrorIs(t, err, ErrTransferAborted)
		assert.Equal(t, StateFailed, s.State)
		assert.Empty(t, dst.Names())
	})

	t.Run("AbortIsIdempotent", func(t *testing.T) {
		dst := memory.New()
		s := newSession("peer")
		require.NoError(t, s.begin(ctx, metaFor(t, "a", []byte("abc")), dst, 0))

		first := s.abort(io.ErrUnexpectedEOF)
		assert.ErrorIs(t, first, ErrTransferAborted)
		assert.ErrorIs(t, first, io.ErrUnexpectedEOF)
		assert.Equal(t, first, s.abort(io.EOF))
	})

	t.Run("InvalidHandshake", func(t *testing.T) {
		s := newSession("peer")
		err := s.begin(ctx, &Metadata{Name: "../x", ChecksumAlgorithm: "sha256"}, memory.New(), 0)
		assert.ErrorIs(t, err, ErrInvalidMetadata)
		assert.ErrorIs(t, err, store.ErrInvalidName)
		assert.Equal(t, StateFailed, s.State)
		assert.Equal(t, CodeInvalidMetadata, s.result().Error.Code)
	})
}

func TestChecksum_KnownVectors(t *testing.T) {
	vectors := map[string]string{
		"sha256": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		"sha1":   "a9993e364706816aba3e25717850c26c9cd0d89d",
		"md5":    "900150983cd24fb0d6963f7d28e17f72",
		"xxh64":  "44bc2cf5ad770999",
	}

	for alg, want := range vectors {
		got, n, err := Checksum(bytes.NewReader([]byte("abc")), alg)
		require.NoError(t, err, alg)
		assert.Equal(t, int64(3), n)
		assert.Equal(t, want, got, alg)
	}

	_, err := NewHash("crc32")
	assert.ErrorIs(t, err, ErrInvalidMetadata)
	assert.Equal(t, []string{"md5", "sha1", "sha256", "sha512", "xxh64"}, Algorithms())
}

func TestDecodeMetadata_DefaultsAlgorithm(t *testing.T) {
	m, err := decodeMetadata([]byte(`{"name":"a","size":0,"expected_checksum":""}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithm, m.ChecksumAlgorithm)

	_, err = decodeMetadata([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestDecodeMetadata_RejectsTrailingData(t *testing.T) {
	for _, payload := range []string{
		`{"name":"a","size":0} garbage`,
		`{"name":"a","size":0}{"name":"b","size":0}`,
	} {
		_, err := decodeMetadata([]byte(payload))
		assert.ErrorIs(t, err, ErrInvalidMetadata, payload)
	}

	_, err := decodeMetadata([]byte("{\"name\":\"a\",\"size\":0}\n"))
	assert.NoError(t, err, "trailing whitespace is allowed")
}

func TestRemoteError_Unwrap(t *testing.T) {
	assert.ErrorIs(t, &RemoteError{Code: CodeChecksumMismatch}, ErrChecksumMismatch)
	assert.ErrorIs(t, &RemoteError{Code: CodeTransferAborted}, ErrTransferAborted)
	assert.ErrorIs(t, &RemoteError{Code: CodeStoreError}, ErrStore)
	assert.NotErrorIs(t, &RemoteError{Code: "other"}, ErrStore)
}
