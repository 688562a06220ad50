// Package testing provides a conformance suite for store.Store
// implementations.
package testing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/marmos91/knsock/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the Store contract, independent of the backend.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetest.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.Store { return mystore.New() },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) store.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("CommitPublishes", suite.testCommitPublishes)
	t.Run("EmptyFile", suite.testEmptyFile)
	t.Run("AbortLeavesNothing", suite.testAbortLeavesNothing)
	t.Run("AbortAfterCommitIsNoop", suite.testAbortAfterCommit)
	t.Run("CommitReplaces", suite.testCommitReplaces)
	t.Run("ConcurrentStages", suite.testConcurrentStages)
}

func (suite *StoreTestSuite) newStore(t *testing.T) store.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func read(t *testing.T, s store.Store, name string) []byte {
	t.Helper()
	rc, err := s.Open(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func (suite *StoreTestSuite) testCommitPublishes(t *testing.T) {
	ctx := context.Background()
	s := suite.newStore(t)

	staged, err := s.Stage(ctx, "file.bin")
	require.NoError(t, err)

	_, err = staged.Write([]byte("hello "))
	require.NoError(t, err)

	// Not visible before commit.
	_, err = s.Open(ctx, "file.bin")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = staged.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, staged.Commit(ctx))

	assert.Equal(t, []byte("hello world"), read(t, s, "file.bin"))
}

func (suite *StoreTestSuite) testEmptyFile(t *testing.T) {
	ctx := context.Background()
	s := suite.newStore(t)

	staged, err := s.Stage(ctx, "empty")
	require.NoError(t, err)
	require.NoError(t, staged.Commit(ctx))

	assert.Empty(t, read(t, s, "empty"))
}

func (suite *StoreTestSuite) testAbortLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := suite.newStore(t)

	staged, err := s.Stage(ctx, "partial.bin")
	require.NoError(t, err)
	_, err = staged.Write([]byte("half a file"))
	require.NoError(t, err)
	require.NoError(t, staged.Abort())

	_, err = s.Open(ctx, "partial.bin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testAbortAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := suite.newStore(t)

	staged, err := s.Stage(ctx, "kept")
	require.NoError(t, err)
	_, err = staged.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, staged.Commit(ctx))
	assert.NoError(t, staged.Abort())

	assert.Equal(t, []byte("data"), read(t, s, "kept"))
}

func (suite *StoreTestSuite) testCommitReplaces(t *testing.T) {
	ctx := context.Background()
	s := suite.newStore(t)

	for _, content := range []string{"first", "second"} {
		staged, err := s.Stage(ctx, "same")
		require.NoError(t, err)
		_, err = staged.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, staged.Commit(ctx))
	}

	assert.Equal(t, []byte("second"), read(t, s, "same"))
}

func (suite *StoreTestSuite) testConcurrentStages(t *testing.T) {
	ctx := context.Background()
	s := suite.newStore(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			staged, err := s.Stage(ctx, fmt.Sprintf("file-%d", i))
			if err != nil {
				errs <- err
				return
			}
			if _, err := staged.Write(bytes.Repeat([]byte{byte(i)}, 1000+i)); err != nil {
				errs <- err
				return
			}
			errs <- staged.Commit(ctx)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 1000+i), read(t, s, fmt.Sprintf("file-%d", i)))
	}
}
