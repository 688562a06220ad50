package memory

import (
	"testing"

	"github.com/marmos91/knsock/pkg/store"
	storetest "github.com/marmos91/knsock/pkg/store/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store { return New() },
	}
	suite.Run(t)
}
