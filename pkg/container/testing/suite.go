// Package testing provides a conformance test suite for container.Store
// implementations. It tests the interface contract, not implementation
// details, so every backend (memory, native, badgerstore, s3) runs the same
// suite and differs only in its factory function.
package testing

import (
	"context"
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
)

// StoreTestSuite is a conformance test suite for container.Store
// implementations.
//
// Usage:
//
//	func TestMemoryStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) container.Store {
//	            return memory.New(container.Create)
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh writable store for each test, ensuring
	// test isolation. Backends needing cleanup register it on t.
	NewStore func(t *testing.T) container.Store

	// Reopen, when non-nil, closes the store and reopens the same
	// backing storage read-write. Persistent backends set this so the
	// suite can verify durability; the memory backend leaves it nil.
	Reopen func(t *testing.T, s container.Store) container.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Structure", suite.RunStructureTests)
	t.Run("Attributes", suite.RunAttributeTests)
	t.Run("SlabIO", suite.RunSlabTests)
	t.Run("Mutation", suite.RunMutationTests)
	if suite.Reopen != nil {
		t.Run("Persistence", suite.RunPersistenceTests)
	}
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
