package testing

import (
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/stretchr/testify/require"
)

// seqInt64 encodes n sequential int64 values starting at start as
// little-endian payload bytes.
func seqInt64(start int64, n int) []byte {
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		container.ByteOrder.PutUint64(out[i*8:], uint64(start+int64(i)))
	}
	return out
}

// decodeInt64 decodes a little-endian int64 payload.
func decodeInt64(data []byte) []int64 {
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(container.ByteOrder.Uint64(data[i*8:]))
	}
	return out
}

// mustCreateGroup creates a group or fails the test.
func mustCreateGroup(t *testing.T, s container.Store, path string) {
	t.Helper()
	require.NoError(t, s.CreateGroup(testContext(), path), "CreateGroup(%s)", path)
}

// mustCreateField creates a fixed-shape field or fails the test.
func mustCreateField(t *testing.T, s container.Store, path string, dtype container.Dtype, shape container.Shape) {
	t.Helper()
	require.NoError(t, s.CreateField(testContext(), path, dtype, shape, nil),
		"CreateField(%s)", path)
}

// mustWrite writes a whole-field payload or fails the test.
func mustWrite(t *testing.T, s container.Store, path string, shape container.Shape, data []byte) {
	t.Helper()
	require.NoError(t, s.WriteValue(testContext(), path, container.WholeSlab(shape), data),
		"WriteValue(%s)", path)
}

// requireCode asserts that err is a StoreError with the given code.
func requireCode(t *testing.T, err error, code container.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	got, ok := container.CodeOf(err)
	require.True(t, ok, "expected StoreError, got %T: %v", err, err)
	require.Equal(t, code, got, "unexpected error code for %v", err)
}
