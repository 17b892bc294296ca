package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
)

func testPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "scan.nxt")
}

func TestLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	l := New(path, Options{})
	require.Equal(t, Unlocked, l.State())

	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, Held, l.State())
	assert.FileExists(t, l.MarkerPath())

	info, err := Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.Token)

	require.NoError(t, l.Release())
	assert.Equal(t, Released, l.State())
	assert.NoFileExists(t, l.MarkerPath())

	// Release is idempotent.
	require.NoError(t, l.Release())
}

func TestLock_AcquireWhileHeld(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	first := New(path, Options{})
	require.NoError(t, first.Acquire(ctx))
	defer first.Release()

	// The holder is this live process, so the second claim must wait out
	// its timeout and fail.
	second := New(path, Options{Timeout: 100 * time.Millisecond, PollInterval: 20 * time.Millisecond})
	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrLockTimeout))
	assert.Equal(t, Unlocked, second.State())
}

func TestLock_AcquiringStateWhilePolling(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	holder := New(path, Options{})
	require.NoError(t, holder.Acquire(ctx))

	waiter := New(path, Options{Timeout: 5 * time.Second, PollInterval: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- waiter.Acquire(ctx) }()

	// The poll loop reports Acquiring until the holder lets go.
	require.Eventually(t, func() bool {
		return waiter.State() == Acquiring
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, holder.Release())
	require.NoError(t, <-done)
	assert.Equal(t, Held, waiter.State())
	require.NoError(t, waiter.Release())
}

func TestLock_AcquireAfterRelease(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	first := New(path, Options{})
	require.NoError(t, first.Acquire(ctx))
	require.NoError(t, first.Release())

	second := New(path, Options{Timeout: time.Second, PollInterval: 10 * time.Millisecond})
	require.NoError(t, second.Acquire(ctx))
	require.NoError(t, second.Release())
}

func TestLock_StaleDeadProcess(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	hostname, err := os.Hostname()
	require.NoError(t, err)

	// Plant a marker owned by a pid that cannot be alive.
	stale := Info{
		PID:      1 << 30,
		Hostname: hostname,
		Token:    "dead-token",
		Created:  time.Now().UTC(),
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+Suffix, raw, 0o644))

	l := New(path, Options{Timeout: 2 * time.Second, PollInterval: 10 * time.Millisecond})
	require.NoError(t, l.Acquire(ctx))
	defer l.Release()

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestLock_StaleByAge(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	// A live pid on another host cannot be probed; only age can expire it.
	stale := Info{
		PID:      os.Getpid(),
		Hostname: "some-other-machine",
		Token:    "remote-token",
		Created:  time.Now().UTC().Add(-time.Hour),
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+Suffix, raw, 0o644))

	l := New(path, Options{
		Timeout:      2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Expiry:       30 * time.Minute,
	})
	require.NoError(t, l.Acquire(ctx))
	defer l.Release()
}

func TestLock_FreshRemoteHolderBlocks(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	fresh := Info{
		PID:      12345,
		Hostname: "some-other-machine",
		Token:    "remote-token",
		Created:  time.Now().UTC(),
	}
	raw, err := json.Marshal(fresh)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+Suffix, raw, 0o644))

	l := New(path, Options{Timeout: 100 * time.Millisecond, PollInterval: 20 * time.Millisecond})
	err = l.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrLockTimeout))
}

func TestLock_ContextCancel(t *testing.T) {
	path := testPath(t)

	first := New(path, Options{})
	require.NoError(t, first.Acquire(context.Background()))
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	second := New(path, Options{Timeout: time.Minute, PollInterval: 10 * time.Millisecond})
	err := second.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_VerifyDetectsClear(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	l := New(path, Options{})
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Verify())

	// An operator clears the lock out from under the holder.
	require.NoError(t, Clear(path))

	err := l.Verify()
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrLocked))
}

func TestLock_ReleaseDoesNotRemoveStolenMarker(t *testing.T) {
	ctx := context.Background()
	path := testPath(t)

	first := New(path, Options{})
	require.NoError(t, first.Acquire(ctx))

	// Clear and let a second writer take over.
	require.NoError(t, Clear(path))
	second := New(path, Options{})
	require.NoError(t, second.Acquire(ctx))

	// The original holder's release must leave the new marker in place.
	require.NoError(t, first.Release())
	info, err := Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.NoError(t, second.Verify())
	require.NoError(t, second.Release())
}

func TestClear_NoMarker(t *testing.T) {
	require.NoError(t, Clear(testPath(t)))
}

func TestInspect_NoMarker(t *testing.T) {
	info, err := Inspect(testPath(t))
	require.NoError(t, err)
	assert.Nil(t, info)
}
