// Package lock implements cooperative cross-process write locking for
// container files.
//
// A writer holds the lock by owning a marker file next to the container
// (<container>.lock) containing its identity as JSON. The protocol is
// advisory: every writer must go through this package, and readers never
// take the lock. Creation uses O_CREATE|O_EXCL so exactly one process
// wins a race on a shared filesystem.
//
// Stale Lock Recovery:
// A crashed writer leaves its marker behind. A marker is considered
// stale when its owning process is provably dead (same hostname only;
// pid liveness means nothing across machines) or when it is older than
// the configured expiry. Stale markers are cleared automatically during
// Acquire.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nexusformat/nxtree/pkg/container"
)

// Suffix is appended to the container path to form the marker path.
const Suffix = ".lock"

// Default protocol timings.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultExpiry       = 30 * time.Minute
)

// Info is the marker file content identifying the lock holder.
type Info struct {
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Token    string    `json:"token"`
	Created  time.Time `json:"created"`
}

// Options tunes the acquire protocol.
type Options struct {
	// Timeout bounds how long Acquire waits for a competing holder;
	// zero selects DefaultTimeout. The context can cut it shorter.
	Timeout time.Duration

	// PollInterval is the retry period while the lock is held elsewhere;
	// zero selects DefaultPollInterval.
	PollInterval time.Duration

	// Expiry is the age past which any marker counts as stale; zero
	// selects DefaultExpiry. Negative disables age-based expiry.
	Expiry time.Duration
}

// State describes where a Lock is in its lifecycle:
// Unlocked, Acquiring while Acquire polls, Held once the marker is
// owned, Released after giving it up.
type State int

const (
	// Unlocked means the lock has not been acquired.
	Unlocked State = iota

	// Acquiring means Acquire is polling for the marker. A failed or
	// cancelled Acquire falls back to the previous state.
	Acquiring

	// Held means this process owns the marker file.
	Held

	// Released means the lock was held and has been given up. A
	// released lock can be acquired again.
	Released
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Acquiring:
		return "acquiring"
	case Held:
		return "held"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Lock is a single container's write lock. A Lock represents one
// writer's claim: Acquire and Release belong to a single goroutine,
// but State may be read from others while an Acquire polls.
type Lock struct {
	containerPath string
	markerPath    string
	opts          Options
	token         string

	mu    sync.Mutex
	state State
}

// New prepares a lock for the container at path. No filesystem activity
// happens until Acquire.
func New(path string, opts Options) *Lock {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Expiry == 0 {
		opts.Expiry = DefaultExpiry
	}
	return &Lock{
		containerPath: path,
		markerPath:    path + Suffix,
		opts:          opts,
		state:         Unlocked,
	}
}

// MarkerPath returns the marker file path.
func (l *Lock) MarkerPath() string {
	return l.markerPath
}

// State returns the lock's lifecycle state. Safe to call from any
// goroutine.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lock) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Acquire claims the lock, polling until it succeeds, the timeout
// elapses (ErrLockTimeout) or the context is cancelled. Stale markers
// found along the way are cleared and the claim retried. While the
// poll loop runs the lock reports Acquiring; on failure it falls back
// to the state it started from.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.state == Held {
		l.mu.Unlock()
		return nil
	}
	prev := l.state
	l.state = Acquiring
	l.mu.Unlock()

	deadline := time.Now().Add(l.opts.Timeout)
	for {
		if err := ctx.Err(); err != nil {
			l.setState(prev)
			return err
		}

		ok, err := l.tryAcquire()
		if err != nil {
			l.setState(prev)
			return err
		}
		if ok {
			l.setState(Held)
			return nil
		}

		// Holder is alive (or unknowable). Wait and retry.
		if time.Now().After(deadline) {
			holder := "unknown holder"
			if info, err := Inspect(l.containerPath); err == nil && info != nil {
				holder = fmt.Sprintf("pid %d on %s since %s",
					info.PID, info.Hostname, info.Created.Format(time.RFC3339))
			}
			l.setState(prev)
			return container.NewError(container.ErrLockTimeout,
				fmt.Sprintf("write lock not released within %s (%s)", l.opts.Timeout, holder),
				l.containerPath)
		}
		select {
		case <-ctx.Done():
			l.setState(prev)
			return ctx.Err()
		case <-time.After(l.opts.PollInterval):
		}
	}
}

// tryAcquire makes one claim attempt. Returns (false, nil) when the lock
// is held by a live owner.
func (l *Lock) tryAcquire() (bool, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	token := uuid.New().String()
	info := Info{
		PID:      os.Getpid(),
		Hostname: hostname,
		Token:    token,
		Created:  time.Now().UTC(),
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return false, container.NewError(container.ErrIO, err.Error(), l.containerPath)
	}

	f, err := os.OpenFile(l.markerPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		defer f.Close()
		if _, err := f.Write(raw); err != nil {
			os.Remove(l.markerPath)
			return false, container.NewError(container.ErrIO,
				fmt.Sprintf("writing lock marker: %v", err), l.containerPath)
		}
		l.token = token
		return true, nil

	case errors.Is(err, os.ErrExist):
		existing, err := Inspect(l.containerPath)
		if err != nil {
			return false, err
		}
		if existing == nil {
			// Marker vanished between the claim and the read; retry.
			return false, nil
		}
		if l.isStale(existing) {
			// Remove and let the next iteration race for the claim.
			if err := os.Remove(l.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return false, container.NewError(container.ErrIO,
					fmt.Sprintf("clearing stale lock marker: %v", err), l.containerPath)
			}
		}
		return false, nil

	default:
		return false, container.NewError(container.ErrAccess,
			fmt.Sprintf("creating lock marker: %v", err), l.containerPath)
	}
}

// isStale reports whether a marker no longer protects anything.
func (l *Lock) isStale(info *Info) bool {
	hostname, err := os.Hostname()
	if err == nil && info.Hostname == hostname && !processAlive(info.PID) {
		return true
	}
	if l.opts.Expiry > 0 && time.Since(info.Created) > l.opts.Expiry {
		return true
	}
	return false
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to someone else.
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Release gives up the lock and removes the marker. Idempotent: calling
// Release on an unheld lock does nothing.
func (l *Lock) Release() error {
	if l.State() != Held {
		return nil
	}

	// Only remove a marker this process still owns. A cleared-then-stolen
	// lock must not knock out the new holder's marker.
	info, err := Inspect(l.containerPath)
	if err == nil && info != nil && info.Token == l.token {
		if err := os.Remove(l.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return container.NewError(container.ErrIO,
				fmt.Sprintf("removing lock marker: %v", err), l.containerPath)
		}
	}
	l.setState(Released)
	l.token = ""
	return nil
}

// Verify confirms this process still owns the marker. A lock that was
// cleared by an operator (or expired and stolen) fails with ErrLocked.
func (l *Lock) Verify() error {
	if l.State() != Held {
		return container.NewError(container.ErrLocked, "write lock not held", l.containerPath)
	}
	info, err := Inspect(l.containerPath)
	if err != nil {
		return err
	}
	if info == nil || info.Token != l.token {
		return container.NewError(container.ErrLocked,
			"write lock was cleared or taken over", l.containerPath)
	}
	return nil
}

// Inspect reads the marker for the container at path. Returns (nil, nil)
// when no marker exists.
func Inspect(path string) (*Info, error) {
	raw, err := os.ReadFile(path + Suffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, container.NewError(container.ErrAccess,
			fmt.Sprintf("reading lock marker: %v", err), path)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, container.NewError(container.ErrIO,
			fmt.Sprintf("malformed lock marker: %v", err), path)
	}
	return &info, nil
}

// Clear force-removes the marker for the container at path, regardless
// of owner. Operator tooling only; clearing a live writer's lock lets a
// second writer corrupt the container.
func Clear(path string) error {
	err := os.Remove(path + Suffix)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return container.NewError(container.ErrIO,
			fmt.Sprintf("removing lock marker: %v", err), path)
	}
	return nil
}
