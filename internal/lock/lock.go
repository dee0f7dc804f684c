// Package lock implements the per-team exclusion lock that serializes
// lifecycle operations (scale up, scale down) across processes.
//
// The lock is a marker directory: acquiring it is an atomic Mkdir, and
// holding it means the directory exists. The holder writes an owner record
// inside the marker so operators and stale-lock reclamation can see who
// holds it. Release removes the marker unconditionally.
//
//	l := lock.New(fs, filepath.Join(teamDir, lock.MarkerName))
//	err := l.With(ctx, func(ctx context.Context) error {
//	    // mutate team config
//	    return nil
//	})
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"
)

// MarkerName is the marker directory name inside a team directory.
const MarkerName = ".lock"

// OwnerFileName is the owner record written inside the marker.
const OwnerFileName = "owner.json"

// Default retry intervals while the lock is contended.
const (
	DefaultInitialBackoff = 25 * time.Millisecond
	DefaultMaxBackoff     = 500 * time.Millisecond
)

// errHeld signals contention to the retry loop.
var errHeld = errors.New("lock held")

// Owner is the record stored in the marker by the holder.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	Holder     string    `json:"holder,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a directory-presence lock at a fixed marker path.
type Lock struct {
	fs     afero.Fs
	marker string
	holder string
	logger *logging.Logger

	staleAfter     time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	acquireTimeout time.Duration

	now     func() time.Time
	isAlive func(pid int) bool
}

// Option configures a Lock.
type Option func(*Lock)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(lk *Lock) { lk.logger = l }
}

// WithHolder records a human-readable holder label (e.g. "scale-up") in the
// owner record.
func WithHolder(holder string) Option {
	return func(lk *Lock) { lk.holder = holder }
}

// WithStaleAfter enables reclamation of markers older than d whose owner is
// on another host or no longer running. Zero disables reclamation, which
// is the default: an abandoned marker must then be removed by an operator.
func WithStaleAfter(d time.Duration) Option {
	return func(lk *Lock) { lk.staleAfter = d }
}

// WithBackoff sets the retry intervals used while the lock is contended.
func WithBackoff(initial, max time.Duration) Option {
	return func(lk *Lock) {
		if initial > 0 {
			lk.initialBackoff = initial
		}
		if max > 0 {
			lk.maxBackoff = max
		}
	}
}

// WithAcquireTimeout bounds each Acquire in addition to its context.
// Zero leaves Acquire bounded only by the context.
func WithAcquireTimeout(d time.Duration) Option {
	return func(lk *Lock) { lk.acquireTimeout = d }
}

// New creates a Lock whose marker directory is marker.
func New(fsys afero.Fs, marker string, opts ...Option) *Lock {
	lk := &Lock{
		fs:             fsys,
		marker:         marker,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		now:            time.Now,
		isAlive:        processAlive,
	}
	for _, opt := range opts {
		opt(lk)
	}
	lk.logger = logging.OrNop(lk.logger).WithComponent("lock")
	return lk
}

// ForTeam returns the lock for the team directory teamDir.
func ForTeam(fsys afero.Fs, teamDir string, opts ...Option) *Lock {
	return New(fsys, filepath.Join(teamDir, MarkerName), opts...)
}

// Marker returns the marker directory path.
func (lk *Lock) Marker() string { return lk.marker }

// Handle is a held lock. Release it exactly once; extra calls are no-ops.
type Handle struct {
	lk   *Lock
	once sync.Once
	err  error
}

// Release removes the marker.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if err := h.lk.fs.RemoveAll(h.lk.marker); err != nil {
			h.err = fmt.Errorf("remove lock marker %s: %w", h.lk.marker, err)
			return
		}
		h.lk.logger.Debug("lock released", "marker", h.lk.marker)
	})
	return h.err
}

// Acquire blocks until the marker is created or ctx is done. A ctx
// cancellation or deadline is reported as lock_timeout.
func (lk *Lock) Acquire(ctx context.Context) (*Handle, error) {
	if err := lk.fs.MkdirAll(filepath.Dir(lk.marker), 0o755); err != nil {
		return nil, fmt.Errorf("create lock parent: %w", err)
	}
	if lk.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lk.acquireTimeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lk.initialBackoff
	b.MaxInterval = lk.maxBackoff
	b.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		err := lk.tryAcquire()
		if err == nil || errors.Is(err, errHeld) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(_ error, wait time.Duration) {
		if attempts == 1 {
			lk.logger.Debug("lock contended, waiting", "marker", lk.marker, "retry_in", wait)
		}
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("acquire %s: %w: %w", lk.marker, apperrors.ErrLockTimeout, ctxErr)
		}
		return nil, fmt.Errorf("acquire %s: %w", lk.marker, err)
	}

	lk.logger.Debug("lock acquired", "marker", lk.marker, "holder", lk.holder, "attempts", attempts)
	return &Handle{lk: lk}, nil
}

// With runs fn while holding the lock and releases it afterwards, whether
// fn succeeds, fails, or panics.
func (lk *Lock) With(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	h, err := lk.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := h.Release(); relErr != nil {
			lk.logger.Error("failed to release lock", "marker", lk.marker, "error", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()
	return fn(ctx)
}

// Held reports whether the marker currently exists.
func (lk *Lock) Held() (bool, error) {
	return afero.DirExists(lk.fs, lk.marker)
}

// Owner returns the current owner record, if the lock is held and the
// record has been written.
func (lk *Lock) Owner() (*Owner, bool, error) {
	data, err := afero.ReadFile(lk.fs, filepath.Join(lk.marker, OwnerFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, false, fmt.Errorf("decode lock owner: %w", err)
	}
	return &o, true, nil
}

func (lk *Lock) tryAcquire() error {
	err := lk.fs.Mkdir(lk.marker, 0o755)
	if err == nil {
		if werr := lk.writeOwner(); werr != nil {
			_ = lk.fs.RemoveAll(lk.marker)
			return werr
		}
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create lock marker: %w", err)
	}

	if lk.staleAfter > 0 {
		lk.reclaimIfStale()
	}
	return errHeld
}

func (lk *Lock) writeOwner() error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	data, err := json.MarshalIndent(Owner{
		PID:        os.Getpid(),
		Hostname:   hostname,
		Holder:     lk.holder,
		AcquiredAt: lk.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock owner: %w", err)
	}
	if err := afero.WriteFile(lk.fs, filepath.Join(lk.marker, OwnerFileName), data, 0o644); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	return nil
}

// reclaimIfStale removes the marker when it is older than staleAfter and its
// owner is not a live process on this host. It reports whether it removed it.
func (lk *Lock) reclaimIfStale() bool {
	owner, ok, err := lk.Owner()
	if err != nil {
		return false
	}

	var acquired time.Time
	if ok {
		acquired = owner.AcquiredAt
	} else {
		info, statErr := lk.fs.Stat(lk.marker)
		if statErr != nil {
			return false
		}
		acquired = info.ModTime()
	}
	age := lk.now().Sub(acquired)
	if age < lk.staleAfter {
		return false
	}

	if ok {
		hostname, _ := os.Hostname()
		if owner.Hostname == hostname && lk.isAlive(owner.PID) {
			return false
		}
	}

	if err := lk.fs.RemoveAll(lk.marker); err != nil {
		lk.logger.Error("failed to remove stale lock", "marker", lk.marker, "error", err)
		return false
	}
	attrs := []any{"marker", lk.marker, "age", age}
	if ok {
		attrs = append(attrs, "old_pid", owner.PID, "old_host", owner.Hostname, "old_holder", owner.Holder)
	}
	lk.logger.Warn("stale lock reclaimed", attrs...)
	return true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
