package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Polling bounds while another process holds the flock.
const (
	flockInitialInterval = 2 * time.Millisecond
	flockMaxInterval     = 100 * time.Millisecond
)

// fileLock provides cross-process mutual exclusion for one document using
// flock(2) on a sibling "<path>.lock" file.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(docPath string) *fileLock {
	return &fileLock{path: docPath + ".lock"}
}

// lock waits until the exclusive lock is held or ctx is done. The lock file
// is created if it does not exist and is never removed, since removing it
// would race with a waiter that already opened it.
func (fl *fileLock) lock(ctx context.Context) error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = flockInitialInterval
	b.MaxInterval = flockMaxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		_ = f.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("flock %s: %w", fl.path, err)
	}
	fl.file = f
	return nil
}

func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	closeErr := fl.file.Close()
	fl.file = nil
	if err != nil {
		return fmt.Errorf("funlock %s: %w", fl.path, err)
	}
	return closeErr
}
