package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Store reads and writes JSON documents under a root directory.
// All paths passed to Store methods are relative to the root.
type Store struct {
	fs     afero.Fs
	root   string
	logger *logging.Logger

	// crossProcess enables flock on Update; only meaningful on an OS fs.
	crossProcess bool

	mu    sync.Mutex
	paths map[string]*pathQueue
}

// pathQueue is a FIFO lock for one document path. The holder hands the
// lock to the first waiter by closing its channel.
type pathQueue struct {
	held    bool
	waiters []chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCrossProcessLock overrides whether Update takes an flock. It defaults
// to true for afero.OsFs and false otherwise.
func WithCrossProcessLock(enabled bool) Option {
	return func(s *Store) { s.crossProcess = enabled }
}

// New creates a Store on fsys rooted at root.
func New(fsys afero.Fs, root string, opts ...Option) *Store {
	_, isOS := fsys.(*afero.OsFs)
	s := &Store{
		fs:           fsys,
		root:         filepath.Clean(root),
		crossProcess: isOS,
		paths:        make(map[string]*pathQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithComponent("state")
	return s
}

// NewOS creates a Store on the real filesystem.
func NewOS(root string, opts ...Option) *Store {
	return New(afero.NewOsFs(), root, opts...)
}

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs { return s.fs }

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Path joins elem onto the store root.
func (s *Store) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func (s *Store) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(s.root, rel)
}

// ReadJSON decodes the document at path into v. A missing document returns
// (false, nil) and leaves v untouched.
func (s *Store) ReadJSON(path string, v any) (bool, error) {
	return s.readJSON(s.abs(path), v)
}

func (s *Store) readJSON(full string, v any) (bool, error) {
	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", full, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", full, err)
	}
	return true, nil
}

// WriteJSON atomically replaces the document at path with v.
func (s *Store) WriteJSON(path string, v any) error {
	return s.writeJSON(s.abs(path), v)
}

func (s *Store) writeJSON(full string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", full, err)
	}
	return s.writeFile(full, append(data, '\n'))
}

// WriteFile atomically replaces the file at path with data.
func (s *Store) WriteFile(path string, data []byte) error {
	return s.writeFile(s.abs(path), data)
}

func (s *Store) writeFile(full string, data []byte) error {
	dir := filepath.Dir(full)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(full)+".tmp-"+uuid.NewString()[:8])
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, full); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", full, err)
	}
	return nil
}

// ReadFile returns the raw contents at path. A missing file returns
// (nil, false, nil).
func (s *Store) ReadFile(path string) ([]byte, bool, error) {
	full := s.abs(path)
	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", full, err)
	}
	return data, true, nil
}

// Update performs a serialized read-modify-write of the document at path.
// v is decoded from the current document (if any), fn is called with
// whether it was found, and v is written back when fn returns nil. An error
// from fn is returned unchanged and nothing is written.
func (s *Store) Update(ctx context.Context, path string, v any, fn func(found bool) error) error {
	full := s.abs(path)

	release, err := s.acquire(ctx, full)
	if err != nil {
		return err
	}
	defer release()

	if s.crossProcess {
		if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		fl := newFileLock(full)
		if err := fl.lock(ctx); err != nil {
			return err
		}
		defer func() {
			if err := fl.unlock(); err != nil {
				s.logger.Warn("failed to release file lock", "path", full, "error", err)
			}
		}()
	}

	found, err := s.readJSON(full, v)
	if err != nil {
		return err
	}
	if err := fn(found); err != nil {
		return err
	}
	return s.writeJSON(full, v)
}

// acquire takes the in-process FIFO turn for path. A waiter whose ctx ends
// leaves the queue and returns ctx.Err().
func (s *Store) acquire(ctx context.Context, path string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	q, ok := s.paths[path]
	if !ok {
		q = &pathQueue{}
		s.paths[path] = q
	}
	release := func() { s.handOff(path, q) }
	if !q.held {
		q.held = true
		s.mu.Unlock()
		return release, nil
	}
	turn := make(chan struct{})
	q.waiters = append(q.waiters, turn)
	s.mu.Unlock()

	select {
	case <-turn:
		return release, nil
	case <-ctx.Done():
		s.mu.Lock()
		queued := false
		for i, w := range q.waiters {
			if w == turn {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				queued = true
				break
			}
		}
		s.mu.Unlock()
		if !queued {
			// The turn arrived while ctx ended; pass it on.
			release()
		}
		return nil, ctx.Err()
	}
}

// handOff gives path to its next waiter, or frees it.
func (s *Store) handOff(path string, q *pathQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	q.held = false
	if s.paths[path] == q {
		delete(s.paths, path)
	}
}

// Remove deletes the file at path. A missing file is not an error.
func (s *Store) Remove(path string) error {
	full := s.abs(path)
	if err := s.fs.Remove(full); err != nil && !isNotExist(err) {
		return fmt.Errorf("remove %s: %w", full, err)
	}
	return nil
}

// RemoveAll deletes path and everything below it.
func (s *Store) RemoveAll(path string) error {
	full := s.abs(path)
	if err := s.fs.RemoveAll(full); err != nil {
		return fmt.Errorf("remove %s: %w", full, err)
	}
	return nil
}

// Exists reports whether path exists.
func (s *Store) Exists(path string) (bool, error) {
	ok, err := afero.Exists(s.fs, s.abs(path))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return ok, nil
}

// List returns the sorted entry names of dir, skipping temp and lock files.
// A missing directory yields an empty list.
func (s *Store) List(dir string) ([]string, error) {
	full := s.abs(dir)
	entries, err := afero.ReadDir(s.fs, full)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", full, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".lock") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
