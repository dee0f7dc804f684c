package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newMemStore() *Store {
	return New(afero.NewMemMapFs(), "/proj/.teamwork")
}

func TestStore_ReadMissing(t *testing.T) {
	s := newMemStore()

	var d doc
	found, err := s.ReadJSON("team/alpha/config.json", &d)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_WriteCreatesParents(t *testing.T) {
	s := newMemStore()

	require.NoError(t, s.WriteJSON("team/alpha/tasks/task-1.json", doc{Name: "a", Count: 1}))

	var d doc
	found, err := s.ReadJSON("team/alpha/tasks/task-1.json", &d)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, doc{Name: "a", Count: 1}, d)

	names, err := s.List("team/alpha/tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1.json"}, names, "temp files must not remain")
}

func TestStore_ReadCorrupt(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.WriteFile("bad.json", []byte("{not json")))

	var d doc
	_, err := s.ReadJSON("bad.json", &d)
	assert.Error(t, err)
}

func TestStore_UpdateSerializesSameProcess(t *testing.T) {
	s := newMemStore()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var d doc
			err := s.Update(context.Background(), "counter.json", &d, func(bool) error {
				d.Count++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var d doc
	_, err := s.ReadJSON("counter.json", &d)
	require.NoError(t, err)
	assert.Equal(t, n, d.Count)
}

func TestStore_UpdateErrorSkipsWrite(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.WriteJSON("d.json", doc{Count: 1}))

	sentinel := errors.New("reject")
	var d doc
	err := s.Update(context.Background(), "d.json", &d, func(found bool) error {
		assert.True(t, found)
		d.Count = 99
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var after doc
	_, err = s.ReadJSON("d.json", &after)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Count)
}

func TestStore_UpdateCanceledContext(t *testing.T) {
	s := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var d doc
	err := s.Update(ctx, "d.json", &d, func(bool) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_UpdateFIFOOrder(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var d doc
		_ = s.Update(ctx, "order.json", &d, func(bool) error {
			close(started)
			<-release
			d.Name = "first"
			return nil
		})
	}()
	<-started

	secondDone := make(chan string, 1)
	go func() {
		var d doc
		_ = s.Update(ctx, "order.json", &d, func(bool) error {
			secondDone <- d.Name
			d.Name = "second"
			return nil
		})
	}()

	select {
	case <-secondDone:
		t.Fatal("second update ran while first held the path")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
	assert.Equal(t, "first", <-secondDone)
}

func TestStore_UpdateWaiterHonorsDeadline(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var d doc
		_ = s.Update(ctx, "busy.json", &d, func(bool) error {
			close(held)
			<-release
			d.Count = 1
			return nil
		})
	}()
	<-held

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	ran := false
	start := time.Now()
	var d doc
	err := s.Update(waitCtx, "busy.json", &d, func(bool) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	assert.Less(t, time.Since(start), time.Second)

	// The abandoned turn does not stall the queue.
	queued := make(chan int, 1)
	go func() {
		var d doc
		assert.NoError(t, s.Update(ctx, "busy.json", &d, func(bool) error {
			queued <- d.Count
			d.Count++
			return nil
		}))
	}()
	close(release)
	<-done
	select {
	case got := <-queued:
		assert.Equal(t, 1, got)
	case <-time.After(time.Second):
		t.Fatal("update queued behind a cancelled waiter never ran")
	}
}

func TestStore_OSFilesystemWaiterHonorsDeadline(t *testing.T) {
	root := t.TempDir()
	holder := NewOS(root)
	other := NewOS(root)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var d doc
		_ = holder.Update(ctx, "x.json", &d, func(bool) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	// A second store stands in for another process blocked on the flock.
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	var d doc
	err := other.Update(waitCtx, "x.json", &d, func(bool) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	require.NoError(t, other.Update(ctx, "x.json", &d, func(bool) error {
		d.Count = 7
		return nil
	}))
}

func TestStore_OSFilesystemUpdate(t *testing.T) {
	root := t.TempDir()
	s := NewOS(root)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var d doc
			assert.NoError(t, s.Update(context.Background(), "x/y.json", &d, func(bool) error {
				d.Count++
				return nil
			}))
		}()
	}
	wg.Wait()

	// A second store instance models another process sharing the tree.
	other := NewOS(root)
	var d doc
	found, err := other.ReadJSON(filepath.Join(root, "x", "y.json"), &d)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 20, d.Count)

	names, err := other.List("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"y.json"}, names)
}

func TestStore_RemoveMissing(t *testing.T) {
	s := newMemStore()
	assert.NoError(t, s.Remove("nope.json"))

	ok, err := s.Exists("nope.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindRoot(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/work/proj/.teamwork", 0o755))
	require.NoError(t, fsys.MkdirAll("/work/proj/src/pkg/deep", 0o755))

	root, err := FindRoot(fsys, "/work/proj/src/pkg/deep")
	require.NoError(t, err)
	assert.Equal(t, "/work/proj/.teamwork", root)

	_, err = FindRoot(fsys, "/elsewhere")
	assert.ErrorIs(t, err, ErrNoRoot)
}
