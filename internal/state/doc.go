// Package state is the durable JSON document store every teamwork component
// persists through.
//
// Documents are read and written on an [afero.Fs] so the same logic runs on
// the real filesystem and on an in-memory filesystem in tests. Writes are
// atomic: the document is written to a temporary file in the target
// directory and renamed into place, so readers never observe a torn file.
//
// [Store.Update] is the read-modify-write primitive. Concurrent Updates of
// the same path inside one process are queued FIFO, and on an OS filesystem
// an flock(2) on "<path>.lock" extends that serialization across processes.
// A caller waiting on either gives up when its context ends.
package state
