// Package dataio is the reference, on-disk implementation of the external
// collaborators pkg/storage only declares interfaces for: a
// ColumnFileWriter, RowReader and FileSystem backed by real files rather
// than the in-memory storage.Mock* stand-ins tests use. It is a pluggable
// block/segment file backend behind a narrow interface, storing this
// module's opaque, caller-defined row payloads as one gob stream per
// (cube, partition) file.
package dataio

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"otree/pkg/storage"
)

// init registers the concrete payload types this module's own tests and
// reference callers round-trip through ReadRows. gob requires every
// concrete type ever decoded into an interface{} target to be registered
// (even built-in ones); callers storing their own payload struct types
// must gob.Register them the same way before relying on ReadRows.
func init() {
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(int(0))
	gob.Register(int64(0))
}

// DiskColumnFileWriter writes one gob stream per path, exactly as the
// Block Writer expects: a sequence of opaque row payloads, one file per
// cube per partition. It is the production analogue of
// storage.MockFileWriter.
type DiskColumnFileWriter struct{}

func NewDiskColumnFileWriter() *DiskColumnFileWriter { return &DiskColumnFileWriter{} }

func (w *DiskColumnFileWriter) Open(ctx context.Context, path string, schema interface{}) (storage.RowSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &diskRowSink{f: f, enc: gob.NewEncoder(f)}, nil
}

// ReadRows implements storage.RowReader by decoding every row gob-encoded
// at path, for the Analyzer's Optimize step.
func (w *DiskColumnFileWriter) ReadRows(ctx context.Context, path string, schema interface{}) ([]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var rows []interface{}
	for {
		var row interface{}
		if err := dec.Decode(&row); err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type diskRowSink struct {
	f   *os.File
	enc *gob.Encoder
}

func (s *diskRowSink) Write(row interface{}) error {
	return s.enc.Encode(&row)
}

func (s *diskRowSink) Close() error {
	return s.f.Close()
}

// DiskFileSystem stats and removes real files, reading size and mtime
// straight from the OS. Touch lets a caller record a deterministic
// override instead, mirroring storage.MockFileSystem's test-only hook,
// for callers that need reproducible tags independent of filesystem
// clock resolution.
type DiskFileSystem struct {
	mu     sync.Mutex
	mtimes map[string]time.Time
}

func NewDiskFileSystem() *DiskFileSystem {
	return &DiskFileSystem{mtimes: make(map[string]time.Time)}
}

// Touch records an mtime override for path, which Stat then reports
// instead of the OS mtime. The Block Writer does not call it.
func (fs *DiskFileSystem) Touch(path string, at time.Time) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mtimes[path] = at
}

func (fs *DiskFileSystem) Stat(ctx context.Context, path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	fs.mu.Lock()
	mt, ok := fs.mtimes[path]
	fs.mu.Unlock()
	if ok {
		return info.Size(), mt, nil
	}
	return info.Size(), info.ModTime(), nil
}

func (fs *DiskFileSystem) Remove(ctx context.Context, path string) error {
	fs.mu.Lock()
	delete(fs.mtimes, path)
	fs.mu.Unlock()
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
