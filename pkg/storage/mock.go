package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockLog is an in-memory Log used by tests and by callers that don't yet
// have a real transaction log wired in: a Noop-backed in-memory stand-in
// for an external dependency.
type MockLog struct {
	mu       sync.Mutex
	version  uint64
	files    map[string]AddFile
	metadata *MetadataRecord
}

func NewMockLog() *MockLog {
	return &MockLog{files: make(map[string]AddFile)}
}

func (l *MockLog) CurrentVersion(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version, nil
}

func (l *MockLog) ReadAt(ctx context.Context, v uint64) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v != l.version {
		// The mock keeps only the latest version's file set, which is
		// sufficient for the rebase path (the designstep 4 only needs
		// "the winning commit"), not full time travel.
		return Snapshot{}, fmt.Errorf("storage: mock log has no history for version %d (current %d)", v, l.version)
	}
	files := make([]AddFile, 0, len(l.files))
	for _, f := range l.files {
		files = append(files, f)
	}
	return Snapshot{Version: l.version, Files: files, Metadata: l.metadata}, nil
}

func (l *MockLog) Commit(ctx context.Context, v uint64, records CommitRecords) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v != l.version {
		return 0, ErrVersionConflict
	}
	for _, rm := range records.Removes {
		delete(l.files, rm.Path)
	}
	for _, add := range records.Adds {
		l.files[add.Path] = add
	}
	if records.Metadata != nil {
		l.metadata = records.Metadata
	}
	l.version++
	return l.version, nil
}

// MockFileWriter is an in-memory ColumnFileWriter: RowSink.Write appends
// to a slice kept by path, with no actual serialization, standing in for
// the external columnar file format in tests.
type MockFileWriter struct {
	mu    sync.Mutex
	files map[string][]interface{}
}

func NewMockFileWriter() *MockFileWriter {
	return &MockFileWriter{files: make(map[string][]interface{})}
}

func (w *MockFileWriter) Open(ctx context.Context, path string, schema interface{}) (RowSink, error) {
	return &mockRowSink{writer: w, path: path}, nil
}

func (w *MockFileWriter) Rows(path string) []interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]interface{}(nil), w.files[path]...)
}

type mockRowSink struct {
	writer *MockFileWriter
	path   string
}

func (s *mockRowSink) Write(row interface{}) error {
	s.writer.mu.Lock()
	defer s.writer.mu.Unlock()
	s.writer.files[s.path] = append(s.writer.files[s.path], row)
	return nil
}

func (s *mockRowSink) Close() error { return nil }

// ReadRows implements RowReader by returning exactly what was written to
// path, satisfying the Analyzer's Optimize step in tests.
func (w *MockFileWriter) ReadRows(ctx context.Context, path string, schema interface{}) ([]interface{}, error) {
	return w.Rows(path), nil
}

// MockFileSystem reports size/mtime for paths MockFileWriter has written,
// standing in for the external filesystem in tests.
type MockFileSystem struct {
	writer *MockFileWriter
	mu     sync.Mutex
	mtimes map[string]time.Time
}

func NewMockFileSystem(w *MockFileWriter) *MockFileSystem {
	return &MockFileSystem{writer: w, mtimes: make(map[string]time.Time)}
}

// Touch records a deterministic write time for path, which Stat then
// reports. The Block Writer does not call it (it only calls Stat); a test
// that wants a specific mtime calls Touch itself.
func (fs *MockFileSystem) Touch(path string, at time.Time) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mtimes[path] = at
}

func (fs *MockFileSystem) Stat(ctx context.Context, path string) (int64, time.Time, error) {
	rows := fs.writer.Rows(path)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return int64(len(rows)), fs.mtimes[path], nil
}

func (fs *MockFileSystem) Remove(ctx context.Context, path string) error {
	return nil
}
