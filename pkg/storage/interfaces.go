// Package storage declares the external collaborators the core depends on
// but never implements: the transaction log, the columnar file writer and
// the filesystem. None of these are the module's concern — the
// log's wire format, the file format and object-store connectors are
// explicit non-goals — but the Committer and Block Writer are
// written against these interfaces so a real backend can be plugged in.
package storage

import (
	"context"
	"errors"
	"time"

	"otree/pkg/cube"
)

// CubeState mirrors the designs three Block/cube states. ANNOUNCED is
// advisory only per the design notes' open question and never affects
// read correctness.
type CubeState uint8

const (
	StateFlooded CubeState = iota
	StateAnnounced
	StateReplicated
)

func (s CubeState) String() string {
	switch s {
	case StateFlooded:
		return "FLOODED"
	case StateAnnounced:
		return "ANNOUNCED"
	case StateReplicated:
		return "REPLICATED"
	default:
		return "UNKNOWN"
	}
}

// BlockTag is the per-file metadata the design requires every Block to carry.
// It is what the scan layer reads to decide whether to skip a file
// and what pkg/index reduces into the in-memory Index State.
type BlockTag struct {
	CubeID       cube.Id
	MinWeight    int32
	MaxWeight    int32
	State        CubeState
	RevisionID   uint64
	ElementCount uint64
}

// AddFile is one Block being added to the table.
type AddFile struct {
	Path    string
	Size    int64
	ModTime time.Time
	Tags    BlockTag
}

// RemoveFile logically retires a superseded Block. The physical file
// persists until an external garbage collector reclaims it.
type RemoveFile struct {
	Path string
}

// MetadataRecord installs a new Revision atomically alongside a commit's
// AddFiles, per the design ("Revision upgrades").
type MetadataRecord struct {
	RevisionJSON []byte
}

// CommitRecords is one attempt's full set of changes, submitted to the log
// as a single version-CAS commit.
type CommitRecords struct {
	Adds     []AddFile
	Removes  []RemoveFile
	Metadata *MetadataRecord
}

// ErrVersionConflict is returned by Commit when another writer already
// advanced the log past FromVersion. The Committer inspects the winning
// commit and rebases.
var ErrVersionConflict = errors.New("storage: log version conflict")

// Snapshot is everything a reader (or a rebasing writer) needs to observe
// a table version: its files and its active Revision metadata.
type Snapshot struct {
	Version  uint64
	Files    []AddFile
	Metadata *MetadataRecord
}

// Log is the external, append-only transaction log. The core
// depends only on this abstract API; a real deployment's Delta/Iceberg-
// style log, or the reference jiangxinmeng1/logstore adapter in
// pkg/storage/logstorelog, implements it.
type Log interface {
	// CurrentVersion returns the log's latest committed version.
	CurrentVersion(ctx context.Context) (uint64, error)
	// ReadAt returns the full set of live files and the active Revision
	// metadata as of version v.
	ReadAt(ctx context.Context, v uint64) (Snapshot, error)
	// Commit attempts v -> v+1 with records. Returns ErrVersionConflict if
	// v is no longer current.
	Commit(ctx context.Context, v uint64, records CommitRecords) (newVersion uint64, err error)
}

// RowSink is a single cube's output file, as returned by
// ColumnFileWriter.Open. One RowSink is opened per (cube, partition) pair
// by the Block Writer.
type RowSink interface {
	Write(row interface{}) error
	// Close flushes and closes the file. The Block Writer reads size and
	// mtime back from the FileSystem separately.
	Close() error
}

// ColumnFileWriter is the external columnar file format. Given a
// schema and a path it returns a row-oriented write sink; the core writes
// one file per cube per partition and never interprets the file's bytes
// itself.
type ColumnFileWriter interface {
	Open(ctx context.Context, path string, schema interface{}) (RowSink, error)
}

// RowReader reads a Block's rows back, used only by the Analyzer's
// Optimize step. It
// returns each row in the same opaque form RowSink.Write accepted; the
// caller is responsible for re-deriving indexed-column values and key
// bytes from it before re-running the Indexer.
type RowReader interface {
	ReadRows(ctx context.Context, path string, schema interface{}) ([]interface{}, error)
}

// FileSystem is the external path open/stat/delete surface.
type FileSystem interface {
	Stat(ctx context.Context, path string) (size int64, modTime time.Time, err error)
	Remove(ctx context.Context, path string) error
}

// Row is one input row: the stable byte keys and raw values of its
// indexed columns (consumed by pkg/weight and pkg/transform), plus the
// caller's opaque payload (consumed only by ColumnFileWriter, stripped of
// any index-metadata columns before being handed to RowSink.Write per
// the design).
type Row struct {
	Keys    [][]byte
	Indexed []interface{}
	Payload interface{}
}
