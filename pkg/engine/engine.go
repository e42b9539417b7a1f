// Package engine is the top-level facade: the entrypoint a caller's
// ingest path and DDL layer actually call, wiring the Indexer, Block
// Writer, Committer and Analyzer behind one per-table API (the design
// "Write options", §4.8 analyze/optimize). It plays the role the
// teacher's pkg/taedb.TAE interface plays for its engine: one façade type
// owning the external collaborators and serializing access per table.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"otree/pkg/analyzer"
	"otree/pkg/commit"
	"otree/pkg/config"
	"otree/pkg/cube"
	"otree/pkg/index"
	"otree/pkg/indexer"
	"otree/pkg/qerrors"
	"otree/pkg/revision"
	"otree/pkg/storage"
	"otree/pkg/writer"
)

// WriteOptions is the per-write caller-supplied tuning the design names:
// which columns to index, the desired per-cube capacity and the staging
// ring buffer's flush threshold. Only StagingSizeInBytes is read (by
// Stage, when it creates a table's staging area). Write does not read
// ColumnsToIndex or CubeSize: the indexed columns and the cube capacity
// always come from the table's active Revision, and cfg's DefaultCubeSize
// is not consulted either.
type WriteOptions struct {
	ColumnsToIndex     []string
	CubeSize           uint64
	StagingSizeInBytes int64
}

// PathFor lays out one cube's output file path for a table and partition.
// The caller supplies this since file layout conventions (prefix, object
// store bucket, partitioning scheme) are outside this module's concerns
//.
type PathFor func(table, partitionID string, c cube.Id) string

// Engine owns the external collaborators and every table's
// in-process write serialization and staging state.
type Engine struct {
	log    storage.Log
	fw     storage.ColumnFileWriter
	fsys   storage.FileSystem
	cfg    *config.Config
	pathFor PathFor
	logger *logrus.Logger

	mu      sync.Mutex
	tableMu map[string]*sync.Mutex
	staging map[string]*indexer.Staging
	history map[string]*revision.History
}

// New wires an Engine against its external collaborators. logPath is
// where the default logrus output rotates to; pass "" to log to stderr
// instead (useful in tests).
func New(log storage.Log, fw storage.ColumnFileWriter, fsys storage.FileSystem, cfg *config.Config, pathFor PathFor, logPath string) *Engine {
	return &Engine{
		log:      log,
		fw:       fw,
		fsys:     fsys,
		cfg:      cfg,
		pathFor:  pathFor,
		logger:   newLogger(logPath),
		tableMu: make(map[string]*sync.Mutex),
		staging: make(map[string]*indexer.Staging),
		history: make(map[string]*revision.History),
	}
}

// newLogger builds the logrus instance every subsystem logs through,
// backed by a lumberjack.v2 rotating file sink when logPath is set.
func newLogger(logPath string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if logPath != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     28,
			Compress:   true,
		})
	}
	return logger
}

func (e *Engine) tableLock(table string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.tableMu[table]
	if !ok {
		l = &sync.Mutex{}
		e.tableMu[table] = l
	}
	return l
}

// SetRevision installs rev as table's active Revision. The first call for
// a table starts its History lineage; later calls push rev as the new
// head (e.g. after a widened successor commits, the design "Revision
// upgrades"), keeping every Revision the table ever used reachable for
// the History API.
func (e *Engine) SetRevision(table string, rev *revision.Revision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.history[table]
	if !ok {
		e.history[table] = revision.NewHistory(rev)
		return
	}
	h.Push(rev)
}

// History returns table's full Revision lineage, or nil if SetRevision
// was never called for it.
func (e *Engine) History(table string) *revision.History {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history[table]
}

func (e *Engine) activeRevision(table string) (*revision.Revision, error) {
	e.mu.Lock()
	h, ok := e.history[table]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: table %q has no active revision; call SetRevision first", table)
	}
	return h.Current(), nil
}

// Write runs the full pipeline for table: index rows
// against the table's active Revision, write Blocks and commit them,
// retrying on log conflicts per cfg.NumberOfRetries. A per-table
// in-process mutex serializes concurrent Write calls to the same table
//; cross-process
// serialization is left to the external log's version-CAS.
func (e *Engine) Write(ctx context.Context, table string, rows []storage.Row, opts WriteOptions) (*commit.Result, error) {
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	rev, err := e.activeRevision(table)
	if err != nil {
		return nil, err
	}

	entry := e.logger.WithFields(logrus.Fields{
		"table": table,
		"rows":  len(rows),
	})
	entry.Info("write: starting")

	partitionID := table + "-" + uuid.NewString()
	res, err := commit.Commit(ctx, e.log, e.fw, e.fsys, e.cfg, rev, rows, commit.Options{
		PartitionID: partitionID,
		PathFor: func(pid string, c cube.Id) string {
			return e.pathFor(table, pid, c)
		},
	})
	if err != nil {
		entry.WithError(err).Error("write: failed")
		return nil, err
	}
	if res.WideningRequired {
		entry.Warn("write: active revision's transformers clamped an out-of-range value, widen before the next write")
	}
	entry.WithField("adds", len(res.Adds)).Info("write: committed")
	return res, nil
}

// Stage buffers row in table's staging area and flushes (runs Write over
// everything staged so far) once opts.StagingSizeInBytes is crossed
//. Returns a nil Result when the
// row was only buffered, not yet written.
func (e *Engine) Stage(ctx context.Context, table string, row storage.Row, approxBytes int64, opts WriteOptions) (*commit.Result, error) {
	e.mu.Lock()
	st, ok := e.staging[table]
	if !ok {
		st = indexer.NewStaging(1<<16, opts.StagingSizeInBytes)
		e.staging[table] = st
	}
	e.mu.Unlock()

	if !st.Add(row, approxBytes) {
		return nil, nil
	}
	return e.Write(ctx, table, st.Drain(), opts)
}

// Flush writes out anything currently buffered in table's staging area
// regardless of whether the byte threshold has been reached, e.g. at the
// end of a batch ingest.
func (e *Engine) Flush(ctx context.Context, table string, opts WriteOptions) (*commit.Result, error) {
	e.mu.Lock()
	st, ok := e.staging[table]
	e.mu.Unlock()
	if !ok {
		return nil, nil
	}
	rows := st.Drain()
	if len(rows) == 0 {
		return nil, nil
	}
	return e.Write(ctx, table, rows, opts)
}

// Analyze runs the Analyzer against table's current
// committed snapshot and returns the cubes worth compacting.
func (e *Engine) Analyze(ctx context.Context, table string, opts analyzer.Options) ([]cube.Id, error) {
	rev, err := e.activeRevision(table)
	if err != nil {
		return nil, err
	}
	v, err := e.log.CurrentVersion(ctx)
	if err != nil {
		return nil, qerrors.Wrap(err, "engine: analyze: reading current version")
	}
	snap, err := e.log.ReadAt(ctx, v)
	if err != nil {
		return nil, qerrors.Wrap(err, "engine: analyze: reading snapshot")
	}
	state := index.Build(rev.Id, rev.Dims(), liveTags(snap))
	return analyzer.Analyze(state, snap.Files, opts), nil
}

// Optimize re-indexes cube c's subtree and
// commits the replacement Blocks alongside removal of the superseded
// ones, retrying the version-CAS the same way Write does.
func (e *Engine) Optimize(ctx context.Context, table string, reader storage.RowReader, extract analyzer.Extract, c cube.Id, schema interface{}) (*commit.Result, error) {
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	rev, err := e.activeRevision(table)
	if err != nil {
		return nil, err
	}

	entry := e.logger.WithFields(logrus.Fields{"table": table, "cube": c.Key()})
	var lastErr error

	for attempt := 0; attempt <= e.cfg.NumberOfRetries; attempt++ {
		v, err := e.log.CurrentVersion(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		snap, err := e.log.ReadAt(ctx, v)
		if err != nil {
			lastErr = err
			continue
		}
		state := index.Build(rev.Id, rev.Dims(), liveTags(snap))

		partitionID := table + "-optimize-" + uuid.NewString() + "-" + fmt.Sprint(attempt)
		wopts := writer.Options{
			RevisionID:  rev.Id,
			PartitionID: partitionID,
			Schema:      schema,
			PathFor: func(pid string, cc cube.Id) string {
				return e.pathFor(table, pid, cc)
			},
		}
		adds, superseded, err := analyzer.Optimize(ctx, rev, state, snap.Files, reader, extract, e.fw, e.fsys, c, wopts)
		if err != nil {
			return nil, qerrors.Wrap(err, "engine: optimize: re-indexing subtree")
		}
		if adds == nil && superseded == nil {
			entry.Info("optimize: subtree has no live files, nothing to do")
			return &commit.Result{}, nil
		}

		removes := make([]storage.RemoveFile, len(superseded))
		for i, p := range superseded {
			removes[i] = storage.RemoveFile{Path: p}
		}
		newVersion, err := e.log.Commit(ctx, v, storage.CommitRecords{Adds: adds, Removes: removes})
		if err == nil {
			entry.WithField("version", newVersion).Info("optimize: committed")
			return &commit.Result{Adds: adds}, nil
		}
		if err != storage.ErrVersionConflict {
			return nil, err
		}
		lastErr = err
		if e.cfg.CommitRetryBackoff > 0 {
			select {
			case <-time.After(e.cfg.CommitRetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &qerrors.WriteFailure{Partition: table + "-optimize-" + c.Key(), Attempts: e.cfg.NumberOfRetries + 1, Cause: lastErr}
}

func liveTags(snap storage.Snapshot) []storage.BlockTag {
	tags := make([]storage.BlockTag, 0, len(snap.Files))
	for _, f := range snap.Files {
		tags = append(tags, f.Tags)
	}
	return tags
}
