// Package logstorelog adapts github.com/jiangxinmeng1/logstore's entry log
// into an otree/pkg/storage.Log. It is the reference Log implementation
// for local development and tests; production deployments are expected
// to plug in their own (Delta/Iceberg-style) Log — the core never
// depends on this package directly.
package logstorelog

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/jiangxinmeng1/logstore/pkg/store"
	"github.com/sirupsen/logrus"

	"otree/pkg/storage"
)

const entryTypeCommit entry.Type = 1

// Log commits otree storage.CommitRecords as entries in a logstore.Store
// and keeps the live file set in memory, folding in each commit made
// through this Log in order. Version is the number of commits applied
// through this Log so far; entries already in the store when Open is
// called are not read back.
type Log struct {
	mu    sync.Mutex
	impl  store.Store
	seq   uint64
	files map[string]storage.AddFile
	meta  *storage.MetadataRecord
}

// Open attaches to (or creates) a logstore-backed log at dir/name. The
// returned Log starts at version 0 with no live files, whatever the store
// already holds.
func Open(dir, name string, cfg *store.StoreCfg) (*Log, error) {
	impl, err := store.NewBaseStore(dir, name, cfg)
	if err != nil {
		return nil, err
	}
	return &Log{impl: impl, files: make(map[string]storage.AddFile)}, nil
}

func (l *Log) Close() error {
	return l.impl.Close()
}

func (l *Log) CurrentVersion(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, nil
}

func (l *Log) ReadAt(ctx context.Context, v uint64) (storage.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v != l.seq {
		return storage.Snapshot{}, storage.ErrVersionConflict
	}
	files := make([]storage.AddFile, 0, len(l.files))
	for _, f := range l.files {
		files = append(files, f)
	}
	return storage.Snapshot{Version: l.seq, Files: files, Metadata: l.meta}, nil
}

func (l *Log) Commit(ctx context.Context, v uint64, records storage.CommitRecords) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v != l.seq {
		return 0, storage.ErrVersionConflict
	}

	buf, err := json.Marshal(records)
	if err != nil {
		return 0, err
	}
	e := entry.GetBase()
	e.SetType(entryTypeCommit)
	if err := e.Unmarshal(buf); err != nil {
		return 0, err
	}
	info := &entry.Info{CommitId: l.seq}
	e.SetInfo(info)
	if _, err := l.impl.AppendEntry(entry.GTCustomizedStart, e); err != nil {
		return 0, err
	}
	e.WaitDone()
	e.Free()

	for _, rm := range records.Removes {
		delete(l.files, rm.Path)
	}
	for _, add := range records.Adds {
		l.files[add.Path] = add
	}
	if records.Metadata != nil {
		l.meta = records.Metadata
	}
	l.seq++
	logrus.Debugf("logstorelog: committed version %d (%d adds, %d removes)", l.seq, len(records.Adds), len(records.Removes))
	return l.seq, nil
}
