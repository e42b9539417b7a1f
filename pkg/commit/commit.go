// Package commit implements the Transaction Committer: the optimistic
// version-CAS retry loop that runs the Indexer and Block Writer against
// the current log version and, on conflict, rebases against the winning
// commit before retrying.
package commit

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"

	"otree/pkg/config"
	"otree/pkg/cube"
	"otree/pkg/index"
	"otree/pkg/indexer"
	"otree/pkg/qerrors"
	"otree/pkg/revision"
	"otree/pkg/storage"
	"otree/pkg/writer"
)

// Options configures one logical write: the rows to place, the file
// layout to write them under, and (once the caller has decided on one) a
// widened Revision to install atomically alongside this commit.
type Options struct {
	PartitionID  string
	Schema       interface{}
	PathFor      func(partitionID string, c cube.Id) string
	NextRevision *revision.Revision
}

// Result is what a successful (or exhausted) Commit attempt produces.
type Result struct {
	Adds []storage.AddFile
	// WideningRequired reports that the active Revision's transformers
	// clamped an out-of-range value during this write:
	// the caller should build a widened Revision via rev.Widen and supply
	// it as Options.NextRevision on the next write.
	WideningRequired bool
}

// Commit runs the protocol in the design: read the log's current version,
// index and write the rows against that snapshot, and attempt the
// version-CAS commit. On ErrVersionConflict it rebases by re-reading the
// now-current snapshot and re-running the Indexer against it — a full
// re-run rather than only the rows whose route changed, which is still
// correct and idempotent (fresh partition id per attempt) but simpler
// than tracking per-row route deltas across attempts. Retries up to
// cfg.NumberOfRetries times before returning a qerrors.WriteFailure.
func Commit(ctx context.Context, log storage.Log, fw storage.ColumnFileWriter, fsys storage.FileSystem, cfg *config.Config, rev *revision.Revision, rows []storage.Row, opts Options) (*Result, error) {
	attemptCorrelation := uuid.NewString()
	var errs error
	partitionRetried := false

	for attempt := 0; attempt <= cfg.NumberOfRetries; attempt++ {
		v, err := log.CurrentVersion(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		snap, err := log.ReadAt(ctx, v)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		base := index.Build(rev.Id, rev.Dims(), liveTags(snap))

		// Every attempt writes under a fresh partition id, so a rebased
		// retry never appends to (or collides with) a file an earlier,
		// uncommitted attempt already wrote (the design "Failure semantics:
		// ... idempotent because each retry uses fresh file names").
		attemptID := opts.PartitionID + "-" + attemptCorrelation + "-" + strconv.Itoa(attempt)

		adds, partitionErr := indexAndWritePartitions(ctx, fw, fsys, cfg, rev, base, rows, attemptID, opts)
		if partitionErr != nil {
			// A partition's writer error aborts this attempt; the
			// Committer retries it once, under a fresh attempt id, and
			// returns a WriteFailure if it fails again (or if the retry
			// budget leaves no attempt for it). Any Blocks the other, successful
			// partitions in this attempt already wrote are never
			// referenced by an AddFile below, so they stay orphaned until
			// an external garbage collector reclaims them, same
			// as a superseded RemoveFile.
			errs = multierr.Append(errs, partitionErr)
			if !partitionRetried && attempt < cfg.NumberOfRetries {
				partitionRetried = true
				continue
			}
			return nil, &qerrors.WriteFailure{Partition: opts.PartitionID, Attempts: attempt + 1, Cause: errs}
		}

		records := storage.CommitRecords{Adds: adds}
		if opts.NextRevision != nil {
			metaJSON, err := json.Marshal(opts.NextRevision)
			if err != nil {
				return nil, qerrors.Wrap(err, "commit: marshaling widened revision")
			}
			records.Metadata = &storage.MetadataRecord{RevisionJSON: metaJSON}
		}

		_, err = log.Commit(ctx, v, records)
		if err == nil {
			return &Result{Adds: adds, WideningRequired: rev.NeedsWidening()}, nil
		}
		if err != storage.ErrVersionConflict {
			return nil, err
		}
		errs = multierr.Append(errs, err)

		if cfg.CommitRetryBackoff > 0 {
			select {
			case <-time.After(cfg.CommitRetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &qerrors.WriteFailure{Partition: opts.PartitionID, Attempts: cfg.NumberOfRetries + 1, Cause: errs}
}

func liveTags(snap storage.Snapshot) []storage.BlockTag {
	tags := make([]storage.BlockTag, 0, len(snap.Files))
	for _, f := range snap.Files {
		tags = append(tags, f.Tags)
	}
	return tags
}

// indexAndWritePartitions splits rows into up to cfg.PartitionConcurrency
// partitions and runs each one's Indexer+Writer pass concurrently through
// a panjf2000/ants pool. Every partition
// indexes against the same base State clone — indexer.Index never mutates
// the State it's given, only an internal Overlay clone — so partitions
// never observe each other's in-flight flood decisions. The partitions'
// AddFiles are concatenated as they are; their Proposals are not merged
// (index.Merge is not called here), so two partitions can each flood the
// same cube with different cutoffs and each write their own Block for it.
func indexAndWritePartitions(ctx context.Context, fw storage.ColumnFileWriter, fsys storage.FileSystem, cfg *config.Config, rev *revision.Revision, base *index.State, rows []storage.Row, attemptID string, opts Options) ([]storage.AddFile, error) {
	partitions := splitRows(rows, partitionCount(len(rows), cfg.PartitionConcurrency))

	pool, err := ants.NewPool(len(partitions))
	if err != nil {
		return nil, qerrors.Wrap(err, "commit: creating worker pool")
	}
	defer pool.Release()

	allAdds := make([][]storage.AddFile, len(partitions))
	allErrs := make([]error, len(partitions))
	var wg sync.WaitGroup

	for i, part := range partitions {
		i, part := i, part
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			res, err := indexer.Index(rev, base, part)
			if err != nil {
				allErrs[i] = qerrors.Wrap(err, "commit: indexing partition")
				return
			}
			partitionOpts := writer.Options{
				RevisionID:  rev.Id,
				PartitionID: attemptID + "-p" + strconv.Itoa(i),
				Schema:      opts.Schema,
				PathFor:     opts.PathFor,
			}
			adds, err := writer.Write(ctx, fw, fsys, partitionOpts, res.Placements)
			if err != nil {
				allErrs[i] = err
				return
			}
			allAdds[i] = adds
		})
		if submitErr != nil {
			wg.Done()
			allErrs[i] = qerrors.Wrap(submitErr, "commit: submitting partition to worker pool")
		}
	}
	wg.Wait()

	var errs error
	for _, e := range allErrs {
		errs = multierr.Append(errs, e)
	}
	if errs != nil {
		return nil, errs
	}

	var adds []storage.AddFile
	for _, a := range allAdds {
		adds = append(adds, a...)
	}
	return adds, nil
}

// minRowsPerPartition keeps small writes on a single partition: fanning
// a handful of rows out across several ants workers would only add
// scheduling overhead, since a write only benefits from parallel indexing
// once a partition's own sort-and-split pass (pkg/indexer) has enough
// rows to be worth a separate goroutine.
const minRowsPerPartition = 10_000

// partitionCount picks how many partitions to split rowCount rows into,
// capped by maxConcurrency (cfg.PartitionConcurrency) and never more than
// one partition per minRowsPerPartition rows.
func partitionCount(rowCount, maxConcurrency int) int {
	if maxConcurrency < 1 {
		return 1
	}
	n := rowCount / minRowsPerPartition
	if n < 1 {
		n = 1
	}
	if n > maxConcurrency {
		n = maxConcurrency
	}
	return n
}

// splitRows divides rows into at most n roughly-equal, contiguous
// partitions (never more partitions than rows, never zero partitions for
// a non-empty input).
func splitRows(rows []storage.Row, n int) [][]storage.Row {
	if n < 1 {
		n = 1
	}
	if len(rows) == 0 {
		return [][]storage.Row{rows}
	}
	if n > len(rows) {
		n = len(rows)
	}
	out := make([][]storage.Row, 0, n)
	chunk := (len(rows) + n - 1) / n
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
