// Package analyzer implements the Analyzer/Optimizer: identifying cubes
// worth compacting and re-running the Indexer over their subtree to
// produce replacement Blocks.
package analyzer

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"otree/pkg/cube"
	"otree/pkg/index"
	"otree/pkg/indexer"
	"otree/pkg/revision"
	"otree/pkg/storage"
	"otree/pkg/writer"
)

// Options configures one analyze pass. The source spec leaves the exact
// under-fill ratio and staleness threshold as deployment choices, not
// fixed constants.
type Options struct {
	DesiredCubeCapacity uint64
	// UnderfillRatio flags a FLOODED cube whose element count is below
	// UnderfillRatio * DesiredCubeCapacity as a compaction candidate.
	UnderfillRatio float64
	// StaleAfter flags an ANNOUNCED cube once its newest Block is older
	// than this relative to Now.
	StaleAfter time.Duration
	Now        time.Time
}

// Analyze returns the cubes analyze(revisionId) should flag for
// optimize: under-filled FLOODED cubes, or ANNOUNCED cubes whose
// proposal has gone stale. ANNOUNCED is advisory only, so staleness here
// never affects read correctness, only which cubes get reconsidered.
func Analyze(state *index.State, files []storage.AddFile, opts Options) []cube.Id {
	latest := latestModTimeByCube(files)

	var out []cube.Id
	state.ForEachAscending(func(c cube.Id, n *index.Node) bool {
		switch n.State {
		case storage.StateFlooded:
			if opts.DesiredCubeCapacity > 0 &&
				float64(n.TotalElements) < opts.UnderfillRatio*float64(opts.DesiredCubeCapacity) {
				out = append(out, c)
			}
		case storage.StateAnnounced:
			if mt, ok := latest[c.Key()]; ok && opts.Now.Sub(mt) > opts.StaleAfter {
				out = append(out, c)
			}
		}
		return true
	})
	return out
}

func latestModTimeByCube(files []storage.AddFile) map[string]time.Time {
	out := make(map[string]time.Time, len(files))
	for _, f := range files {
		key := f.Tags.CubeID.Key()
		if cur, ok := out[key]; !ok || f.ModTime.After(cur) {
			out[key] = f.ModTime
		}
	}
	return out
}

// Extract recovers a row's key bytes and indexed-column values from its
// stored payload, mirroring whatever extraction the original write used.
// Optimize needs these to feed the rows it reads back into the Indexer
// again, exactly as a fresh write would.
type Extract func(payload interface{}) (keys [][]byte, indexed []interface{})

// Optimize re-runs the Indexer over cube c and every descendant of c,
// reading their committed rows back via reader, and returns the
// replacement Blocks plus the paths of the Blocks they supersede
//. The caller commits both in one transaction: replacements
// as Adds, superseded paths as Removes.
func Optimize(
	ctx context.Context,
	rev *revision.Revision,
	base *index.State,
	files []storage.AddFile,
	reader storage.RowReader,
	extract Extract,
	fw storage.ColumnFileWriter,
	fsys storage.FileSystem,
	c cube.Id,
	opts writer.Options,
) ([]storage.AddFile, []string, error) {
	var rows []storage.Row
	var superseded []string

	for _, f := range files {
		if !c.Equal(f.Tags.CubeID) && !c.IsAncestorOf(f.Tags.CubeID) {
			continue
		}
		payloads, err := reader.ReadRows(ctx, f.Path, opts.Schema)
		if err != nil {
			return nil, nil, err
		}
		for _, payload := range payloads {
			keys, indexed := extract(payload)
			rows = append(rows, storage.Row{Keys: keys, Indexed: indexed, Payload: payload})
		}
		superseded = append(superseded, f.Path)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	fresh := base.WithoutSubtree(c)
	res, err := indexer.Index(rev, fresh, rows)
	if err != nil {
		return nil, nil, err
	}

	adds, err := writer.Write(ctx, fw, fsys, opts, res.Placements)
	if err != nil {
		return nil, nil, err
	}
	return adds, superseded, nil
}

// reportEntry is one flagged cube's human-readable summary in a Report.
type reportEntry struct {
	Cube  string `yaml:"cube"`
	State string `yaml:"state"`
}

// Report renders candidates (Analyze's output) as YAML, the operator-
// facing dump an `ANALYZE` DDL command prints alongside the raw cube.Id
// slice (the design; the wire type stays a plain []cube.Id so callers
// never have to depend on this formatting).
func Report(state *index.State, candidates []cube.Id) (string, error) {
	entries := make([]reportEntry, 0, len(candidates))
	for _, c := range candidates {
		n, ok := state.Get(c)
		if !ok {
			continue
		}
		entries = append(entries, reportEntry{Cube: c.Key(), State: n.State.String()})
	}
	out, err := yaml.Marshal(struct {
		Candidates []reportEntry `yaml:"candidates"`
	}{Candidates: entries})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
