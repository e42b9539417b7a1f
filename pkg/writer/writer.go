// Package writer implements the Block Writer: packing one partition's
// indexed rows into per-cube output files and tagging each with the
// metadata the Index State is later reduced from.
package writer

import (
	"context"

	"otree/pkg/cube"
	"otree/pkg/indexer"
	"otree/pkg/storage"
)

// Options configures one partition's Block Writer pass.
type Options struct {
	RevisionID  uint64
	PartitionID string
	Schema      interface{}
	// PathFor names the output file for a cube within this partition. The
	// physical file layout is external to the core; callers
	// typically derive a path from the table root, PartitionID and the
	// cube's Marshal()-ed key.
	PathFor func(partitionID string, c cube.Id) string
}

// blockState is the running per-cube state while a partition is being
// written: the open sink and the stats its eventual AddFile tag needs.
type blockState struct {
	sink      storage.RowSink
	path      string
	minWeight int32
	maxWeight int32
	count     uint64
}

// Write opens one file per distinct cube among placements, writes each
// row's clean payload to it, and on success emits one AddFile record per
// cube with the tags the design requires. Any error closes every sink
// opened so far (best-effort) and returns immediately, leaving the whole
// partition to be retried by the caller — per-row errors are not
// supported.
func Write(ctx context.Context, fw storage.ColumnFileWriter, fsys storage.FileSystem, opts Options, placements []indexer.Placement) ([]storage.AddFile, error) {
	blocks := make(map[string]*blockState)
	var order []cube.Id

	closeAll := func() {
		for _, b := range blocks {
			_ = b.sink.Close()
		}
	}

	for _, p := range placements {
		key := p.Cube.Key()
		b, ok := blocks[key]
		if !ok {
			path := opts.PathFor(opts.PartitionID, p.Cube)
			sink, err := fw.Open(ctx, path, opts.Schema)
			if err != nil {
				closeAll()
				return nil, err
			}
			b = &blockState{sink: sink, path: path, minWeight: p.Weight, maxWeight: p.Weight}
			blocks[key] = b
			order = append(order, p.Cube)
		}
		if err := b.sink.Write(p.Row.Payload); err != nil {
			closeAll()
			return nil, err
		}
		if p.Weight < b.minWeight {
			b.minWeight = p.Weight
		}
		if p.Weight > b.maxWeight {
			b.maxWeight = p.Weight
		}
		b.count++
	}

	closeRest := func(rest []cube.Id) {
		for _, c := range rest {
			_ = blocks[c.Key()].sink.Close()
		}
	}

	adds := make([]storage.AddFile, 0, len(blocks))
	for i, c := range order {
		b := blocks[c.Key()]
		if err := b.sink.Close(); err != nil {
			closeRest(order[i+1:])
			return nil, err
		}
		size, modTime, err := fsys.Stat(ctx, b.path)
		if err != nil {
			closeRest(order[i+1:])
			return nil, err
		}
		adds = append(adds, storage.AddFile{
			Path:    b.path,
			Size:    size,
			ModTime: modTime,
			Tags: storage.BlockTag{
				CubeID:       c,
				MinWeight:    b.minWeight,
				MaxWeight:    b.maxWeight,
				State:        storage.StateFlooded,
				RevisionID:   opts.RevisionID,
				ElementCount: b.count,
			},
		})
	}
	return adds, nil
}
