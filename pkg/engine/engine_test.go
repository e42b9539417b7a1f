package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otree/pkg/analyzer"
	"otree/pkg/config"
	"otree/pkg/cube"
	"otree/pkg/revision"
	"otree/pkg/storage"
	"otree/pkg/transform"
)

func pathFor(table, partitionID string, c cube.Id) string {
	return fmt.Sprintf("/tables/%s/%s/%s", table, partitionID, c.Key())
}

func newTestRevision(capacity uint64) *revision.Revision {
	t := transform.NewLinear(0, 1000, transform.TypeFloat64)
	return revision.New(1, 0, []string{"v"}, []*transform.Transformer{t}, capacity, 7)
}

func rowAt(v float64, payload string) storage.Row {
	return storage.Row{Keys: [][]byte{[]byte(payload)}, Indexed: []interface{}{v}, Payload: payload}
}

func newTestEngine(capacity uint64) (*Engine, *storage.MockFileWriter) {
	log := storage.NewMockLog()
	fw := storage.NewMockFileWriter()
	fsys := storage.NewMockFileSystem(fw)
	cfg := config.Defaults()
	e := New(log, fw, fsys, cfg, pathFor, "")
	e.SetRevision("events", newTestRevision(capacity))
	return e, fw
}

func TestWriteFailsWithoutActiveRevision(t *testing.T) {
	e, _ := newTestEngine(100)
	_, err := e.Write(context.Background(), "unknown-table", []storage.Row{rowAt(1, "a")}, WriteOptions{})
	assert.Error(t, err)
}

func TestWriteCommitsRows(t *testing.T) {
	e, _ := newTestEngine(100)
	res, err := e.Write(context.Background(), "events", []storage.Row{rowAt(1, "a"), rowAt(2, "b")}, WriteOptions{})
	require.NoError(t, err)
	require.Len(t, res.Adds, 1)
	assert.Equal(t, uint64(2), res.Adds[0].Tags.ElementCount)
}

func TestStageBuffersUntilThresholdThenFlushes(t *testing.T) {
	e, _ := newTestEngine(100)
	opts := WriteOptions{StagingSizeInBytes: 10}

	res, err := e.Stage(context.Background(), "events", rowAt(1, "a"), 4, opts)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = e.Stage(context.Background(), "events", rowAt(2, "b"), 4, opts)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = e.Stage(context.Background(), "events", rowAt(3, "c"), 4, opts)
	require.NoError(t, err)
	require.NotNil(t, res)
	var total uint64
	for _, a := range res.Adds {
		total += a.Tags.ElementCount
	}
	assert.Equal(t, uint64(3), total)
}

func TestFlushWritesOutPartialStaging(t *testing.T) {
	e, _ := newTestEngine(100)
	opts := WriteOptions{StagingSizeInBytes: 1 << 20}

	res, err := e.Stage(context.Background(), "events", rowAt(1, "a"), 4, opts)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = e.Flush(context.Background(), "events", opts)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Adds, 1)
}

func TestFlushIsNoopWithNothingStaged(t *testing.T) {
	e, _ := newTestEngine(100)
	res, err := e.Flush(context.Background(), "events", WriteOptions{})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestAnalyzeFlagsUnderfilledCubeAfterWrite(t *testing.T) {
	e, _ := newTestEngine(1000)
	_, err := e.Write(context.Background(), "events", []storage.Row{rowAt(1, "a")}, WriteOptions{})
	require.NoError(t, err)

	out, err := e.Analyze(context.Background(), "events", analyzer.Options{DesiredCubeCapacity: 1000, UnderfillRatio: 0.5})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestOptimizeReindexesAndCommitsRemoves(t *testing.T) {
	e, fw := newTestEngine(2)
	_, err := e.Write(context.Background(), "events", []storage.Row{rowAt(1, "a"), rowAt(2, "b"), rowAt(3, "c")}, WriteOptions{})
	require.NoError(t, err)

	extract := func(payload interface{}) ([][]byte, []interface{}) {
		s := payload.(string)
		return [][]byte{[]byte(s)}, []interface{}{float64(len(s))}
	}
	root := cube.Root(1)
	res, err := e.Optimize(context.Background(), "events", fw, extract, root, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
}
