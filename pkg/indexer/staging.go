package indexer

import (
	"sync"

	queue "github.com/yireyun/go-queue"

	"otree/pkg/storage"
)

// Staging accumulates incoming rows without indexing them until enough
// have built up to amortize a full Indexer pass (the design "staging
// optimization"). Rows go through a bounded lock-free ring buffer; only
// the running byte count is guarded by a mutex, which Add takes on every
// call and Drain takes once at the end.
type Staging struct {
	q *queue.EsQueue

	mu            sync.Mutex
	bufferedBytes int64
	threshold     int64
}

// NewStaging creates a staging area holding up to capacity rows, flushing
// once the caller's running byte estimate reaches thresholdBytes. A
// thresholdBytes of 0 disables size-based flushing; the caller must drain
// explicitly (e.g. end of batch).
func NewStaging(capacity uint32, thresholdBytes int64) *Staging {
	return &Staging{q: queue.NewQueue(capacity), threshold: thresholdBytes}
}

// Add enqueues row, estimated at approxBytes, and reports whether the
// staging area has crossed its flush threshold (or the ring buffer itself
// is full, forcing an early drain regardless of the byte threshold).
func (s *Staging) Add(row storage.Row, approxBytes int64) (shouldFlush bool) {
	ok, _ := s.q.Put(row)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		return true
	}
	s.bufferedBytes += approxBytes
	return s.threshold > 0 && s.bufferedBytes >= s.threshold
}

// Drain removes and returns every row currently staged, resetting the
// byte counter. The rows drained are exactly the next batch the Indexer
// should run.
func (s *Staging) Drain() []storage.Row {
	var rows []storage.Row
	for {
		v, ok, _ := s.q.Get()
		if !ok {
			break
		}
		rows = append(rows, v.(storage.Row))
	}
	s.mu.Lock()
	s.bufferedBytes = 0
	s.mu.Unlock()
	return rows
}
