package revision

import (
	"sync"

	"otree/pkg/common"
)

// History is one table's Revision lineage, newest first, backed by a
// common.Link/DLNode chain: the same newest-first singly-owned chain
// shape used elsewhere for MVCC version chains, here tracking successive
// Revisions a table's transformers widened through rather than
// transactional versions.
type History struct {
	mu   sync.RWMutex
	link common.Link
}

// NewHistory creates a lineage starting at first.
func NewHistory(first *Revision) *History {
	h := &History{}
	h.link.Insert(first)
	return h
}

// Push installs next as the new head of the lineage, e.g. after a widened
// Revision is committed.
func (h *History) Push(next *Revision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.link.Insert(next)
}

// Current returns the lineage's newest Revision.
func (h *History) Current() *Revision {
	h.mu.RLock()
	defer h.mu.RUnlock()
	it := common.NewLinkIt(nil, &h.link, false)
	if !it.Valid() {
		return nil
	}
	return it.Get().GetPayload().(*Revision)
}

// Len reports how many Revisions the lineage has ever held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.link.Length()
}

// Each walks the lineage newest-first, stopping early if fn returns
// false.
func (h *History) Each(fn func(r *Revision) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.link.Loop(func(n *common.DLNode) bool {
		return fn(n.GetPayload().(*Revision))
	}, false)
}
