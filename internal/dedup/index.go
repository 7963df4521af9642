package dedup

import "sync"

// Index is the in-memory set of video ids already persisted, used to skip
// refetching across channels and runs within the same process.
type Index struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIndex seeds the index, typically from the ids already in storage.
func NewIndex(ids []string) *Index {
	idx := &Index{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		idx.ids[id] = struct{}{}
	}
	return idx
}

func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.ids[id]
	return ok
}

func (idx *Index) Add(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ids[id] = struct{}{}
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// FilterPending returns the ids not yet indexed, preserving input order.
func (idx *Index) FilterPending(ids []string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := idx.ids[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending
}
