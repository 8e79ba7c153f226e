package relay

import (
	"container/list"
	"sync"
)

// dedupLRU is a fixed-capacity set of recently seen event ids, used to
// collapse the same event arriving from multiple relays into a single
// delivery on the merged stream (spec.md §4.1).
type dedupLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[[32]byte]*list.Element
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[[32]byte]*list.Element, capacity),
	}
}

// seenOrAdd returns true if id was already present, otherwise records it
// and returns false, evicting the oldest entry if at capacity.
func (d *dedupLRU) seenOrAdd(id [32]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[id]; ok {
		d.order.MoveToFront(el)
		return true
	}

	el := d.order.PushFront(id)
	d.index[id] = el

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.([32]byte))
		}
	}
	return false
}
