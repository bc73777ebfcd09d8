package blockcache

import (
	"container/list"

	"github.com/vdstore/vd/slab"
)

// lru is a capacity-bounded, block-index-keyed LRU cache of aligned
// slabs. No generic LRU container appears anywhere in the retrieval
// pack, so — matching the teacher's habit of writing its own small
// in-package data structures rather than reaching outward for one —
// this is a small hand-rolled doubly-linked-list-plus-map, the same
// shape as the source's thin wrapper around a library LRU.
type lru struct {
	capacity int
	ll       *list.List
	items    map[uint64]*list.Element
}

type lruEntry struct {
	block uint64
	slab  *slab.AlignedSlab
}

func newLRU(capacity int) *lru {
	return &lru{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint64]*list.Element, capacity),
	}
}

func (l *lru) get(block uint64) (*slab.AlignedSlab, bool) {
	el, ok := l.items[block]
	if !ok {
		return nil, false
	}
	l.ll.MoveToFront(el)
	return el.Value.(*lruEntry).slab, true
}

// peek looks up an entry without promoting it. ReadBlock uses it so
// that its hits leave recency ordering unchanged; WriteBlock uses it
// and then promotes the entry itself after overwriting it.
func (l *lru) peek(block uint64) (*slab.AlignedSlab, bool) {
	el, ok := l.items[block]
	if !ok {
		return nil, false
	}
	return el.Value.(*lruEntry).slab, true
}

// put inserts or promotes an entry, evicting the least-recently-used
// entry if the cache is at capacity. It returns the evicted block
// index, if any.
func (l *lru) put(block uint64, s *slab.AlignedSlab) (evicted uint64, didEvict bool) {
	if el, ok := l.items[block]; ok {
		el.Value.(*lruEntry).slab = s
		l.ll.MoveToFront(el)
		return 0, false
	}

	el := l.ll.PushFront(&lruEntry{block: block, slab: s})
	l.items[block] = el

	if l.ll.Len() > l.capacity {
		back := l.ll.Back()
		if back != nil {
			l.ll.Remove(back)
			ev := back.Value.(*lruEntry)
			delete(l.items, ev.block)
			return ev.block, true
		}
	}
	return 0, false
}

func (l *lru) contains(block uint64) bool {
	_, ok := l.items[block]
	return ok
}

func (l *lru) remove(block uint64) {
	if el, ok := l.items[block]; ok {
		l.ll.Remove(el)
		delete(l.items, block)
	}
}

func (l *lru) clear() {
	l.ll.Init()
	l.items = make(map[uint64]*list.Element, l.capacity)
}
