package casengine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// victimDepth bounds how far from the LRU tail a shard looks for a victim.
const victimDepth = 8

type shard struct {
	mu    sync.Mutex
	items map[string]*Item
	head  *Item // most recently used
	tail  *Item
}

type table struct {
	shards []*shard
	mask   uint64
}

func newTable(n int) *table {
	n = nextPow2(n)
	t := &table{shards: make([]*shard, n), mask: uint64(n - 1)}
	for i := range t.shards {
		t.shards[i] = &shard{items: make(map[string]*Item)}
	}
	return t
}

func (t *table) shardFor(key []byte) *shard {
	return t.shards[xxhash.Sum64(key)&t.mask]
}

func (s *shard) find(key []byte) *Item {
	return s.items[string(key)]
}

// link inserts it at the LRU head and takes the table's reference.
func (s *shard) link(it *Item) {
	it.refs.Add(1)
	it.linked = true
	s.items[string(it.key())] = it
	s.pushFront(it)
}

// unlink removes it from the index and the LRU. The caller owns the table's
// reference afterwards and must drop it with engine.unref.
func (s *shard) unlink(it *Item) {
	if !it.linked {
		return
	}
	delete(s.items, string(it.key()))
	s.remove(it)
	it.linked = false
}

func (s *shard) bump(it *Item) {
	if s.head == it {
		return
	}
	s.remove(it)
	s.pushFront(it)
}

func (s *shard) pushFront(it *Item) {
	it.prev = nil
	it.next = s.head
	if s.head != nil {
		s.head.prev = it
	}
	s.head = it
	if s.tail == nil {
		s.tail = it
	}
}

func (s *shard) remove(it *Item) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		s.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		s.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (s *shard) count() int { return len(s.items) }
