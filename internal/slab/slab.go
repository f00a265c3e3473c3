// Package slab accounts item memory in geometric size classes.
//
// Buffers are obtained from ristretto's z.Calloc and handed back with z.Free,
// so a jemalloc build keeps item payloads off the Go heap. The allocator only
// enforces the byte budget; choosing what to evict is the caller's job.
package slab

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/z"
)

// Overhead is the per-item bookkeeping charged on top of key and value bytes.
const Overhead = 56

const (
	chunkAlign = 8
	allocTag   = "casengine"
)

var (
	ErrTooLarge = errors.New("slab: request exceeds largest size class")
	ErrNoMemory = errors.New("slab: memory limit reached")
)

type Config struct {
	Limit    int64   // total byte budget
	MinChunk int     // smallest payload class (key+value bytes)
	MaxChunk int     // largest payload class
	Factor   float64 // growth factor between classes
}

// Chunk is one reservation. Buf has the requested length; its capacity is the
// payload size of the class.
type Chunk struct {
	Buf   []byte
	Class int
}

type class struct {
	size   int // payload bytes, excluding Overhead
	inUse  atomic.Int64
	allocs atomic.Uint64
	nomem  atomic.Uint64
}

// ClassStats is a point-in-time view of one size class.
type ClassStats struct {
	ID        int
	ChunkSize int
	InUse     int64
	Allocs    uint64
	OutOfMem  uint64
}

type Allocator struct {
	limit   int64
	used    atomic.Int64
	classes []*class
}

func New(cfg Config) (*Allocator, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("slab: limit must be positive, got %d", cfg.Limit)
	}
	if cfg.MinChunk <= 0 || cfg.MaxChunk < cfg.MinChunk {
		return nil, fmt.Errorf("slab: invalid chunk range %d..%d", cfg.MinChunk, cfg.MaxChunk)
	}
	if cfg.Factor <= 1.0 {
		return nil, fmt.Errorf("slab: factor must be > 1.0, got %v", cfg.Factor)
	}

	a := &Allocator{limit: cfg.Limit}
	size := align(cfg.MinChunk)
	for float64(size) <= float64(cfg.MaxChunk)/cfg.Factor {
		a.classes = append(a.classes, &class{size: size})
		next := align(int(float64(size) * cfg.Factor))
		if next == size {
			next += chunkAlign
		}
		size = next
	}
	a.classes = append(a.classes, &class{size: cfg.MaxChunk})
	return a, nil
}

func align(n int) int {
	if r := n % chunkAlign; r != 0 {
		n += chunkAlign - r
	}
	return n
}

// ClassFor returns the smallest class that fits n payload bytes.
func (a *Allocator) ClassFor(n int) (int, bool) {
	i := sort.Search(len(a.classes), func(i int) bool { return a.classes[i].size >= n })
	return i, i < len(a.classes)
}

// Cost is the number of budget bytes charged for n payload bytes.
func (a *Allocator) Cost(n int) (int64, error) {
	id, ok := a.ClassFor(n)
	if !ok {
		return 0, ErrTooLarge
	}
	return int64(a.classes[id].size + Overhead), nil
}

// Alloc reserves a chunk for n payload bytes. It returns ErrTooLarge before
// touching the budget and ErrNoMemory when the budget cannot cover the class.
func (a *Allocator) Alloc(n int) (Chunk, error) {
	if n < 0 {
		n = 0
	}
	id, ok := a.ClassFor(n)
	if !ok {
		return Chunk{}, ErrTooLarge
	}
	c := a.classes[id]
	cost := int64(c.size + Overhead)
	for {
		used := a.used.Load()
		if used+cost > a.limit {
			c.nomem.Add(1)
			return Chunk{}, ErrNoMemory
		}
		if a.used.CompareAndSwap(used, used+cost) {
			break
		}
	}
	c.inUse.Add(1)
	c.allocs.Add(1)
	buf := z.Calloc(c.size, allocTag)
	return Chunk{Buf: buf[:n], Class: id}, nil
}

// Free returns a chunk to the budget. Each chunk must be freed exactly once.
func (a *Allocator) Free(ch Chunk) {
	if ch.Buf == nil || ch.Class < 0 || ch.Class >= len(a.classes) {
		return
	}
	c := a.classes[ch.Class]
	z.Free(ch.Buf[:cap(ch.Buf)])
	c.inUse.Add(-1)
	a.used.Add(-int64(c.size + Overhead))
}

func (a *Allocator) Used() int64  { return a.used.Load() }
func (a *Allocator) Limit() int64 { return a.limit }

// Largest is the payload size of the biggest class.
func (a *Allocator) Largest() int { return a.classes[len(a.classes)-1].size }

func (a *Allocator) Classes() []ClassStats {
	out := make([]ClassStats, 0, len(a.classes))
	for i, c := range a.classes {
		out = append(out, ClassStats{
			ID:        i,
			ChunkSize: c.size + Overhead,
			InUse:     c.inUse.Load(),
			Allocs:    c.allocs.Load(),
			OutOfMem:  c.nomem.Load(),
		})
	}
	return out
}

// ResetCounters zeroes the cumulative per-class counters. Gauges are kept.
func (a *Allocator) ResetCounters() {
	for _, c := range a.classes {
		c.allocs.Store(0)
		c.nomem.Store(0)
	}
}
