// Package asynchook moves hook work off the engine's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    EvictedEvery: 100, // sample: ~every 100th eviction
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	eng, _ := casengine.New("cache_size=256MiB", casengine.Options{
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped when the queue is full; Dropped reports how many.
package asynchook

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/casengine"
)

type Hooks struct {
	inner   casengine.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ casengine.Hooks = (*Hooks)(nil)

func New(inner casengine.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events raised after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

// Keys passed to hooks are engine memory; they are copied before queueing.

func (h *Hooks) Evicted(key []byte, reason string) {
	k := bytes.Clone(key)
	h.try(func() { h.inner.Evicted(k, reason) })
}

func (h *Hooks) Reclaimed(n int) { h.try(func() { h.inner.Reclaimed(n) }) }

func (h *Hooks) OutOfMemory(n int) { h.try(func() { h.inner.OutOfMemory(n) }) }

func (h *Hooks) TierFetchError(key []byte, err error) {
	k := bytes.Clone(key)
	h.try(func() { h.inner.TierFetchError(k, err) })
}

func (h *Hooks) TierSpillDropped(key []byte) {
	k := bytes.Clone(key)
	h.try(func() { h.inner.TierSpillDropped(k) })
}

func (h *Hooks) SequencerError(err error) { h.try(func() { h.inner.SequencerError(err) }) }
