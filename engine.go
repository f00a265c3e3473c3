package casengine

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/z"

	"github.com/unkn0wn-root/casengine/clock"
	"github.com/unkn0wn-root/casengine/internal/slab"
	"github.com/unkn0wn-root/casengine/seq"
)

const (
	stateCreated int32 = iota
	stateReady
	stateDestroyed
)

type engine struct {
	version uint64
	opts    Options
	state   atomic.Int32
	initMu  sync.Mutex

	cfg     Config
	clock   clock.Clock
	seq     seq.Sequencer
	slab    *slab.Allocator
	tbl     *table
	horizon atomic.Pointer[horizon]
	stats   *stats
	bridge  *bridge
	tier    *tier
	ext     ExtensionHandler

	log     Logger
	hooks   Hooks
	verbose atomic.Bool

	reaper *z.Closer
	cursor atomic.Uint32 // where the next eviction pass starts
}

var _ Engine = (*engine)(nil)

func newEngine(version uint64, opts Options) *engine {
	e := &engine{
		version: version,
		opts:    opts,
		clock:   opts.Clock,
		seq:     opts.Sequencer,
		ext:     opts.Extension,
		hooks:   opts.Hooks,
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.seq == nil {
		e.seq = seq.NewLocal()
	}
	if e.hooks == nil {
		e.hooks = NopHooks{}
	}
	var base Logger = NopLogger{}
	if opts.Logger != nil {
		base = opts.Logger
	}
	e.log = leveled{Logger: base, verbose: e.verbose.Load}
	e.horizon.Store(&horizon{})
	return e
}

func (e *engine) Info() Info {
	f := []string{"lru", "flush", "arithmetic"}
	if e.state.Load() == stateReady && e.cfg.UseCAS {
		f = append(f, "cas")
	}
	if e.opts.Tier != nil {
		f = append(f, "tier")
	}
	if e.ext != nil {
		f = append(f, "extension")
	}
	return Info{Description: "casengine " + Version, Version: e.version, Features: f}
}

func (e *engine) Initialize(config string) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.state.Load() != stateCreated {
		return &OpError{Op: "initialize", Err: ErrFailed, Cause: errors.New("engine already initialized")}
	}

	cfg, err := ParseConfig(config)
	if err != nil {
		return err
	}
	a, err := slab.New(slab.Config{
		Limit:    int64(cfg.CacheSize),
		MinChunk: cfg.ChunkSize,
		MaxChunk: int(cfg.ItemSizeMax),
		Factor:   cfg.Factor,
	})
	if err != nil {
		return configErr(err)
	}

	e.cfg = cfg
	e.verbose.Store(cfg.Verbose)
	e.slab = a
	e.tbl = newTable(cfg.Shards)
	e.stats = newStats(e.clock)
	e.bridge = newBridge()
	if e.opts.Tier != nil {
		e.tier = newTier(e, e.opts.Tier)
	}
	e.reaper = z.NewCloser(0)
	if cfg.ReapInterval > 0 {
		e.reaper.AddRunning(1)
		go e.reapLoop(cfg.ReapInterval)
	}
	e.state.Store(stateReady)

	e.log.Info("engine initialized", Fields{
		"cache_size": cfg.CacheSize.String(),
		"shards":     cfg.Shards,
		"classes":    len(a.Classes()),
		"use_cas":    cfg.UseCAS,
		"tier":       e.tier != nil,
		"pid":        os.Getpid(),
	})
	return nil
}

// Destroy stops background work, drains deferred operations and unlinks
// every item. Items still held by handles are reclaimed on release.
func (e *engine) Destroy(ctx context.Context, force bool) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	prev := e.state.Swap(stateDestroyed)
	if prev == stateDestroyed {
		return nil
	}
	if prev == stateCreated {
		return e.seq.Close(ctx)
	}

	e.reaper.SignalAndWait()
	e.bridge.drain()
	var errs []error
	if e.tier != nil {
		if err := e.tier.close(ctx, force); err != nil {
			errs = append(errs, err)
		}
	}

	n := 0
	for _, s := range e.tbl.shards {
		s.mu.Lock()
		var dead []*Item
		for it := s.head; it != nil; it = it.next {
			dead = append(dead, it)
		}
		for _, it := range dead {
			e.unlinkLocked(s, it)
		}
		s.mu.Unlock()
		for _, it := range dead {
			e.unref(it)
		}
		n += len(dead)
	}

	if err := e.seq.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	e.log.Info("engine destroyed", Fields{"items": n, "force": force})
	if len(errs) > 0 {
		return &OpError{Op: "destroy", Err: ErrFailed, Cause: errors.Join(errs...)}
	}
	return nil
}

func (e *engine) ready() error {
	if e.state.Load() != stateReady {
		return ErrFailed
	}
	return nil
}

// unref drops one reference and frees the chunk with the last one.
func (e *engine) unref(it *Item) {
	if it.refs.Add(-1) != 0 {
		return
	}
	size := cap(it.chunk.Buf)
	e.slab.Free(it.chunk)
	it.chunk = slab.Chunk{}
	e.stats.reclaimed.Add(1)
	e.hooks.Reclaimed(size)
}

func (e *engine) validKey(key []byte) bool {
	return len(key) > 0 && len(key) <= e.cfg.KeyMax
}

// live reports whether a linked item is visible at now.
func (e *engine) live(it *Item, now clock.RelTime) bool {
	return e.deadReason(it, now) == ""
}

func (e *engine) deadReason(it *Item, now clock.RelTime) string {
	if it.exptime != 0 && it.exptime <= now {
		return "expired"
	}
	if e.horizon.Load().hides(it, now) {
		return "flushed"
	}
	return ""
}

// lookupLocked returns the visible item for key, unlinking a dead one.
// s.mu must be held.
func (e *engine) lookupLocked(s *shard, key []byte, now clock.RelTime) *Item {
	it := s.find(key)
	if it == nil {
		return nil
	}
	if reason := e.deadReason(it, now); reason != "" {
		e.unlinkLocked(s, it)
		e.stats.expiredUnfetched.Add(1)
		e.hooks.Evicted(it.key(), reason)
		e.unref(it)
		return nil
	}
	return it
}

// linkLocked makes it the visible item for its key. s.mu must be held.
func (e *engine) linkLocked(s *shard, it *Item) {
	s.link(it)
	e.stats.currItems.Add(1)
	e.stats.totalItems.Add(1)
	e.stats.bytes.Add(int64(len(it.chunk.Buf)))
}

// unlinkLocked hides it; the caller drops the table reference with unref
// once it no longer needs the item. s.mu must be held.
func (e *engine) unlinkLocked(s *shard, it *Item) {
	if !it.linked {
		return
	}
	s.unlink(it)
	e.stats.currItems.Add(-1)
	e.stats.bytes.Add(-int64(len(it.chunk.Buf)))
}

// newItem allocates an unlinked item holding one reference for the caller.
// held is the shard whose lock the caller already owns, if any; items the
// caller still needs from that shard must be pinned with an extra reference.
func (e *engine) newItem(key []byte, nbytes int, flags uint32, exp clock.RelTime, held *shard) (*Item, error) {
	n := len(key) + nbytes
	if n > e.slab.Largest() {
		return nil, ErrTooBig
	}
	var (
		ch  slab.Chunk
		err error
	)
	for round := 0; ; round++ {
		ch, err = e.slab.Alloc(n)
		if err == nil {
			break
		}
		if errors.Is(err, slab.ErrTooLarge) {
			return nil, ErrTooBig
		}
		if !e.cfg.Eviction || round >= e.cfg.EvictMax || !e.evictOne(held) {
			e.stats.outOfMemory.Add(1)
			e.hooks.OutOfMemory(n)
			e.log.Debug("allocation failed", Fields{"bytes": n, "rounds": round})
			return nil, ErrNoMemory
		}
	}

	it := &Item{chunk: ch, nkey: len(key), flags: flags, exptime: exp}
	copy(ch.Buf, key)
	if e.cfg.UseCAS {
		it.iflag |= ItemWithCAS
	}
	it.refs.Store(1)
	return it, nil
}

// evictOne unlinks one victim, trying every shard once starting at the
// rotating cursor. Shards other than held are only taken if uncontended.
func (e *engine) evictOne(held *shard) bool {
	now := e.clock.Now()
	n := len(e.tbl.shards)
	start := int(e.cursor.Add(1))
	for i := 0; i < n; i++ {
		s := e.tbl.shards[(start+i)&(n-1)]
		if s != held {
			if !s.mu.TryLock() {
				continue
			}
		}
		victim, reason := e.victimLocked(s, now)
		if victim != nil {
			e.unlinkLocked(s, victim)
			if reason == "lru" {
				e.stats.evictions.Add(1)
				if e.tier != nil && e.cfg.Spill {
					e.tier.spill(victim)
				}
			} else {
				e.stats.expiredUnfetched.Add(1)
			}
			e.hooks.Evicted(victim.key(), reason)
		}
		if s != held {
			s.mu.Unlock()
		}
		if victim != nil {
			e.unref(victim)
			return true
		}
	}
	return false
}

// victimLocked picks from the LRU tail: the first dead item within
// victimDepth, otherwise the least recently used item nobody holds.
func (e *engine) victimLocked(s *shard, now clock.RelTime) (*Item, string) {
	var lru *Item
	depth := 0
	for it := s.tail; it != nil && depth < victimDepth; it = it.prev {
		if it.refs.Load() > 1 {
			continue
		}
		depth++
		if reason := e.deadReason(it, now); reason != "" {
			return it, reason
		}
		if lru == nil {
			lru = it
		}
	}
	if lru != nil {
		return lru, "lru"
	}
	return nil, ""
}
