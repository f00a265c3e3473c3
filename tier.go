package casengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/casengine/clock"
	"github.com/unkn0wn-root/casengine/internal/util"
	"github.com/unkn0wn-root/casengine/internal/wire"
	pr "github.com/unkn0wn-root/casengine/provider"
)

const spillQueueLen = 1024

// tierJob is a write to the second tier. A nil value deletes.
type tierJob struct {
	key   string
	value []byte
	ttl   time.Duration
}

// tier reads misses through from a provider and, with spill on, keeps it
// updated with evicted and removed items. Writes are applied in order by a
// single worker.
type tier struct {
	e  *engine
	p  pr.Provider
	sf singleflight.Group

	mu     sync.RWMutex
	closed bool
	q      chan tierJob
	done   chan struct{}
	skip   atomic.Bool
}

func newTier(e *engine, p pr.Provider) *tier {
	t := &tier{
		e:    e,
		p:    p,
		q:    make(chan tierJob, spillQueueLen),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *tier) key(key []byte) string { return util.TierKey(t.e.cfg.Namespace, key) }

func (t *tier) opCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if d := t.e.cfg.TierTimeout; d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

// fetch defers a GET miss to a background read. Concurrent misses for the
// same key share one provider round trip.
func (t *tier) fetch(c *Cookie, key []byte) error {
	d, err := t.e.bridge.begin(c)
	if err != nil {
		return err
	}
	t.e.stats.wouldBlock.Add(1)

	k := string(key)
	go func() {
		ch := t.sf.DoChan(k, func() (any, error) { return nil, t.load(k) })
		select {
		case r := <-ch:
			if t.e.bridge.ctx().Err() != nil {
				r.Err = ErrFailed
			}
			d.complete(r.Err)
		case <-t.e.bridge.ctx().Done():
			d.complete(ErrFailed)
		}
	}()
	return ErrWouldBlock
}

// load copies a record from the provider into the table. It returns nil when
// the key is now resident and ErrKeyNotFound when the tier has nothing usable.
func (t *tier) load(key string) error {
	ctx, cancel := t.opCtx(t.e.bridge.ctx())
	defer cancel()

	e := t.e
	e.stats.tierFetches.Add(1)
	tk := t.key([]byte(key))

	raw, ok, err := t.p.Get(ctx, tk)
	if err != nil {
		e.stats.tierErrors.Add(1)
		e.hooks.TierFetchError([]byte(key), err)
		e.log.Warn("tier get failed", Fields{"key": tk, "err": err})
		return ErrKeyNotFound
	}
	if !ok {
		return ErrKeyNotFound
	}

	rec, err := wire.DecodeItem(raw)
	if err != nil {
		e.log.Warn("tier record corrupt, deleting", Fields{"key": tk, "err": err})
		_ = t.p.Del(ctx, tk)
		return ErrKeyNotFound
	}
	now := e.clock.Now()
	if (rec.Exptime != 0 && rec.Exptime <= e.clock.Wall().Unix()) ||
		e.horizon.Load().hidesCreated(e.clock, time.Unix(0, rec.Created), now) {
		_ = t.p.Del(ctx, tk)
		return ErrKeyNotFound
	}

	if err := t.install(ctx, []byte(key), rec); err != nil {
		return err
	}
	e.stats.tierHits.Add(1)
	return nil
}

// install adds rec unless the key was stored meanwhile.
func (t *tier) install(ctx context.Context, key []byte, rec wire.Item) error {
	e := t.e
	if e.ready() != nil {
		return ErrFailed
	}
	if uint64(len(key)+len(rec.Payload)) > uint64(e.cfg.ItemSizeMax) {
		return ErrKeyNotFound
	}
	var exp clock.RelTime
	if rec.Exptime != 0 {
		exp = e.clock.Rel(time.Unix(rec.Exptime, 0))
	}
	it, err := e.newItem(key, len(rec.Payload), rec.Flags, exp, nil)
	if err != nil {
		return err
	}
	defer e.unref(it)
	copy(it.value(), rec.Payload)
	it.stored.Store(true)

	_, err = e.store(ctx, it, 0, OpAdd)
	if errors.Is(err, ErrKeyExists) {
		return nil
	}
	return err
}

// spill queues a copy of an evicted item. Called with the item's shard
// locked; it never blocks.
func (t *tier) spill(it *Item) {
	e := t.e
	var (
		ttl time.Duration
		abs int64
	)
	if it.exptime != 0 {
		at := e.clock.Abs(it.exptime)
		ttl = at.Sub(e.clock.Wall())
		if ttl <= 0 {
			return
		}
		abs = at.Unix()
	}
	b := wire.EncodeItem(wire.Item{
		Flags:   it.flags,
		Exptime: abs,
		Created: it.created,
		CAS:     it.cas,
		Payload: it.value(),
	})
	t.enqueue(it.key(), tierJob{key: t.key(it.key()), value: b, ttl: ttl})
}

// forget queues a delete of key.
func (t *tier) forget(key []byte) {
	t.enqueue(key, tierJob{key: t.key(key)})
}

func (t *tier) enqueue(key []byte, j tierJob) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.q <- j:
	default:
		t.e.stats.tierSpillDrops.Add(1)
		t.e.hooks.TierSpillDropped(key)
	}
}

func (t *tier) run() {
	defer close(t.done)
	for j := range t.q {
		if t.skip.Load() {
			continue
		}
		t.apply(j)
	}
}

func (t *tier) apply(j tierJob) {
	ctx, cancel := t.opCtx(context.Background())
	defer cancel()

	e := t.e
	if j.value == nil {
		if err := t.p.Del(ctx, j.key); err != nil {
			e.stats.tierErrors.Add(1)
			e.log.Warn("tier delete failed", Fields{"key": j.key, "err": err})
		}
		return
	}
	ok, err := t.p.Set(ctx, j.key, j.value, int64(len(j.value)), j.ttl)
	switch {
	case err != nil:
		e.stats.tierErrors.Add(1)
		e.log.Warn("tier spill failed", Fields{"key": j.key, "err": err})
	case !ok:
		e.stats.tierSpillDrops.Add(1)
		e.log.Debug("tier rejected spill", Fields{"key": j.key})
	default:
		e.stats.tierSpills.Add(1)
	}
}

func (t *tier) queued() int { return len(t.q) }

// close stops the worker and closes the provider. Without force queued
// writes are applied first.
func (t *tier) close(ctx context.Context, force bool) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.q)
	}
	t.mu.Unlock()
	if force {
		t.skip.Store(true)
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		t.skip.Store(true)
	}
	return t.p.Close(ctx)
}
