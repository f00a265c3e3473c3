package casengine

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/casengine/clock"
)

func (e *engine) Allocate(_ context.Context, _ *Cookie, key []byte, nbytes int, flags uint32, exptime int64) (*Handle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.validKey(key) || nbytes < 0 {
		return nil, ErrInvalid
	}
	if uint64(len(key)+nbytes) > uint64(e.cfg.ItemSizeMax) {
		return nil, ErrTooBig
	}
	it, err := e.newItem(key, nbytes, flags, e.clock.Realtime(exptime), nil)
	if err != nil {
		return nil, err
	}
	return &Handle{it: it, e: e}, nil
}

func (e *engine) Get(ctx context.Context, cookie *Cookie, key []byte) (*Handle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.validKey(key) {
		return nil, ErrInvalid
	}
	e.stats.cmdGet.Add(1)

	s := e.tbl.shardFor(key)
	s.mu.Lock()
	it := e.lookupLocked(s, key, e.clock.Now())
	if it != nil {
		s.bump(it)
		it.refs.Add(1)
	}
	s.mu.Unlock()

	if it != nil {
		e.stats.getHits.Add(1)
		return &Handle{it: it, e: e}, nil
	}
	e.stats.getMisses.Add(1)
	if e.tier != nil && cookie.Async() {
		return nil, e.tier.fetch(cookie, key)
	}
	return nil, ErrKeyNotFound
}

func (e *engine) Store(ctx context.Context, _ *Cookie, h *Handle, op StoreOp) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if h == nil || h.e != e || h.released.Load() {
		return 0, ErrInvalid
	}
	if op < OpAdd || op > OpCAS {
		return 0, ErrInvalid
	}
	if op == OpCAS && !e.cfg.UseCAS {
		return 0, ErrNotSupported
	}
	it := h.it
	if !it.stored.CompareAndSwap(false, true) {
		return 0, ErrInvalid
	}
	cas, err := e.store(ctx, it, h.expected, op)
	if err != nil {
		it.stored.Store(false)
		return 0, err
	}
	e.stats.cmdSet.Add(1)
	if !e.cfg.UseCAS {
		return 0, nil
	}
	return cas, nil
}

func (e *engine) store(ctx context.Context, it *Item, expected uint64, op StoreOp) (uint64, error) {
	key := it.key()
	s := e.tbl.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.clock.Now()
	old := e.lookupLocked(s, key, now)

	switch op {
	case OpAdd:
		if old != nil {
			s.bump(old)
			return 0, ErrKeyExists
		}
	case OpSet, OpReplace:
		if old == nil && (op == OpReplace || expected != 0) {
			return 0, ErrKeyNotFound
		}
		if expected != 0 && old.cas != expected {
			return 0, ErrKeyExists
		}
	case OpCAS:
		if old == nil {
			e.stats.casMisses.Add(1)
			return 0, ErrKeyNotFound
		}
		if old.cas != expected {
			e.stats.casBadval.Add(1)
			return 0, ErrKeyExists
		}
	case OpAppend, OpPrepend:
		if old == nil {
			return 0, ErrNotStored
		}
		if expected != 0 && old.cas != expected {
			return 0, ErrKeyExists
		}
		joined, err := e.concatLocked(s, old, it, op == OpPrepend)
		if err != nil {
			return 0, err
		}
		defer e.unref(joined)
		cas, err := e.commitLocked(ctx, s, old, joined, now)
		if err == nil {
			it.cas = cas
		}
		return cas, err
	}

	cas, err := e.commitLocked(ctx, s, old, it, now)
	if err == nil && op == OpCAS {
		e.stats.casHits.Add(1)
	}
	return cas, err
}

// concatLocked builds the item for APPEND/PREPEND. The result keeps old's
// flags and expiration. old is pinned while the allocator may evict from s.
func (e *engine) concatLocked(s *shard, old, data *Item, prepend bool) (*Item, error) {
	ov, dv := old.value(), data.value()
	if uint64(old.nkey+len(ov)+len(dv)) > uint64(e.cfg.ItemSizeMax) {
		return nil, ErrTooBig
	}
	old.refs.Add(1)
	joined, err := e.newItem(old.key(), len(ov)+len(dv), old.flags, old.exptime, s)
	e.unref(old)
	if err != nil {
		return nil, err
	}
	v := joined.value()
	if prepend {
		copy(v, dv)
		copy(v[len(dv):], ov)
	} else {
		copy(v, ov)
		copy(v[len(ov):], dv)
	}
	joined.stored.Store(true)
	return joined, nil
}

// commitLocked stamps it with a fresh CAS and makes it replace old.
func (e *engine) commitLocked(ctx context.Context, s *shard, old, it *Item, now clock.RelTime) (uint64, error) {
	cas, err := e.seq.Next(ctx)
	if err != nil {
		e.stats.seqErrors.Add(1)
		e.hooks.SequencerError(err)
		e.log.Error("cas sequencer failed", Fields{"err": err})
		return 0, opErr("store", it.key(), ErrFailed, err)
	}
	it.cas = cas
	it.time = now
	it.created = e.clock.Wall().UnixNano()
	if old != nil {
		e.unlinkLocked(s, old)
		defer e.unref(old)
	}
	e.linkLocked(s, it)
	return cas, nil
}

func (e *engine) Remove(ctx context.Context, _ *Cookie, key []byte, cas uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.validKey(key) {
		return ErrInvalid
	}
	s := e.tbl.shardFor(key)
	s.mu.Lock()
	old := e.lookupLocked(s, key, e.clock.Now())
	switch {
	case old == nil:
		s.mu.Unlock()
		e.stats.deleteMisses.Add(1)
		return ErrKeyNotFound
	case cas != 0 && old.cas != cas:
		s.mu.Unlock()
		return ErrKeyExists
	}
	e.unlinkLocked(s, old)
	s.mu.Unlock()
	e.unref(old)

	e.stats.deleteHits.Add(1)
	if e.tier != nil && e.cfg.Spill {
		e.tier.forget(key)
	}
	return nil
}

func (e *engine) Release(_ *Cookie, h *Handle) { h.Release() }

func (e *engine) View(ctx context.Context, cookie *Cookie, key []byte, fn func(*Handle) error) error {
	h, err := e.Get(ctx, cookie, key)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}

// IsMiss reports whether err means the key is not there.
func IsMiss(err error) bool { return errors.Is(err, ErrKeyNotFound) }
