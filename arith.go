package casengine

import (
	"bytes"
	"context"
	"strconv"
)

// maxDecimal is the longest decimal text of a uint64.
const maxDecimal = 20

// Arithmetic increments or decrements the decimal counter stored at key.
// Increment wraps at 2^64; decrement stops at zero. A missing key is created
// with initial when create is set. The result is a new item with a new CAS
// that keeps the previous item's flags and expiration.
func (e *engine) Arithmetic(ctx context.Context, _ *Cookie, key []byte, incr, create bool, delta, initial uint64, exptime int64) (uint64, uint64, error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if !e.validKey(key) {
		return 0, 0, ErrInvalid
	}
	hits, misses := &e.stats.decrHits, &e.stats.decrMisses
	if incr {
		hits, misses = &e.stats.incrHits, &e.stats.incrMisses
	}

	s := e.tbl.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.clock.Now()
	old := e.lookupLocked(s, key, now)

	var (
		value uint64
		flags uint32
		exp   = e.clock.Realtime(exptime)
	)
	if old == nil {
		misses.Add(1)
		if !create {
			return 0, 0, ErrKeyNotFound
		}
		value = initial
	} else {
		cur, ok := parseDecimal(old.value())
		if !ok {
			return 0, 0, ErrInvalid
		}
		hits.Add(1)
		switch {
		case incr:
			value = cur + delta
		case delta > cur:
			value = 0
		default:
			value = cur - delta
		}
		flags, exp = old.flags, old.exptime
		old.refs.Add(1)
		defer e.unref(old)
	}

	var buf [maxDecimal]byte
	text := strconv.AppendUint(buf[:0], value, 10)
	it, err := e.newItem(key, len(text), flags, exp, s)
	if err != nil {
		return 0, 0, err
	}
	defer e.unref(it)
	copy(it.value(), text)
	it.stored.Store(true)

	cas, err := e.commitLocked(ctx, s, old, it, now)
	if err != nil {
		return 0, 0, err
	}
	if !e.cfg.UseCAS {
		cas = 0
	}
	return value, cas, nil
}

// parseDecimal accepts 1-20 ASCII digits, optionally followed by spaces
// (decrement may leave a shorter number padded in place).
func parseDecimal(b []byte) (uint64, bool) {
	b = bytes.TrimRight(b, " \r\n")
	if len(b) == 0 || len(b) > maxDecimal {
		return 0, false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	return v, err == nil
}
