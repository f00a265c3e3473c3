package casengine

import (
	"context"
	"time"

	"github.com/unkn0wn-root/casengine/clock"
)

// horizon is the flush state. It is immutable; Flush swaps in a new one.
type horizon struct {
	seq  uint64        // items with cas <= seq are flushed
	wall time.Time     // wall time of the last immediate flush
	past clock.RelTime // latest deferred horizon that has been reached
	when clock.RelTime // pending deferred horizon, 0 = none
}

func (h *horizon) hides(it *Item, now clock.RelTime) bool {
	if h.seq != 0 && it.cas <= h.seq {
		return true
	}
	if h.past != 0 && it.time < h.past {
		return true
	}
	return h.when != 0 && now >= h.when && it.time < h.when
}

// hidesCreated applies the horizon to something created at wall time t,
// such as a record read back from the second tier.
func (h *horizon) hidesCreated(c clock.Clock, t time.Time, now clock.RelTime) bool {
	if !h.wall.IsZero() && t.Before(h.wall) {
		return true
	}
	if h.past != 0 && t.Before(c.Abs(h.past)) {
		return true
	}
	return h.when != 0 && now >= h.when && t.Before(c.Abs(h.when))
}

// Flush invalidates every item stored before the call, or, for a future
// when, every item created before when once that time is reached. A later
// flush replaces a pending deferred one. Memory is reclaimed lazily.
func (e *engine) Flush(_ context.Context, _ *Cookie, when time.Time) error {
	if err := e.ready(); err != nil {
		return err
	}
	now := e.clock.Now()
	var rel clock.RelTime
	if !when.IsZero() {
		rel = e.clock.Rel(when)
	}

	for {
		cur := e.horizon.Load()
		next := *cur
		if cur.when != 0 && cur.when <= now && cur.when > next.past {
			next.past = cur.when
		}
		if rel <= now {
			next.seq = max(cur.seq, e.seq.Last())
			next.wall = e.clock.Wall()
			next.when = 0
		} else {
			next.when = rel
		}
		if e.horizon.CompareAndSwap(cur, &next) {
			break
		}
	}

	e.stats.cmdFlush.Add(1)
	e.log.Debug("flush", Fields{"deferred": rel > now, "when": when})
	return nil
}
