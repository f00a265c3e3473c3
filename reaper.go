package casengine

import (
	"context"
	"time"
)

// Reap unlinks every expired or flushed item. Memory of items still held by
// handles is reclaimed when they are released.
func (e *engine) Reap(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	total := 0
	for _, s := range e.tbl.shards {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		total += e.reapShard(s)
	}
	if total > 0 {
		e.log.Debug("reaped", Fields{"items": total})
	}
	return total, nil
}

func (e *engine) reapShard(s *shard) int {
	var dead []*Item
	s.mu.Lock()
	now := e.clock.Now()
	for it := s.tail; it != nil; {
		prev := it.prev
		if reason := e.deadReason(it, now); reason != "" {
			e.unlinkLocked(s, it)
			e.stats.expiredUnfetched.Add(1)
			e.hooks.Evicted(it.key(), reason)
			dead = append(dead, it)
		}
		it = prev
	}
	s.mu.Unlock()

	for _, it := range dead {
		e.unref(it)
	}
	return len(dead)
}

func (e *engine) reapLoop(every time.Duration) {
	defer e.reaper.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-e.reaper.HasBeenClosed():
			return
		case <-t.C:
			if _, err := e.Reap(e.reaper.Ctx()); err != nil {
				return
			}
		}
	}
}
