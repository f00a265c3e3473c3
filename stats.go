package casengine

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/unkn0wn-root/casengine/clock"
)

// Stats groups accepted by GetStats.
const (
	StatsGeneral  = ""
	StatsSlabs    = "slabs"
	StatsSettings = "settings"
	StatsTier     = "tier"
)

type stats struct {
	clock clock.Clock

	// gauges, never reset
	currItems atomic.Int64
	bytes     atomic.Int64

	totalItems       atomic.Uint64
	cmdGet           atomic.Uint64
	getHits          atomic.Uint64
	getMisses        atomic.Uint64
	cmdSet           atomic.Uint64
	casHits          atomic.Uint64
	casMisses        atomic.Uint64
	casBadval        atomic.Uint64
	deleteHits       atomic.Uint64
	deleteMisses     atomic.Uint64
	incrHits         atomic.Uint64
	incrMisses       atomic.Uint64
	decrHits         atomic.Uint64
	decrMisses       atomic.Uint64
	cmdFlush         atomic.Uint64
	evictions        atomic.Uint64
	reclaimed        atomic.Uint64
	expiredUnfetched atomic.Uint64
	outOfMemory      atomic.Uint64
	seqErrors        atomic.Uint64
	wouldBlock       atomic.Uint64
	tierFetches      atomic.Uint64
	tierHits         atomic.Uint64
	tierErrors       atomic.Uint64
	tierSpills       atomic.Uint64
	tierSpillDrops   atomic.Uint64
}

func newStats(c clock.Clock) *stats { return &stats{clock: c} }

func (s *stats) counters() []*atomic.Uint64 {
	return []*atomic.Uint64{
		&s.totalItems, &s.cmdGet, &s.getHits, &s.getMisses, &s.cmdSet,
		&s.casHits, &s.casMisses, &s.casBadval, &s.deleteHits, &s.deleteMisses,
		&s.incrHits, &s.incrMisses, &s.decrHits, &s.decrMisses, &s.cmdFlush,
		&s.evictions, &s.reclaimed, &s.expiredUnfetched, &s.outOfMemory,
		&s.seqErrors, &s.wouldBlock, &s.tierFetches, &s.tierHits, &s.tierErrors,
		&s.tierSpills, &s.tierSpillDrops,
	}
}

func (s *stats) reset() {
	for _, c := range s.counters() {
		c.Store(0)
	}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func i64(v int64) string  { return strconv.FormatInt(v, 10) }

func (e *engine) GetStats(_ context.Context, _ *Cookie, group string, add AddStat) error {
	if err := e.ready(); err != nil {
		return err
	}
	if add == nil {
		return ErrInvalid
	}
	switch group {
	case StatsGeneral:
		e.generalStats(add)
	case StatsSlabs:
		e.slabStats(add)
	case StatsSettings:
		e.cfg.settings(add)
	case StatsTier:
		e.tierStats(add)
	default:
		return ErrKeyNotFound
	}
	return nil
}

func (e *engine) ResetStats(*Cookie) {
	if e.ready() != nil {
		return
	}
	e.stats.reset()
	e.slab.ResetCounters()
}

func (e *engine) generalStats(add AddStat) {
	s := e.stats
	add("pid", strconv.Itoa(os.Getpid()))
	add("uptime", u64(uint64(e.clock.Now())))
	add("time", i64(e.clock.Wall().Unix()))
	add("version", Version)
	add("curr_items", i64(s.currItems.Load()))
	add("total_items", u64(s.totalItems.Load()))
	add("bytes", i64(s.bytes.Load()))
	add("limit_maxbytes", i64(e.slab.Limit()))
	add("cmd_get", u64(s.cmdGet.Load()))
	add("get_hits", u64(s.getHits.Load()))
	add("get_misses", u64(s.getMisses.Load()))
	add("cmd_set", u64(s.cmdSet.Load()))
	add("cas_hits", u64(s.casHits.Load()))
	add("cas_misses", u64(s.casMisses.Load()))
	add("cas_badval", u64(s.casBadval.Load()))
	add("delete_hits", u64(s.deleteHits.Load()))
	add("delete_misses", u64(s.deleteMisses.Load()))
	add("incr_hits", u64(s.incrHits.Load()))
	add("incr_misses", u64(s.incrMisses.Load()))
	add("decr_hits", u64(s.decrHits.Load()))
	add("decr_misses", u64(s.decrMisses.Load()))
	add("cmd_flush", u64(s.cmdFlush.Load()))
	add("evictions", u64(s.evictions.Load()))
	add("reclaimed", u64(s.reclaimed.Load()))
	add("expired_unfetched", u64(s.expiredUnfetched.Load()))
	add("outofmemory", u64(s.outOfMemory.Load()))
	add("wouldblock", u64(s.wouldBlock.Load()))
	add("tier_fetches", u64(s.tierFetches.Load()))
	add("tier_hits", u64(s.tierHits.Load()))
	add("tier_spills", u64(s.tierSpills.Load()))
}

func (e *engine) slabStats(add AddStat) {
	active := 0
	for _, c := range e.slab.Classes() {
		if c.InUse == 0 && c.Allocs == 0 {
			continue
		}
		active++
		id := strconv.Itoa(c.ID)
		add(id+":chunk_size", strconv.Itoa(c.ChunkSize))
		add(id+":used_chunks", i64(c.InUse))
		add(id+":total_bytes", i64(c.InUse*int64(c.ChunkSize)))
		add(id+":allocs", u64(c.Allocs))
		add(id+":outofmemory", u64(c.OutOfMem))
	}
	add("active_slabs", strconv.Itoa(active))
	add("total_malloced", i64(e.slab.Used()))
}

func (e *engine) tierStats(add AddStat) {
	s := e.stats
	add("tier_enabled", onOff(e.tier != nil))
	add("tier_fetches", u64(s.tierFetches.Load()))
	add("tier_hits", u64(s.tierHits.Load()))
	add("tier_errors", u64(s.tierErrors.Load()))
	add("tier_spills", u64(s.tierSpills.Load()))
	add("tier_spill_drops", u64(s.tierSpillDrops.Load()))
	add("tier_inflight", u64(e.bridge.inflight()))
	if e.tier != nil {
		add("tier_queue", strconv.Itoa(e.tier.queued()))
	}
}
