// Package clock provides process-relative time for the engine.
//
// Expiration values are kept as RelTime: whole seconds since the clock was
// started. A RelTime of zero means "never". Protocol expirations larger than
// MaxDelta are absolute unix timestamps, smaller ones are offsets from now.
package clock

import (
	"math"
	"sync"
	"time"
)

// RelTime is a number of seconds since the clock started.
type RelTime uint32

// MaxDelta is the largest expiration (30 days) still treated as relative.
const MaxDelta = 60 * 60 * 24 * 30

// startSkew keeps Now() above 1 so that RelTime 1 always reads as "in the past".
const startSkew = 2 * time.Second

type Clock interface {
	// Now returns the current relative time.
	Now() RelTime
	// Realtime converts a protocol expiration (relative seconds, absolute
	// unix seconds, negative for "already expired") into a RelTime.
	Realtime(exptime int64) RelTime
	// Rel converts an absolute time into a RelTime. Zero maps to zero.
	Rel(t time.Time) RelTime
	// Abs converts a RelTime back into wall-clock time. Zero maps to zero.
	Abs(rel RelTime) time.Time
	// Started is the wall-clock origin of RelTime.
	Started() time.Time
	// Wall returns the current wall-clock time.
	Wall() time.Time
}

type base struct {
	started time.Time
	wall    func() time.Time
}

func (b base) Started() time.Time { return b.started }
func (b base) Wall() time.Time    { return b.wall() }

func (b base) Now() RelTime {
	d := b.wall().Sub(b.started)
	if d < 0 {
		return 0
	}
	return RelTime(d / time.Second)
}

func (b base) Realtime(exptime int64) RelTime {
	switch {
	case exptime == 0:
		return 0
	case exptime < 0:
		return 1
	case exptime > MaxDelta:
		if exptime <= b.started.Unix() {
			return 1
		}
		return clampRel(exptime - b.started.Unix())
	default:
		return b.Now() + RelTime(exptime)
	}
}

func (b base) Rel(t time.Time) RelTime {
	if t.IsZero() {
		return 0
	}
	if !t.After(b.started) {
		return 1
	}
	return clampRel(int64(t.Sub(b.started) / time.Second))
}

// clampRel saturates at the largest RelTime instead of wrapping.
func clampRel(sec int64) RelTime {
	if sec > math.MaxUint32 {
		return math.MaxUint32
	}
	return RelTime(sec)
}

func (b base) Abs(rel RelTime) time.Time {
	if rel == 0 {
		return time.Time{}
	}
	return b.started.Add(time.Duration(rel) * time.Second)
}

// System is the wall clock, started when it is constructed.
type System struct{ base }

var _ Clock = (*System)(nil)

func New() *System {
	return &System{base{started: time.Now().Add(-startSkew), wall: time.Now}}
}

// Fake is a manually driven clock for tests.
type Fake struct {
	base
	mu  sync.Mutex
	cur time.Time
}

var _ Clock = (*Fake)(nil)

// NewFake returns a Fake whose current time is start.
func NewFake(start time.Time) *Fake {
	f := &Fake{cur: start}
	f.base = base{started: start.Add(-startSkew), wall: f.current}
	return f
}

func (f *Fake) current() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.cur = f.cur.Add(d)
	f.mu.Unlock()
}

// Set jumps the clock to t. Moving backwards is allowed.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.cur = t
	f.mu.Unlock()
}
