package casengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlushImmediate(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)
	mustSet(t, e, "a", "1")
	mustSet(t, e, "b", "2")
	before := e.slab.Used()

	require.NoError(t, e.Flush(ctx, nil, time.Time{}))
	require.Equal(t, before, e.slab.Used(), "flush frees nothing synchronously")

	_, _, err := fetch(e, "a")
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = store(t, e, "b", "x", OpReplace, 0)
	require.ErrorIs(t, err, ErrKeyNotFound, "flushed items are absent for REPLACE")

	// same second, after the flush
	mustSet(t, e, "c", "3")
	v, _, err := fetch(e, "c")
	require.NoError(t, err)
	require.Equal(t, "3", v)

	require.Equal(t, "1", statsOf(t, e, StatsGeneral)["cmd_flush"])
}

func TestFlushPastTimeIsImmediate(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)
	mustSet(t, e, "a", "1")
	require.NoError(t, e.Flush(ctx, nil, epoch.Add(-time.Hour)))
	_, _, err := fetch(e, "a")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFlushDeferred(t *testing.T) {
	ctx := context.Background()
	e, fc := newTestEngine(t, "", nil)
	mustSet(t, e, "old", "1")

	require.NoError(t, e.Flush(ctx, nil, epoch.Add(10*time.Second)))
	fc.Advance(3 * time.Second)
	mustSet(t, e, "mid", "2")

	_, _, err := fetch(e, "old")
	require.NoError(t, err, "visible until the horizon")

	fc.Advance(7 * time.Second)
	_, _, err = fetch(e, "old")
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, _, err = fetch(e, "mid")
	require.ErrorIs(t, err, ErrKeyNotFound, "created before the horizon")

	mustSet(t, e, "new", "3")
	_, _, err = fetch(e, "new")
	require.NoError(t, err)
}

func TestFlushLaterReplacesPending(t *testing.T) {
	ctx := context.Background()
	e, fc := newTestEngine(t, "", nil)
	mustSet(t, e, "a", "1")

	require.NoError(t, e.Flush(ctx, nil, epoch.Add(10*time.Second)))
	require.NoError(t, e.Flush(ctx, nil, epoch.Add(100*time.Second)))

	fc.Advance(20 * time.Second)
	_, _, err := fetch(e, "a")
	require.NoError(t, err, "the first horizon was replaced")

	fc.Advance(80 * time.Second)
	_, _, err = fetch(e, "a")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFlushReachedHorizonIsNeverUndone(t *testing.T) {
	ctx := context.Background()
	e, fc := newTestEngine(t, "", nil)
	mustSet(t, e, "a", "1")

	require.NoError(t, e.Flush(ctx, nil, epoch.Add(5*time.Second)))
	fc.Advance(6 * time.Second)
	mustSet(t, e, "b", "2")

	// a new deferred flush must not resurrect "a"
	require.NoError(t, e.Flush(ctx, nil, epoch.Add(time.Hour)))
	_, _, err := fetch(e, "a")
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, _, err = fetch(e, "b")
	require.NoError(t, err, "stored after the reached horizon")
}

func TestReapUnlinksDeadItems(t *testing.T) {
	ctx := context.Background()
	hooks := newRecHooks()
	e, fc := newTestEngine(t, "", func(o *Options) { o.Hooks = hooks })

	_, err := storeItem(t, e, "short", "v", 0, 5, OpSet, 0)
	require.NoError(t, err)
	mustSet(t, e, "keep", "v")
	h, err := e.Get(ctx, nil, []byte("short"))
	require.NoError(t, err)

	fc.Advance(10 * time.Second)
	n, err := e.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "expired", hooks.reason("short"))
	require.Equal(t, "1", statsOf(t, e, StatsGeneral)["curr_items"])

	// still readable through the handle until released
	require.Equal(t, "v", string(h.Value()))
	h.Release()

	require.NoError(t, e.Flush(ctx, nil, time.Time{}))
	n, err = e.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "flushed", hooks.reason("keep"))
	require.Zero(t, e.slab.Used())
}

func TestReaperLoop(t *testing.T) {
	e, _ := newTestEngine(t, "reap_interval=10ms", nil)
	mustSet(t, e, "a", "1")
	require.NoError(t, e.Flush(context.Background(), nil, time.Time{}))
	require.Eventually(t, func() bool {
		return e.stats.currItems.Load() == 0
	}, time.Second, 5*time.Millisecond)
}
