package casengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneralStats(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)

	mustSet(t, e, "a", "12345")
	mustSet(t, e, "b", "1")
	_, _, _ = fetch(e, "a")
	_, _, _ = fetch(e, "nope")
	require.NoError(t, e.Remove(ctx, nil, []byte("b"), 0))
	require.ErrorIs(t, e.Remove(ctx, nil, []byte("b"), 0), ErrKeyNotFound)

	st := statsOf(t, e, StatsGeneral)
	require.Equal(t, "1", st["curr_items"])
	require.Equal(t, "2", st["total_items"])
	require.Equal(t, "6", st["bytes"], "key and value bytes of a")
	require.Equal(t, "2", st["cmd_get"])
	require.Equal(t, "1", st["get_hits"])
	require.Equal(t, "1", st["get_misses"])
	require.Equal(t, "2", st["cmd_set"])
	require.Equal(t, "1", st["delete_hits"])
	require.Equal(t, "1", st["delete_misses"])
	require.Equal(t, Version, st["version"])
	require.Equal(t, "67108864", st["limit_maxbytes"])
	require.Contains(t, st, "pid")
	require.Contains(t, st, "uptime")
}

func TestResetStatsKeepsGauges(t *testing.T) {
	e, _ := newTestEngine(t, "", nil)
	mustSet(t, e, "a", "1")
	_, _, _ = fetch(e, "a")

	e.ResetStats(nil)
	st := statsOf(t, e, StatsGeneral)
	require.Equal(t, "0", st["cmd_get"])
	require.Equal(t, "0", st["cmd_set"])
	require.Equal(t, "0", st["total_items"])
	require.Equal(t, "1", st["curr_items"])
	require.Equal(t, "2", st["bytes"])

	slabs := statsOf(t, e, StatsSlabs)
	require.Equal(t, "0", slabs["0:allocs"])
	require.Equal(t, "1", slabs["0:used_chunks"])
}

func TestStatsGroups(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "cache_size=8MiB;shards=3;namespace=users", nil)

	set := statsOf(t, e, StatsSettings)
	require.Equal(t, "8388608", set["cache_size"])
	require.Equal(t, "4", set["shards"], "rounded up to a power of two")
	require.Equal(t, "users", set["namespace"])
	require.Equal(t, "on", set["use_cas"])
	require.Equal(t, "1.25", set["factor"])

	tier := statsOf(t, e, StatsTier)
	require.Equal(t, "off", tier["tier_enabled"])
	require.NotContains(t, tier, "tier_queue")

	err := e.GetStats(ctx, nil, "bogus", func(string, string) {})
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.ErrorIs(t, e.GetStats(ctx, nil, StatsGeneral, nil), ErrInvalid)
}

func TestSettingsOrderIsStable(t *testing.T) {
	e, _ := newTestEngine(t, "", nil)
	var first, second []string
	require.NoError(t, e.GetStats(context.Background(), nil, StatsSettings, func(k, _ string) { first = append(first, k) }))
	require.NoError(t, e.GetStats(context.Background(), nil, StatsSettings, func(k, _ string) { second = append(second, k) }))
	require.Equal(t, first, second)
	require.Equal(t, "cache_size", first[0])
}
