package casengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArithmetic(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)
	k := []byte("n")

	_, _, err := e.Arithmetic(ctx, nil, k, true, false, 1, 0, 0)
	require.ErrorIs(t, err, ErrKeyNotFound)

	v, c0, err := e.Arithmetic(ctx, nil, k, true, true, 1, 10, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(10), v, "create stores initial, delta not applied")
	got, _, _ := fetch(e, "n")
	require.Equal(t, "10", got)

	v, c1, err := e.Arithmetic(ctx, nil, k, true, false, 5, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(15), v)
	require.Greater(t, c1, c0)

	v, _, err = e.Arithmetic(ctx, nil, k, false, false, 6, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(9), v)
	got, cas, _ := fetch(e, "n")
	require.Equal(t, "9", got)

	v, c2, err := e.Arithmetic(ctx, nil, k, false, false, 100, 0, 0)
	require.NoError(t, err)
	require.Zero(t, v, "decrement clamps at zero")
	require.Greater(t, c2, cas)

	st := statsOf(t, e, StatsGeneral)
	require.Equal(t, "2", st["incr_misses"])
	require.Equal(t, "1", st["incr_hits"])
	require.Equal(t, "2", st["decr_hits"])
}

func TestArithmeticWrapsAndKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)

	_, err := storeItem(t, e, "n", "18446744073709551615", 9, 300, OpSet, 0)
	require.NoError(t, err)
	h, err := e.Get(ctx, nil, []byte("n"))
	require.NoError(t, err)
	exp := h.Exptime()
	h.Release()

	v, _, err := e.Arithmetic(ctx, nil, []byte("n"), true, false, 2, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v, "increment wraps modulo 2^64")

	err = e.View(ctx, nil, []byte("n"), func(h *Handle) error {
		require.Equal(t, "1", string(h.Value()))
		require.Equal(t, uint32(9), h.Flags())
		require.Equal(t, exp, h.Exptime())
		return nil
	})
	require.NoError(t, err)
}

func TestArithmeticRejectsNonDecimal(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)

	for _, bad := range []string{"abc", "-1", "+1", "1.5", "", "123456789012345678901", "18446744073709551616"} {
		mustSet(t, e, "n", bad)
		_, _, err := e.Arithmetic(ctx, nil, []byte("n"), true, false, 1, 0, 0)
		require.ErrorIs(t, err, ErrInvalid, "value %q", bad)
	}

	mustSet(t, e, "n", "12  ")
	v, _, err := e.Arithmetic(ctx, nil, []byte("n"), false, false, 2, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(10), v, "trailing spaces are accepted")
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"0", 0, true},
		{"42", 42, true},
		{"007", 7, true},
		{"42\r\n", 42, true},
		{"18446744073709551615", 18446744073709551615, true},
		{"4 2", 0, false},
		{" 42", 0, false},
		{"0x10", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseDecimal([]byte(tc.in))
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseDecimal(%q) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
