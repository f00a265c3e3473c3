package casengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	c "github.com/unkn0wn-root/casengine/codec"
	"github.com/unkn0wn-root/casengine/internal/wire"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newTypedUsers(t *testing.T, e Engine) *Typed[user] {
	t.Helper()
	ty, err := NewTyped(TypedOptions[user]{Engine: e, Codec: c.JSON[user]{}, Namespace: "user"})
	require.NoError(t, err)
	return ty
}

func TestTypedCASFlow(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)
	users := newTypedUsers(t, e)

	_, obs, ok, err := users.Get(ctx, nil, "1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, obs)

	cas, err := users.SetWithCAS(ctx, nil, "1", user{ID: 1, Name: "ada"}, obs, 0)
	require.NoError(t, err)
	_, err = users.SetWithCAS(ctx, nil, "1", user{ID: 1, Name: "bob"}, obs, 0)
	require.ErrorIs(t, err, ErrKeyExists, "a second writer that saw no value loses")

	u, got, ok, err := users.Get(ctx, nil, "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ada", u.Name)
	require.Equal(t, cas, got)

	_, err = users.Set(ctx, nil, "1", user{ID: 1, Name: "eve"}, 0)
	require.NoError(t, err)
	_, err = users.SetWithCAS(ctx, nil, "1", user{ID: 1, Name: "late"}, got, 0)
	require.ErrorIs(t, err, ErrKeyExists)

	_, flags, err := fetchFlags(e, "user:1")
	require.NoError(t, err)
	require.Equal(t, c.FlagJSON, flags)

	require.NoError(t, users.Invalidate(ctx, nil, "1"))
	require.NoError(t, users.Invalidate(ctx, nil, "1"))
	_, _, ok, _ = users.Get(ctx, nil, "1")
	require.False(t, ok)
}

func fetchFlags(e Engine, key string) (string, uint32, error) {
	var (
		v     string
		flags uint32
	)
	err := e.View(context.Background(), nil, []byte(key), func(h *Handle) error {
		v, flags = string(h.Value()), h.Flags()
		return nil
	})
	return v, flags, err
}

func TestTypedHealsUnreadableItems(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)
	users := newTypedUsers(t, e)

	// written by someone else with other flags
	mustSet(t, e, "user:1", `{"id":1}`)
	_, _, ok, err := users.Get(ctx, nil, "1")
	require.NoError(t, err)
	require.False(t, ok)
	_, _, err = fetch(e, "user:1")
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = storeItem(t, e, "user:2", "{not json", c.FlagJSON, 0, OpSet, 0)
	require.NoError(t, err)
	_, _, ok, err = users.Get(ctx, nil, "2")
	require.NoError(t, err)
	require.False(t, ok)
	_, _, err = fetch(e, "user:2")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestTypedGetMany(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)
	users := newTypedUsers(t, e)
	for _, u := range []user{{ID: 1, Name: "a"}, {ID: 3, Name: "c"}} {
		_, err := users.Set(ctx, nil, string(rune('0'+u.ID)), u, 0)
		require.NoError(t, err)
	}

	out, missing, err := users.GetMany(ctx, nil, []string{"1", "2", "3", "4"})
	require.NoError(t, err)
	require.Equal(t, map[string]user{"1": {ID: 1, Name: "a"}, "3": {ID: 3, Name: "c"}}, out)
	require.Equal(t, []string{"2", "4"}, missing)
}

func TestTypedWaitsForReadThrough(t *testing.T) {
	ctx := context.Background()
	e, p, _ := newTierEngine(t, "")
	p.put(tierKey("user:7"), wire.EncodeItem(wire.Item{
		Flags:   c.FlagJSON,
		Created: epoch.UnixNano(),
		Payload: []byte(`{"id":7,"name":"grace"}`),
	}))
	users := newTypedUsers(t, e)

	u, cas, ok, err := users.Get(ctx, NewCookie(), "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "grace", u.Name)
	require.NotZero(t, cas)
}

func TestTypedDisabledAndLimits(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)

	off, err := NewTyped(TypedOptions[string]{Engine: e, Codec: c.String{}, Disabled: true})
	require.NoError(t, err)
	require.False(t, off.Enabled())
	_, err = off.Set(ctx, nil, "k", "v", 0)
	require.NoError(t, err)
	_, _, err = fetch(e, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)

	small, err := NewTyped(TypedOptions[string]{Engine: e, Codec: c.LimitCodec[string]{Inner: c.String{}, MaxEncode: 4}})
	require.NoError(t, err)
	_, err = small.Set(ctx, nil, "k", "too long", 0)
	require.Error(t, err)
	_, err = small.Set(ctx, nil, "k", "ok", 0)
	require.NoError(t, err)
	_, flags, err := fetchFlags(e, "k")
	require.NoError(t, err)
	require.Equal(t, c.FlagString, flags)

	_, err = NewTyped(TypedOptions[string]{Codec: c.String{}})
	require.Error(t, err)
	_, err = NewTyped(TypedOptions[string]{Engine: e})
	require.Error(t, err)
}

// churnEngine removes key right before selected Gets, as if it were evicted
// between a read-through and the re-read.
type churnEngine struct {
	Engine
	gets   int
	remove func(n int) bool
}

func (c *churnEngine) Get(ctx context.Context, cookie *Cookie, key []byte) (*Handle, error) {
	c.gets++
	if c.remove(c.gets) {
		_ = c.Engine.Remove(ctx, nil, key, 0)
	}
	return c.Engine.Get(ctx, cookie, key)
}

func TestTypedWaitsForEveryDeferral(t *testing.T) {
	ctx := context.Background()
	e, p, _ := newTierEngine(t, "")
	p.put(tierKey("user:7"), wire.EncodeItem(wire.Item{
		Flags:   c.FlagJSON,
		Created: epoch.UnixNano(),
		Payload: []byte(`{"id":7,"name":"grace"}`),
	}))

	churn := &churnEngine{Engine: e, remove: func(n int) bool { return n == 2 }}
	users := newTypedUsers(t, churn)
	cookie := NewCookie()

	u, _, ok, err := users.Get(ctx, cookie, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "grace", u.Name)
	require.Equal(t, 3, churn.gets)
	require.False(t, cookie.Pending())

	churn.gets = 0
	churn.remove = func(int) bool { return true }
	_, _, ok, err = users.Get(ctx, cookie, "7")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, typedDeferrals, churn.gets)
	require.False(t, cookie.Pending(), "cookie is reusable after a miss")

	// the last completed read-through left the item installed
	h, err := e.Get(ctx, cookie, []byte("user:7"))
	require.NoError(t, err)
	h.Release()
}
