package casengine

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// touchHandler serves the request types the core defines.
func touchHandler(ctx context.Context, eng Engine, _ *Cookie, req Request, respond ResponseFunc) error {
	switch r := req.(type) {
	case TouchRequest:
		cas, err := Touch(ctx, eng, r.Key, r.Exptime)
		if err != nil {
			return respond(Response{Key: r.Key, Status: StatusOf(err)})
		}
		return respond(Response{Key: r.Key, CAS: cas})
	case VerbosityRequest:
		SetVerbose(eng, r.Level > 0)
		return respond(Response{})
	case RawRequest:
		var ext [4]byte
		binary.BigEndian.PutUint32(ext[:], uint32(len(r.Body)))
		return respond(Response{Key: r.Key, Ext: ext[:], Body: r.Body, CAS: r.CAS})
	}
	return ErrNotSupported
}

func TestUnknownCommandWithoutHandler(t *testing.T) {
	e, _ := newTestEngine(t, "", nil)
	err := e.UnknownCommand(context.Background(), nil, RawRequest{Opcode: 0x42}, func(Response) error { return nil })
	require.ErrorIs(t, err, ErrNotSupported)
	require.NotContains(t, e.Info().Features, "extension")
}

func TestUnknownCommandDispatch(t *testing.T) {
	ctx := context.Background()
	e, fc := newTestEngine(t, "", func(o *Options) { o.Extension = ExtensionFunc(touchHandler) })
	require.Contains(t, e.Info().Features, "extension")

	var got []Response
	collect := func(r Response) error {
		got = append(got, r)
		return nil
	}
	require.ErrorIs(t, e.UnknownCommand(ctx, nil, nil, collect), ErrInvalid)
	require.ErrorIs(t, e.UnknownCommand(ctx, nil, RawRequest{}, nil), ErrInvalid)

	old := mustSet(t, e, "a", "v")
	require.NoError(t, e.UnknownCommand(ctx, nil, TouchRequest{Key: []byte("a"), Exptime: 5}, collect))
	require.NoError(t, e.UnknownCommand(ctx, nil, TouchRequest{Key: []byte("zz"), Exptime: 5}, collect))
	require.Len(t, got, 2)
	require.Greater(t, got[0].CAS, old)
	require.Equal(t, StatusSuccess, got[0].Status)
	require.Equal(t, StatusKeyNotFound, got[1].Status)

	fc.Advance(10 * time.Second)
	_, _, err := fetch(e, "a")
	require.ErrorIs(t, err, ErrKeyNotFound)

	got = nil
	require.NoError(t, e.UnknownCommand(ctx, nil, VerbosityRequest{Level: 1}, collect))
	require.True(t, e.verbose.Load())

	require.NoError(t, e.UnknownCommand(ctx, nil, RawRequest{Opcode: 0x99, Key: []byte("k"), Body: []byte("abc"), CAS: 9}, collect))
	require.Len(t, got, 2)
	require.Equal(t, []byte{0, 0, 0, 3}, got[1].Ext)
	require.Equal(t, uint64(9), got[1].CAS)
}

func TestTouchLeavesHandlesAlone(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "", nil)
	old := mustSet(t, e, "a", "v")

	h, err := e.Get(ctx, nil, []byte("a"))
	require.NoError(t, err)
	defer h.Release()

	cas, err := Touch(ctx, e, []byte("a"), 100)
	require.NoError(t, err)
	require.Greater(t, cas, old)
	require.Equal(t, old, h.CAS())
	require.Zero(t, h.Exptime())

	v, now, err := fetch(e, "a")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, cas, now)
}

func TestExtensionHelpersNeedThisEngine(t *testing.T) {
	var other struct{ Engine }
	require.False(t, SetVerbose(other, true))
	_, err := Touch(context.Background(), other, []byte("a"), 0)
	require.ErrorIs(t, err, ErrNotSupported)

	e, _ := newTestEngine(t, "verbose=true", nil)
	require.True(t, e.verbose.Load())
	require.True(t, SetVerbose(e, false))
	require.False(t, e.verbose.Load())
}
