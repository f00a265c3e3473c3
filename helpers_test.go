package casengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/casengine/clock"
	pr "github.com/unkn0wn-root/casengine/provider"
)

var epoch = time.Unix(1_700_000_000, 0)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// memProvider is a second tier held in a map. The tier worker writes from its
// own goroutine, so access is locked.
type memProvider struct {
	mu   sync.Mutex
	m    map[string]memEntry
	gets int
	err  error         // returned by Get when set
	gate chan struct{} // Get waits on it when non-nil
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	gate := p.gate
	p.gets++
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, false, p.err
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	p.m[key] = memEntry{v: v}
	p.mu.Unlock()
}

func newTestEngine(t *testing.T, config string, mod func(*Options)) (*engine, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(epoch)
	opts := Options{Clock: fc}
	if mod != nil {
		mod(&opts)
	}
	eng, err := New(config, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Destroy(context.Background(), true) })
	return eng.(*engine), fc
}

func store(t *testing.T, e Engine, key, val string, op StoreOp, cas uint64) (uint64, error) {
	t.Helper()
	return storeItem(t, e, key, val, 0, 0, op, cas)
}

func storeItem(t *testing.T, e Engine, key, val string, flags uint32, exptime int64, op StoreOp, cas uint64) (uint64, error) {
	t.Helper()
	ctx := context.Background()
	h, err := e.Allocate(ctx, nil, []byte(key), len(val), flags, exptime)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	copy(h.Value(), val)
	h.SetCAS(cas)
	return e.Store(ctx, nil, h, op)
}

func mustSet(t *testing.T, e Engine, key, val string) uint64 {
	t.Helper()
	cas, err := store(t, e, key, val, OpSet, 0)
	require.NoError(t, err, "set %q", key)
	return cas
}

// fetch returns the value and CAS of key, releasing the handle.
func fetch(e Engine, key string) (string, uint64, error) {
	var (
		v   string
		cas uint64
	)
	err := e.View(context.Background(), nil, []byte(key), func(h *Handle) error {
		v, cas = string(h.Value()), h.CAS()
		return nil
	})
	return v, cas, err
}

func statsOf(t *testing.T, e Engine, group string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := e.GetStats(context.Background(), nil, group, func(k, v string) { out[k] = v })
	require.NoError(t, err)
	return out
}

// recHooks records events.
type recHooks struct {
	NopHooks
	mu       sync.Mutex
	evicted  map[string]string
	oom      int
	dropped  int
	seqErrs  int
	fetchErr int
}

func newRecHooks() *recHooks { return &recHooks{evicted: map[string]string{}} }

func (h *recHooks) Evicted(key []byte, reason string) {
	h.mu.Lock()
	h.evicted[string(key)] = reason
	h.mu.Unlock()
}

func (h *recHooks) OutOfMemory(int) {
	h.mu.Lock()
	h.oom++
	h.mu.Unlock()
}

func (h *recHooks) TierSpillDropped([]byte) {
	h.mu.Lock()
	h.dropped++
	h.mu.Unlock()
}

func (h *recHooks) SequencerError(error) {
	h.mu.Lock()
	h.seqErrs++
	h.mu.Unlock()
}

func (h *recHooks) TierFetchError([]byte, error) {
	h.mu.Lock()
	h.fetchErr++
	h.mu.Unlock()
}

func (h *recHooks) reason(key string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evicted[key]
}
