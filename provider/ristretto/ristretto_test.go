package ristretto

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64, Sync: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	ok, err := p.Set(ctx, "item:ns:01", []byte("payload"), 0, 0)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	b, ok, err := p.Get(ctx, "item:ns:01")
	if err != nil || !ok || !bytes.Equal(b, []byte("payload")) {
		t.Fatalf("Get: b=%q ok=%v err=%v", b, ok, err)
	}

	// caller owns the returned slice
	b[0] = 'X'
	b2, _, _ := p.Get(ctx, "item:ns:01")
	if string(b2) != "payload" {
		t.Fatalf("stored value mutated through Get result: %q", b2)
	}

	if err := p.Del(ctx, "item:ns:01"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "item:ns:01"); ok {
		t.Fatalf("Get after Del: expected miss")
	}
}

func TestMissAndTTL(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	if _, ok, err := p.Get(ctx, "nope"); ok || err != nil {
		t.Fatalf("Get miss: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "short", []byte("v"), 1, 20*time.Millisecond); !ok || err != nil {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok, _ := p.Get(ctx, "short"); ok {
		t.Fatalf("expected expired entry")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
}
