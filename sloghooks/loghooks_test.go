package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newHooks(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestSamplingEvictions(t *testing.T) {
	h, buf := newHooks(Options{EvictedEvery: 3})
	for i := 0; i < 9; i++ {
		h.Evicted([]byte("k"), "lru")
	}
	if n := strings.Count(buf.String(), "casengine.evicted"); n != 3 {
		t.Fatalf("logged %d evictions, want 3", n)
	}
}

func TestRedactsKeys(t *testing.T) {
	h, buf := newHooks(Options{})
	h.TierFetchError([]byte("user:42:secret"), errors.New("timeout"))
	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Fatalf("key leaked: %q", out)
	}
	if !strings.Contains(out, "casengine.tier_fetch_error") || !strings.Contains(out, "timeout") {
		t.Fatalf("unexpected output: %q", out)
	}

	h2, buf2 := newHooks(Options{Redact: func(k []byte) string { return "len" + string(rune('0'+len(k))) }})
	h2.TierSpillDropped([]byte("abc"))
	if !strings.Contains(buf2.String(), "key=len3") {
		t.Fatalf("custom redactor not used: %q", buf2.String())
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	h := New(nil, Options{})
	h.Evicted([]byte("k"), "lru")
	h.OutOfMemory(10)
	h.SequencerError(errors.New("x"))
}
