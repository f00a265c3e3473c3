// Package sloghooks reports engine events through log/slog, with sampling
// for the noisy ones and redacted keys.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/casengine"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	EvictedEvery   uint64
	ReclaimedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func([]byte) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	evictedCtr   atomic.Uint64
	reclaimedCtr atomic.Uint64
}

var _ casengine.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k []byte) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256(k)
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Evicted(key []byte, reason string) {
	if h.l == nil || !sample(h.opts.EvictedEvery, &h.evictedCtr) {
		return
	}
	h.l.Debug("casengine.evicted",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) Reclaimed(n int) {
	if h.l == nil || !sample(h.opts.ReclaimedEvery, &h.reclaimedCtr) {
		return
	}
	h.l.Debug("casengine.reclaimed", "bytes", n)
}

func (h *Hooks) OutOfMemory(n int) {
	if h.l == nil {
		return
	}
	h.l.Warn("casengine.out_of_memory", "requested", n)
}

func (h *Hooks) TierFetchError(key []byte, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("casengine.tier_fetch_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) TierSpillDropped(key []byte) {
	if h.l == nil {
		return
	}
	h.l.Info("casengine.tier_spill_dropped", "key", h.redact(key))
}

func (h *Hooks) SequencerError(err error) {
	if h.l == nil {
		return
	}
	h.l.Error("casengine.sequencer_error", "err", err)
}
