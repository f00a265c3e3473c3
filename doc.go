// Package casengine is an in-memory key-value cache engine meant to sit
// behind a caching server's protocol frontend. It keeps items in a sharded
// table under a fixed memory budget, versions every mutation with a CAS
// identifier, expires items on relative time, supports atomic decimal
// counters and bulk invalidation (flush), and can defer operations with a
// would-block/notify protocol.
//
// Components:
//   - Engine: the operation table (Allocate, Get, Store, Remove, Arithmetic,
//     Flush, GetStats, ...). Create negotiates the interface version.
//   - Handle: a counted reference to an item. Release it, or use View.
//   - Cookie: per-connection token; deferred operations complete on it.
//   - Sequencer (seq): issues CAS identifiers. Local by default, optional
//     Redis implementation for ids shared across instances and restarts.
//   - Provider (provider): optional second tier. Misses are read through in
//     the background and evicted items can spill into it.
//   - Typed[V]: codec-backed accessor with the CAS read-modify-write pattern.
//
// CAS pattern:
//
//	h, _ := eng.Get(ctx, cookie, key)
//	obs := h.CAS()
//	h.Release()
//	nh, _ := eng.Allocate(ctx, cookie, key, len(v), 0, 0)
//	copy(nh.Value(), v)
//	nh.SetCAS(obs)
//	_, err := eng.Store(ctx, cookie, nh, casengine.OpCAS) // ErrKeyExists if raced
//	nh.Release()
package casengine

// Version of the engine implementation.
const Version = "0.1.0"
