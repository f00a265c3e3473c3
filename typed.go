package casengine

import (
	"context"
	"errors"
	"fmt"

	c "github.com/unkn0wn-root/casengine/codec"
)

// typedDeferrals bounds how many read-throughs one Get waits for when the
// fetched item is evicted again before it is read.
const typedDeferrals = 3

// TypedOptions configure a Typed accessor. Engine and Codec are required.
type TypedOptions[V any] struct {
	Engine    Engine
	Codec     c.Codec[V]
	Namespace string // optional key prefix, joined with ':'
	Logger    Logger // if nil, NopLogger is used
	Exptime   int64  // default expiration for writes, protocol semantics; 0 => never
	Disabled  bool   // reads miss and writes are dropped
}

// Typed stores values of type V in an engine through a codec. Writes follow
// the CAS pattern: read a value and its CAS, compute, then write back only
// if nothing changed in between.
type Typed[V any] struct {
	eng     Engine
	codec   c.Codec[V]
	flags   uint32
	ns      string
	log     Logger
	exptime int64
	enabled bool
}

func NewTyped[V any](opts TypedOptions[V]) (*Typed[V], error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("casengine: engine is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("casengine: codec is required")
	}
	return &Typed[V]{
		eng:     opts.Engine,
		codec:   opts.Codec,
		flags:   c.FlagsOf(opts.Codec),
		ns:      opts.Namespace,
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		exptime: opts.Exptime,
		enabled: !opts.Disabled,
	}, nil
}

func (t *Typed[V]) Enabled() bool { return t.enabled }

func (t *Typed[V]) key(key string) []byte {
	if t.ns == "" {
		return []byte(key)
	}
	return []byte(t.ns + ":" + key)
}

// Get returns the value and its CAS. A deferred read is awaited on cookie.
// Items that don't decode are removed and reported as a miss.
func (t *Typed[V]) Get(ctx context.Context, cookie *Cookie, key string) (v V, cas uint64, ok bool, err error) {
	var zero V
	if !t.enabled {
		return zero, 0, false, nil
	}
	k := t.key(key)
	h, err := t.eng.Get(ctx, cookie, k)
	// every deferral is waited for, so the cookie is free when Get returns
	for tries := 1; errors.Is(err, ErrWouldBlock); tries++ {
		if err = cookie.Wait(ctx); err != nil {
			break
		}
		if tries == typedDeferrals {
			err = ErrKeyNotFound
			break
		}
		h, err = t.eng.Get(ctx, cookie, k)
	}
	if errors.Is(err, ErrKeyNotFound) {
		return zero, 0, false, nil
	}
	if err != nil {
		return zero, 0, false, err
	}
	defer h.Release()

	cas = h.CAS()
	if h.Flags() != t.flags {
		t.heal(ctx, cookie, k, cas, "flags_mismatch")
		return zero, 0, false, nil
	}
	v, err = t.codec.Decode(h.Value())
	if err != nil {
		t.heal(ctx, cookie, k, cas, "value_decode")
		return zero, 0, false, nil
	}
	return v, cas, true, nil
}

// heal removes an unreadable item unless it was replaced meanwhile.
func (t *Typed[V]) heal(ctx context.Context, cookie *Cookie, k []byte, cas uint64, reason string) {
	_ = t.eng.Remove(ctx, cookie, k, cas)
	t.log.Debug("typed get removed unreadable item", Fields{"key": string(k), "reason": reason})
}

// SetWithCAS writes value if the key is still at observed. observed 0 means
// the caller saw no value, so the write only succeeds if the key is absent.
// A lost race returns ErrKeyExists (ErrKeyNotFound if the key was removed).
// exptime 0 uses the accessor's default.
func (t *Typed[V]) SetWithCAS(ctx context.Context, cookie *Cookie, key string, value V, observed uint64, exptime int64) (uint64, error) {
	op := OpCAS
	if observed == 0 {
		op = OpAdd
	}
	cas, err := t.write(ctx, cookie, key, value, observed, exptime, op)
	if errors.Is(err, ErrKeyExists) {
		t.log.Debug("SetWithCAS skipped (cas mismatch)", Fields{"key": key, "obs": observed})
	}
	return cas, err
}

// Set writes value unconditionally.
func (t *Typed[V]) Set(ctx context.Context, cookie *Cookie, key string, value V, exptime int64) (uint64, error) {
	return t.write(ctx, cookie, key, value, 0, exptime, OpSet)
}

func (t *Typed[V]) write(ctx context.Context, cookie *Cookie, key string, value V, observed uint64, exptime int64, op StoreOp) (uint64, error) {
	if !t.enabled {
		return 0, nil
	}
	payload, err := t.codec.Encode(value)
	if err != nil {
		return 0, err
	}
	if exptime == 0 {
		exptime = t.exptime
	}
	h, err := t.eng.Allocate(ctx, cookie, t.key(key), len(payload), t.flags, exptime)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	copy(h.Value(), payload)
	h.SetCAS(observed)
	return t.eng.Store(ctx, cookie, h, op)
}

// Invalidate removes key. A missing key is not an error.
func (t *Typed[V]) Invalidate(ctx context.Context, cookie *Cookie, key string) error {
	if !t.enabled {
		return nil
	}
	err := t.eng.Remove(ctx, cookie, t.key(key), 0)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	t.log.Debug("invalidated key", Fields{"key": key})
	return nil
}

// GetMany reads keys one by one. Order of the map is irrelevant; missing
// lists keys without a usable value in input order.
func (t *Typed[V]) GetMany(ctx context.Context, cookie *Cookie, keys []string) (map[string]V, []string, error) {
	out := make(map[string]V, len(keys))
	var missing []string
	for _, k := range keys {
		v, _, ok, err := t.Get(ctx, cookie, k)
		if err != nil {
			return out, missing, err
		}
		if !ok {
			missing = append(missing, k)
			continue
		}
		out[k] = v
	}
	return out, missing, nil
}
