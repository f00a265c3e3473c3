package casengine

import "context"

// Request is a command the core does not interpret. The set of variants is
// closed: TouchRequest, VerbosityRequest and RawRequest.
type Request interface {
	extension()
}

// TouchRequest asks to change an item's expiration without fetching it.
type TouchRequest struct {
	Key     []byte
	Exptime int64
}

// VerbosityRequest changes the logging level.
type VerbosityRequest struct {
	Level int
}

// RawRequest is an opaque protocol command.
type RawRequest struct {
	Opcode uint8
	Key    []byte
	Extras []byte
	Body   []byte
	CAS    uint64
}

func (TouchRequest) extension()     {}
func (VerbosityRequest) extension() {}
func (RawRequest) extension()       {}

// Response is one record pushed back to the frontend.
type Response struct {
	Key    []byte
	Ext    []byte
	Body   []byte
	Status Status
	CAS    uint64
}

// ResponseFunc receives responses. It is only valid during the call that
// received it.
type ResponseFunc func(Response) error

// ExtensionHandler implements commands beyond the core operation table.
type ExtensionHandler interface {
	Handle(ctx context.Context, eng Engine, cookie *Cookie, req Request, respond ResponseFunc) error
}

// ExtensionFunc adapts a function to ExtensionHandler.
type ExtensionFunc func(ctx context.Context, eng Engine, cookie *Cookie, req Request, respond ResponseFunc) error

func (f ExtensionFunc) Handle(ctx context.Context, eng Engine, cookie *Cookie, req Request, respond ResponseFunc) error {
	return f(ctx, eng, cookie, req, respond)
}

func (e *engine) UnknownCommand(ctx context.Context, cookie *Cookie, req Request, respond ResponseFunc) error {
	if err := e.ready(); err != nil {
		return err
	}
	if req == nil || respond == nil {
		return ErrInvalid
	}
	if e.ext == nil {
		return ErrNotSupported
	}
	return e.ext.Handle(ctx, e, cookie, req, respond)
}

// SetVerbose switches debug logging on or off at runtime. Extension
// handlers use it to serve VerbosityRequest.
func SetVerbose(eng Engine, on bool) bool {
	e, ok := eng.(*engine)
	if !ok {
		return false
	}
	e.verbose.Store(on)
	return true
}

// Touch gives a live item a new expiration. The item is replaced by a copy
// with a new CAS; handles to the old one are unaffected. Extension handlers
// use it to serve TouchRequest.
func Touch(ctx context.Context, eng Engine, key []byte, exptime int64) (uint64, error) {
	e, ok := eng.(*engine)
	if !ok {
		return 0, ErrNotSupported
	}
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !e.validKey(key) {
		return 0, ErrInvalid
	}
	s := e.tbl.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.clock.Now()
	old := e.lookupLocked(s, key, now)
	if old == nil {
		return 0, ErrKeyNotFound
	}
	old.refs.Add(1)
	defer e.unref(old)

	it, err := e.newItem(key, len(old.value()), old.flags, e.clock.Realtime(exptime), s)
	if err != nil {
		return 0, err
	}
	defer e.unref(it)
	copy(it.value(), old.value())
	it.stored.Store(true)

	cas, err := e.commitLocked(ctx, s, old, it, now)
	if err != nil || !e.cfg.UseCAS {
		return 0, err
	}
	return cas, nil
}
