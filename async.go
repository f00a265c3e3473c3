package casengine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/z"
)

var cookieSeq atomic.Uint64

// Cookie identifies the connection an operation runs for. An operation that
// returned ErrWouldBlock completes later on the same cookie, exactly once.
// A cookie has at most one deferred operation outstanding.
type Cookie struct {
	id    uint64
	async bool

	mu      sync.Mutex
	pending bool
	done    chan error
}

// NewCookie returns a cookie that accepts deferred completions.
func NewCookie() *Cookie {
	return &Cookie{id: cookieSeq.Add(1), async: true}
}

// NewSyncCookie returns a cookie whose operations never return ErrWouldBlock.
func NewSyncCookie() *Cookie {
	return &Cookie{id: cookieSeq.Add(1)}
}

func (c *Cookie) ID() uint64  { return c.id }
func (c *Cookie) Async() bool { return c != nil && c.async }

// Pending reports whether a deferred operation has not completed yet.
func (c *Cookie) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Done returns the channel that receives the completion of the most recent
// deferred operation: nil for success or a sentinel error. It is nil if
// nothing was ever deferred on c. The completion stays buffered until read.
func (c *Cookie) Done() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until the most recent deferred operation completes or ctx ends.
// A completion that arrives after ctx ended is kept for the next Wait.
func (c *Cookie) Wait(ctx context.Context) error {
	ch := c.Done()
	if ch == nil {
		return ErrInvalid
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deferred is one would-block operation. complete may be called from any
// goroutine; only the first call counts.
type deferred struct {
	c    *Cookie
	ch   chan error
	once sync.Once
	b    *bridge
}

func (d *deferred) complete(err error) {
	d.once.Do(func() {
		d.c.mu.Lock()
		d.c.pending = false
		d.c.mu.Unlock()
		d.b.finished.Add(1)
		d.ch <- err // cap 1, single sender
		d.b.closer.Done()
	})
}

// bridge tracks deferred operations so Destroy can drain them.
type bridge struct {
	closer   *z.Closer
	mu       sync.Mutex
	closed   bool
	started  atomic.Uint64
	finished atomic.Uint64
}

func newBridge() *bridge {
	return &bridge{closer: z.NewCloser(0)}
}

// ctx is cancelled when the engine shuts down.
func (b *bridge) ctx() context.Context { return b.closer.Ctx() }

func (b *bridge) begin(c *Cookie) (*deferred, error) {
	if !c.Async() {
		return nil, ErrNotSupported
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return nil, &OpError{Op: "defer", Err: ErrInvalid, Cause: errCookieBusy}
	}
	c.pending = true
	c.done = make(chan error, 1)

	b.closer.AddRunning(1)
	b.started.Add(1)
	return &deferred{c: c, ch: c.done, b: b}, nil
}

// drain cancels in-flight work and waits for every deferred operation to be
// notified.
func (b *bridge) drain() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.closer.SignalAndWait()
}

func (b *bridge) inflight() uint64 { return b.started.Load() - b.finished.Load() }
