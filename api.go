package casengine

import (
	"context"
	"time"

	"github.com/unkn0wn-root/casengine/clock"
	pr "github.com/unkn0wn-root/casengine/provider"
	"github.com/unkn0wn-root/casengine/seq"
)

// InterfaceVersion is the highest engine interface version implemented here.
const InterfaceVersion uint64 = 1

// StoreOp selects the semantics of Engine.Store.
type StoreOp uint8

const (
	OpAdd StoreOp = iota + 1
	OpSet
	OpReplace
	OpAppend
	OpPrepend
	OpCAS
)

func (op StoreOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSet:
		return "set"
	case OpReplace:
		return "replace"
	case OpAppend:
		return "append"
	case OpPrepend:
		return "prepend"
	case OpCAS:
		return "cas"
	default:
		return "unknown"
	}
}

// AddStat receives one statistic. It is only valid during the call that
// received it.
type AddStat func(key, value string)

// Info describes an engine instance.
type Info struct {
	Description string
	Version     uint64 // negotiated interface version
	Features    []string
}

// Engine is the operation table a frontend drives. Every call carries the
// cookie of the connection it runs for. Handles returned by Allocate and Get
// must be released.
type Engine interface {
	Info() Info
	Initialize(config string) error
	Destroy(ctx context.Context, force bool) error

	// Item lifecycle
	Allocate(ctx context.Context, cookie *Cookie, key []byte, nbytes int, flags uint32, exptime int64) (*Handle, error)
	Get(ctx context.Context, cookie *Cookie, key []byte) (*Handle, error)
	Store(ctx context.Context, cookie *Cookie, h *Handle, op StoreOp) (cas uint64, err error)
	Remove(ctx context.Context, cookie *Cookie, key []byte, cas uint64) error
	Release(cookie *Cookie, h *Handle)

	// View runs fn with a handle for key and releases it on every exit path.
	View(ctx context.Context, cookie *Cookie, key []byte, fn func(*Handle) error) error

	Arithmetic(ctx context.Context, cookie *Cookie, key []byte, incr, create bool, delta, initial uint64, exptime int64) (value, cas uint64, err error)
	Flush(ctx context.Context, cookie *Cookie, when time.Time) error

	GetStats(ctx context.Context, cookie *Cookie, group string, add AddStat) error
	ResetStats(cookie *Cookie)

	UnknownCommand(ctx context.Context, cookie *Cookie, req Request, respond ResponseFunc) error

	// Reap unlinks dead items and reports how many were found.
	Reap(ctx context.Context) (int, error)
}

// Options wire the engine into its host. None are required.
type Options struct {
	Logger    Logger           // if nil, NopLogger is used
	Hooks     Hooks            // if nil, NopHooks is used
	Clock     clock.Clock      // nil => clock.New()
	Sequencer seq.Sequencer    // nil => seq.NewLocal()
	Tier      pr.Provider      // optional second tier
	Extension ExtensionHandler // handles UnknownCommand; nil => not supported
}

// Create returns an uninitialized engine speaking min(version,
// InterfaceVersion), and that version.
func Create(version uint64, opts Options) (Engine, uint64, error) {
	if version < 1 {
		return nil, 0, &OpError{Op: "create", Err: ErrNotSupported}
	}
	v := min(version, InterfaceVersion)
	return newEngine(v, opts), v, nil
}

// New creates and initializes an engine at the current interface version.
func New(config string, opts Options) (Engine, error) {
	e, _, err := Create(InterfaceVersion, opts)
	if err != nil {
		return nil, err
	}
	if err := e.Initialize(config); err != nil {
		return nil, err
	}
	return e, nil
}
