package casengine

import (
	"errors"
	"fmt"
)

// Status is the outcome code of an engine operation.
type Status uint8

const (
	StatusSuccess      Status = 0x00
	StatusKeyNotFound  Status = 0x01
	StatusKeyExists    Status = 0x02
	StatusNoMemory     Status = 0x03
	StatusNotStored    Status = 0x04
	StatusInvalid      Status = 0x05
	StatusNotSupported Status = 0x06
	StatusWouldBlock   Status = 0x07
	StatusTooBig       Status = 0x08
	StatusFailed       Status = 0xff
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusKeyNotFound:
		return "key_enoent"
	case StatusKeyExists:
		return "key_eexists"
	case StatusNoMemory:
		return "enomem"
	case StatusNotStored:
		return "not_stored"
	case StatusInvalid:
		return "einval"
	case StatusNotSupported:
		return "enotsup"
	case StatusWouldBlock:
		return "ewouldblock"
	case StatusTooBig:
		return "e2big"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(0x%02x)", uint8(s))
	}
}

// Err returns the sentinel error for s, or nil for StatusSuccess.
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusKeyNotFound:
		return ErrKeyNotFound
	case StatusKeyExists:
		return ErrKeyExists
	case StatusNoMemory:
		return ErrNoMemory
	case StatusNotStored:
		return ErrNotStored
	case StatusInvalid:
		return ErrInvalid
	case StatusNotSupported:
		return ErrNotSupported
	case StatusWouldBlock:
		return ErrWouldBlock
	case StatusTooBig:
		return ErrTooBig
	default:
		return ErrFailed
	}
}

type statusError struct {
	status Status
	msg    string
}

func (e *statusError) Error() string  { return "casengine: " + e.msg }
func (e *statusError) Status() Status { return e.status }

var (
	ErrKeyNotFound  error = &statusError{StatusKeyNotFound, "key not found"}
	ErrKeyExists    error = &statusError{StatusKeyExists, "key exists"}
	ErrNoMemory     error = &statusError{StatusNoMemory, "out of memory"}
	ErrNotStored    error = &statusError{StatusNotStored, "not stored"}
	ErrInvalid      error = &statusError{StatusInvalid, "invalid argument"}
	ErrNotSupported error = &statusError{StatusNotSupported, "not supported"}
	// ErrWouldBlock is not a failure: the result arrives later on the cookie.
	ErrWouldBlock error = &statusError{StatusWouldBlock, "would block"}
	ErrTooBig     error = &statusError{StatusTooBig, "too big"}
	ErrFailed     error = &statusError{StatusFailed, "internal failure"}
)

// StatusOf maps an error returned by the engine to its Status. nil maps to
// StatusSuccess; errors that carry no status map to StatusFailed.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se interface{ Status() Status }
	if errors.As(err, &se) {
		return se.Status()
	}
	return StatusFailed
}

// OpError adds context to an outcome. Err is the sentinel that decides the
// Status; Cause is the underlying fault, if any.
type OpError struct {
	Op    string
	Key   string
	Err   error
	Cause error
}

func (e *OpError) Error() string {
	switch {
	case e.Key != "" && e.Cause != nil:
		return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Key, e.Err, e.Cause)
	case e.Key != "":
		return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Err, e.Cause)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func opErr(op string, key []byte, err, cause error) error {
	return &OpError{Op: op, Key: string(key), Err: err, Cause: cause}
}

var errCookieBusy = errors.New("cookie has a deferred operation pending")
