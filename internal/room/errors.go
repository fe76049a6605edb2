package room

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a closed set of reasons a room operation can fail, distinct
// from Go's open-ended error values so the dispatcher can map failures
// onto the wire {error: string} shape without inspecting error text.
type Kind string

const (
	// KindNotFound — a referenced Room, Peer, Transport, Producer, or
	// Consumer does not exist in the expected scope. Not logged as error.
	KindNotFound Kind = "NotFound"
	// KindPreconditionFailed — wrong peer state, or a duplicate resource
	// where idempotence does not apply. Logged at info.
	KindPreconditionFailed Kind = "PreconditionFailed"
	// KindCannotConsume — the Router refuses the (producer, rtpCapabilities)
	// pair. Not fatal.
	KindCannotConsume Kind = "CannotConsume"
	// KindMediaError — the underlying media worker call failed. Logged at
	// warn; any partially created resource is closed by the caller.
	KindMediaError Kind = "MediaError"
	// KindTimeout — the operation exceeded its deadline. Partial
	// allocations are rolled back by the caller.
	KindTimeout Kind = "Timeout"
	// KindFatal — the media worker died. Logged at error; the process
	// terminates after a short delay.
	KindFatal Kind = "Fatal"
)

// Error is the tagged result every fallible room operation returns in its
// error variant. Op names the operation (join, produce, consume, ...) for
// logging; Err is the underlying cause, wrapped with %w so errors.Is/As
// still reach it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("room: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("room: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, room.ErrNotFound) (and the other sentinels below)
// match by Kind rather than by identity, since every *Error is constructed
// fresh per call.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel values for errors.Is comparisons; never returned directly.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrCannotConsume      = &Error{Kind: KindCannotConsume}
	ErrMediaError         = &Error{Kind: KindMediaError}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrFatal              = &Error{Kind: KindFatal}
)

func errNotFound(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

func errPrecondition(op string, err error) *Error {
	return &Error{Kind: KindPreconditionFailed, Op: op, Err: err}
}

func errCannotConsume(op string, err error) *Error {
	return &Error{Kind: KindCannotConsume, Op: op, Err: err}
}

// errMediaError tags a failed media worker call, distinguishing a blown
// deadline (the caller's context expired mid-call) from a genuine failure
// so the wire reply says Timeout rather than MediaError.
func errMediaError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindMediaError, Op: op, Err: err}
}
