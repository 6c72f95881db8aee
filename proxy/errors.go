package proxy

import (
	"errors"
	"fmt"
)

var (
	ErrNotWritable     = errors.New("stream is not writable")
	ErrNotReadable     = errors.New("stream is not readable")
	ErrUnknownStream   = errors.New("unknown stream")
	ErrUnknownProcess  = errors.New("unknown process")
	ErrUnknownFunction = errors.New("unknown extension function")
	ErrMissingToken    = errors.New("reply is missing a resource token")
)

// FaultError reports an inbound notification that could not be applied,
// which means the transport broke its delivery guarantees or a handler misbehaved.
// The dispatcher never panics on a fault; it logs it, hands it to the fault handler and returns it.
type FaultError struct {
	Kind   NotificationKind
	Target string
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("fault handling %s notification for %s: %s", e.Kind, e.Target, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }
