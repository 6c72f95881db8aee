package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned to every request that was still waiting for a response when the connection went away.
	ErrDisconnected = errors.New("disconnected")
	ErrUnsupported  = errors.New("unsupported")
)

// RemoteError is an error reported by the remote side in response to a request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Method, e.Message)
}
