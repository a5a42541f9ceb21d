package nexstar

import "errors"

var (
	// ErrInvalidArgument indicates a malformed command argument, such as a raw
	// byte segment outside 0-255 or an echo argument that is not one character.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransport indicates that the channel reported an open, write or read failure.
	ErrTransport = errors.New("transport error")

	// ErrProtocolTimeout indicates that the transport read deadline elapsed
	// before a terminator or the required number of bytes arrived.
	ErrProtocolTimeout = errors.New("protocol timeout")

	// ErrMalformedResponse indicates a response that does not have the shape
	// the command table documents for it.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrClosed indicates an operation on a mount that has been closed.
	ErrClosed = errors.New("mount closed")
)

func isTagged(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocolTimeout)
}
