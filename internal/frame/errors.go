package frame

import "errors"

// MaxFrameBytes is the hard per-frame size ceiling from spec §4.1/§6.
const MaxFrameBytes = 65536

// Sentinel decode errors. These are ProtocolError-class per spec §7: the
// caller surfaces an Error{400,...} frame and drops the offending frame
// without tearing down the connection.
var (
	// ErrInvalidFrame is returned when neither the binary nor the JSON
	// fallback parser can make sense of a frame.
	ErrInvalidFrame = errors.New("frame: invalid frame")

	// ErrMessageTooLarge is returned when a frame exceeds MaxFrameBytes.
	ErrMessageTooLarge = errors.New("frame: message too large")

	// ErrEmptyMessage is returned for a zero-length frame.
	ErrEmptyMessage = errors.New("frame: empty message")

	// ErrUnknownKind is returned when a binary frame's type tag is outside
	// the six defined kinds.
	ErrUnknownKind = errors.New("frame: unknown message kind")
)
