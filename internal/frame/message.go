// Package frame implements the binary tagged-union wire format and its JSON
// text fallback for the relay's application messages. Every WebSocket frame
// the server sends or receives carries exactly one Message.
package frame

import "fmt"

// Kind identifies the six message kinds carried by the wire format. The
// numeric values are part of the external contract (see spec §6) and must
// not be renumbered.
type Kind uint8

const (
	KindConnect Kind = iota
	KindDisconnect
	KindData
	KindHeartbeat
	KindReconnect
	KindError
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindData:
		return "data"
	case KindHeartbeat:
		return "heartbeat"
	case KindReconnect:
		return "reconnect"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is the decoded, in-memory form of a frame. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Message struct {
	Kind Kind

	Connect    ConnectPayload
	Disconnect DisconnectPayload
	Data       DataPayload
	Heartbeat  HeartbeatPayload
	Reconnect  ReconnectPayload
	Error      ErrorPayload
}

// ConnectPayload is carried by a Connect message.
type ConnectPayload struct {
	SessionID     string
	ClientVersion string
}

// ReconnectPayload is carried by a Reconnect message.
type ReconnectPayload struct {
	SessionID string
}

// DisconnectPayload is carried by a Disconnect message.
type DisconnectPayload struct {
	Reason string
}

// DataPayload is carried by a Data message. Payload is a zero-copy slice
// into the decoder's input buffer when decoded from the binary format; it
// must not be retained past the lifetime of that buffer without copying.
type DataPayload struct {
	Payload   []byte
	MessageID uint64
	Timestamp uint64
}

// HeartbeatPayload is carried by a Heartbeat message.
type HeartbeatPayload struct {
	Timestamp uint64
}

// ErrorPayload is carried by an Error message.
type ErrorPayload struct {
	Code    uint16
	Message string
}

// Error codes used in ErrorPayload.Code, per spec §6.
const (
	ErrCodeInvalid         uint16 = 400
	ErrCodeNotAuthed       uint16 = 401
	ErrCodeSessionNotFound uint16 = 404
	ErrCodeDuplicate       uint16 = 409
	ErrCodeInternal        uint16 = 500
)

// NewConnect builds a Connect message.
func NewConnect(sessionID, clientVersion string) Message {
	return Message{Kind: KindConnect, Connect: ConnectPayload{SessionID: sessionID, ClientVersion: clientVersion}}
}

// NewReconnect builds a Reconnect message.
func NewReconnect(sessionID string) Message {
	return Message{Kind: KindReconnect, Reconnect: ReconnectPayload{SessionID: sessionID}}
}

// NewDisconnect builds a Disconnect message.
func NewDisconnect(reason string) Message {
	return Message{Kind: KindDisconnect, Disconnect: DisconnectPayload{Reason: reason}}
}

// NewData builds a Data message.
func NewData(payload []byte, messageID, timestamp uint64) Message {
	return Message{Kind: KindData, Data: DataPayload{Payload: payload, MessageID: messageID, Timestamp: timestamp}}
}

// NewHeartbeat builds a Heartbeat message.
func NewHeartbeat(timestamp uint64) Message {
	return Message{Kind: KindHeartbeat, Heartbeat: HeartbeatPayload{Timestamp: timestamp}}
}

// NewError builds an Error message.
func NewError(code uint16, message string) Message {
	return Message{Kind: KindError, Error: ErrorPayload{Code: code, Message: message}}
}
