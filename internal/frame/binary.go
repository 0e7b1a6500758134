package frame

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// EncodeBinary renders msg as the binary tagged-union frame described in
// spec §4.1/§6: a two-byte [type][data_type] tag pair followed by a
// msgpack-encoded map of the kind's typed fields, written with msgp's
// allocation-free Append* functions rather than generated codec code (schema
// code generation is explicitly out of scope — spec §1).
//
// Integers are always written with AppendUint64 regardless of their
// nominal wire width; msgpack itself already picks the most compact
// representation, so the u16 in ErrorPayload.Code costs nothing extra.
func EncodeBinary(msg Message) ([]byte, error) {
	b := make([]byte, 0, 128)
	b = append(b, byte(msg.Kind), byte(msg.Kind))

	switch msg.Kind {
	case KindConnect:
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "session_id")
		b = msgp.AppendString(b, msg.Connect.SessionID)
		b = msgp.AppendString(b, "client_version")
		b = msgp.AppendString(b, msg.Connect.ClientVersion)

	case KindReconnect:
		b = msgp.AppendMapHeader(b, 1)
		b = msgp.AppendString(b, "session_id")
		b = msgp.AppendString(b, msg.Reconnect.SessionID)

	case KindDisconnect:
		b = msgp.AppendMapHeader(b, 1)
		b = msgp.AppendString(b, "reason")
		b = msgp.AppendString(b, msg.Disconnect.Reason)

	case KindData:
		b = msgp.AppendMapHeader(b, 3)
		b = msgp.AppendString(b, "payload")
		b = msgp.AppendBytes(b, msg.Data.Payload)
		b = msgp.AppendString(b, "message_id")
		b = msgp.AppendUint64(b, msg.Data.MessageID)
		b = msgp.AppendString(b, "timestamp")
		b = msgp.AppendUint64(b, msg.Data.Timestamp)

	case KindHeartbeat:
		b = msgp.AppendMapHeader(b, 1)
		b = msgp.AppendString(b, "timestamp")
		b = msgp.AppendUint64(b, msg.Heartbeat.Timestamp)

	case KindError:
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "code")
		b = msgp.AppendUint64(b, uint64(msg.Error.Code))
		b = msgp.AppendString(b, "message")
		b = msgp.AppendString(b, msg.Error.Message)

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, msg.Kind)
	}

	return b, nil
}

// DecodeBinary parses a binary tagged-union frame. The returned Message's
// Data.Payload (when Kind == KindData) is a sub-slice of buf — zero-copy —
// and must be copied by the caller if it is retained past buf's lifetime.
func DecodeBinary(buf []byte) (Message, error) {
	if len(buf) == 0 {
		return Message{}, ErrEmptyMessage
	}
	if len(buf) > MaxFrameBytes {
		return Message{}, ErrMessageTooLarge
	}
	if len(buf) < 2 {
		return Message{}, fmt.Errorf("%w: frame shorter than tag pair", ErrInvalidFrame)
	}

	kind := Kind(buf[0])
	if kind > KindError {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	rest := buf[2:]

	sz, rest, err := msgp.ReadMapHeaderBytes(rest)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	msg := Message{Kind: kind}

	for i := uint32(0); i < sz; i++ {
		var key string
		key, rest, err = msgp.ReadStringBytes(rest)
		if err != nil {
			return Message{}, fmt.Errorf("%w: reading field key: %v", ErrInvalidFrame, err)
		}

		switch kind {
		case KindConnect:
			switch key {
			case "session_id":
				msg.Connect.SessionID, rest, err = msgp.ReadStringBytes(rest)
			case "client_version":
				msg.Connect.ClientVersion, rest, err = msgp.ReadStringBytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
		case KindReconnect:
			switch key {
			case "session_id":
				msg.Reconnect.SessionID, rest, err = msgp.ReadStringBytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
		case KindDisconnect:
			switch key {
			case "reason":
				msg.Disconnect.Reason, rest, err = msgp.ReadStringBytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
		case KindData:
			switch key {
			case "payload":
				msg.Data.Payload, rest, err = msgp.ReadBytesZC(rest)
			case "message_id":
				msg.Data.MessageID, rest, err = msgp.ReadUint64Bytes(rest)
			case "timestamp":
				msg.Data.Timestamp, rest, err = msgp.ReadUint64Bytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
		case KindHeartbeat:
			switch key {
			case "timestamp":
				msg.Heartbeat.Timestamp, rest, err = msgp.ReadUint64Bytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
		case KindError:
			switch key {
			case "code":
				var code uint64
				code, rest, err = msgp.ReadUint64Bytes(rest)
				msg.Error.Code = uint16(code)
			case "message":
				msg.Error.Message, rest, err = msgp.ReadStringBytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
		default:
			return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
		}

		if err != nil {
			return Message{}, fmt.Errorf("%w: decoding %q: %v", ErrInvalidFrame, key, err)
		}
	}

	return msg, nil
}
