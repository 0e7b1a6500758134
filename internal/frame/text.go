package frame

import (
	"encoding/json"
	"fmt"
)

// textEnvelope captures the "type" discriminator and the raw payload for
// deferred decoding, the same two-pass approach the teacher's protocol
// package uses for its JSON messages.
type textEnvelope struct {
	Type string          `json:"type"`
	raw  json.RawMessage `json:"-"`
}

func (e *textEnvelope) UnmarshalJSON(data []byte) error {
	e.raw = append(json.RawMessage(nil), data...)
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("frame: unmarshal envelope: %w", err)
	}
	e.Type = partial.Type
	return nil
}

// textKindTable maps JSON "type" values to Kind per spec §6. Any type not in
// this table maps to KindData, matching the spec's "anything else -> Data"
// rule.
var textKindTable = map[string]Kind{
	"connect":    KindConnect,
	"connection": KindConnect,
	"disconnect": KindDisconnect,
	"heartbeat":  KindHeartbeat,
	"ping":       KindHeartbeat,
	"reconnect":  KindReconnect,
	"error":      KindError,
}

// looksLikeJSON applies the first-byte heuristic from spec §4.1: a frame
// whose first non-whitespace byte is '{', '[' or '"' is a JSON-fallback
// candidate. Per spec §9's Open Question this is only ever used as the
// defensive fallback; the transport server passes the WebSocket opcode to
// Decode.
func looksLikeJSON(buf []byte) bool {
	for _, b := range buf {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[', '"':
			return true
		default:
			return false
		}
	}
	return false
}

type textConnect struct {
	SessionID     string `json:"session_id"`
	ClientVersion string `json:"client_version"`
}

type textReconnect struct {
	SessionID string `json:"session_id"`
}

type textDisconnect struct {
	Reason string `json:"reason"`
}

type textData struct {
	Payload   []byte `json:"payload"`
	MessageID uint64 `json:"message_id"`
	Timestamp uint64 `json:"timestamp"`
}

type textHeartbeat struct {
	Timestamp uint64 `json:"timestamp"`
}

type textError struct {
	Code    uint16 `json:"code"`
	Message string `json:"message"`
}

// DecodeText parses the JSON fallback envelope described in spec §4.1/§6.
func DecodeText(buf []byte) (Message, error) {
	if len(buf) == 0 {
		return Message{}, ErrEmptyMessage
	}
	var env textEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	kind, ok := textKindTable[env.Type]
	if !ok {
		kind = KindData
	}

	msg := Message{Kind: kind}
	var err error
	switch kind {
	case KindConnect:
		var p textConnect
		if err = json.Unmarshal(env.raw, &p); err == nil {
			msg.Connect = ConnectPayload{SessionID: p.SessionID, ClientVersion: p.ClientVersion}
		}
	case KindReconnect:
		var p textReconnect
		if err = json.Unmarshal(env.raw, &p); err == nil {
			msg.Reconnect = ReconnectPayload{SessionID: p.SessionID}
		}
	case KindDisconnect:
		var p textDisconnect
		if err = json.Unmarshal(env.raw, &p); err == nil {
			msg.Disconnect = DisconnectPayload{Reason: p.Reason}
		}
	case KindHeartbeat:
		var p textHeartbeat
		if err = json.Unmarshal(env.raw, &p); err == nil {
			msg.Heartbeat = HeartbeatPayload{Timestamp: p.Timestamp}
		}
	case KindError:
		var p textError
		if err = json.Unmarshal(env.raw, &p); err == nil {
			msg.Error = ErrorPayload{Code: p.Code, Message: p.Message}
		}
	default: // KindData, including unknown types per the spec's fallback rule
		var p textData
		if err = json.Unmarshal(env.raw, &p); err == nil {
			msg.Data = DataPayload{Payload: p.Payload, MessageID: p.MessageID, Timestamp: p.Timestamp}
		}
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: decoding %q payload: %v", ErrInvalidFrame, env.Type, err)
	}
	return msg, nil
}

// EncodeText renders msg as the JSON fallback envelope. The transport
// server does not call it: its responses are always binary frames, also to
// clients that send text frames.
func EncodeText(msg Message) ([]byte, error) {
	var payload interface{}
	var typeStr string

	switch msg.Kind {
	case KindConnect:
		typeStr = "connect"
		payload = textConnect{SessionID: msg.Connect.SessionID, ClientVersion: msg.Connect.ClientVersion}
	case KindReconnect:
		typeStr = "reconnect"
		payload = textReconnect{SessionID: msg.Reconnect.SessionID}
	case KindDisconnect:
		typeStr = "disconnect"
		payload = textDisconnect{Reason: msg.Disconnect.Reason}
	case KindHeartbeat:
		typeStr = "heartbeat_response"
		payload = textHeartbeat{Timestamp: msg.Heartbeat.Timestamp}
	case KindError:
		typeStr = "error"
		payload = textError{Code: msg.Error.Code, Message: msg.Error.Message}
	case KindData:
		typeStr = "message"
		payload = textData{Payload: msg.Data.Payload, MessageID: msg.Data.MessageID, Timestamp: msg.Data.Timestamp}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, msg.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("frame: marshal payload: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("frame: remarshal payload: %w", err)
	}
	m["type"] = typeStr
	return json.Marshal(m)
}
