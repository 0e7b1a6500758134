package frame

import "fmt"

// Decode parses buf into a Message. isText should reflect the WebSocket
// opcode the frame arrived on (text vs binary) — per spec §9's Open
// Question, the opcode is the preferred discriminator. The first-byte
// heuristic in DecodeAuto is only a defensive fallback for transports that
// cannot report the opcode.
func Decode(buf []byte, isText bool) (Message, error) {
	if len(buf) == 0 {
		return Message{}, ErrEmptyMessage
	}
	if len(buf) > MaxFrameBytes {
		return Message{}, ErrMessageTooLarge
	}

	if isText {
		msg, err := DecodeText(buf)
		if err == nil {
			return msg, nil
		}
		// Defensive fallback: a mislabeled text frame that is actually
		// binary still gets a chance.
		if bmsg, berr := DecodeBinary(buf); berr == nil {
			return bmsg, nil
		}
		return Message{}, err
	}

	msg, err := DecodeBinary(buf)
	if err == nil {
		return msg, nil
	}
	if looksLikeJSON(buf) {
		if tmsg, terr := DecodeText(buf); terr == nil {
			return tmsg, nil
		}
	}
	return Message{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
}

// DecodeAuto classifies buf using only the first-byte heuristic from
// spec §4.1, for callers with no opcode information available.
func DecodeAuto(buf []byte) (Message, error) {
	if len(buf) == 0 {
		return Message{}, ErrEmptyMessage
	}
	if len(buf) > MaxFrameBytes {
		return Message{}, ErrMessageTooLarge
	}
	if looksLikeJSON(buf) {
		if msg, err := DecodeText(buf); err == nil {
			return msg, nil
		}
	}
	return DecodeBinary(buf)
}
