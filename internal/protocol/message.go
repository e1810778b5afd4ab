package protocol

import (
	"encoding/binary"
	"errors"
)

var ErrShortMessage = errors.New("protocol: message payload too short")

// MessageID is the broker-assigned 16-byte message identifier, echoed
// back verbatim in FIN and REQ commands.
type MessageID [16]byte

func (id MessageID) String() string {
	return string(id[:])
}

// Message is one delivered payload with its broker metadata. Fields
// are fixed once decoded; Body is an owned copy.
type Message struct {
	ID        MessageID
	Timestamp int64 // nanoseconds since epoch
	Attempts  uint16
	Body      []byte
}

// DecodeMessage parses a MESSAGE frame payload:
//
//	[8-byte big-endian ns timestamp][2-byte attempts][16-byte id][body]
func DecodeMessage(payload []byte) (*Message, error) {
	if len(payload) < 26 {
		return nil, ErrShortMessage
	}
	msg := &Message{
		Timestamp: int64(binary.BigEndian.Uint64(payload[:8])),
		Attempts:  binary.BigEndian.Uint16(payload[8:10]),
		Body:      make([]byte, len(payload)-26),
	}
	copy(msg.ID[:], payload[10:26])
	copy(msg.Body, payload[26:])
	return msg, nil
}
