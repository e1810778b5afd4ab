package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShortFrame = errors.New("protocol: frame body shorter than type tag")
)

// FrameType tags the payload carried by one length-prefixed frame.
type FrameType int32

const (
	FrameTypeResponse FrameType = 0
	FrameTypeError    FrameType = 1
	FrameTypeMessage  FrameType = 2
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeResponse:
		return "response"
	case FrameTypeError:
		return "error"
	case FrameTypeMessage:
		return "message"
	default:
		return "unknown"
	}
}

// HeartbeatBody is the response payload a broker sends as a keepalive.
// It must be answered with NOP or the broker drops the consumer.
var HeartbeatBody = []byte("_heartbeat_")

// UnpackResponse splits a frame body into its 4-byte big-endian type
// tag and the type-specific payload that follows it.
func UnpackResponse(body []byte) (FrameType, []byte, error) {
	if len(body) < 4 {
		return 0, nil, ErrShortFrame
	}
	return FrameType(int32(binary.BigEndian.Uint32(body[:4]))), body[4:], nil
}
