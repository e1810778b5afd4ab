package reader

import (
	"encoding/binary"

	"github.com/yanun0323/errors"
)

// extractFrame pulls at most one complete length-prefixed frame off
// buf: [4-byte big-endian signed length][length bytes of body]. ok
// reports whether a complete frame was buffered; when it is, body is
// the frame body and rest is the unconsumed remainder. A zero-length
// body is a valid frame. A negative length, or one above maxFrame, is
// a framing violation: waiting for that many bytes would stall the
// connection forever on one corrupt prefix.
func extractFrame(buf []byte, maxFrame int) (body, rest []byte, ok bool, err error) {
	if len(buf) < 4 {
		return nil, nil, false, nil
	}
	size := int32(binary.BigEndian.Uint32(buf[:4]))
	if size < 0 || int(size) > maxFrame {
		return nil, nil, false, errors.Errorf("reader: frame length %d out of range", size)
	}
	end := 4 + int(size)
	if len(buf) < end {
		return nil, nil, false, nil
	}
	return buf[4:end], buf[end:], true, nil
}
