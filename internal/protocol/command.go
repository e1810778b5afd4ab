package protocol

import "strconv"

// MagicV2 is the protocol preamble a consumer writes immediately after
// the TCP connection is established.
var MagicV2 = []byte("  V2")

const maxNameLen = 64

// Commands use the nsqd V2 text form: a space-separated verb line
// terminated by '\n'. Builders append onto dst so callers can reuse a
// single scratch buffer per connection.

// AppendSubscribe builds a SUB command binding this client to a
// topic/channel pair. shortID and longID identify the client to the
// broker (host short name and full hostname by convention).
func AppendSubscribe(dst []byte, topic, channel, shortID, longID string) []byte {
	dst = append(dst, "SUB "...)
	dst = append(dst, topic...)
	dst = append(dst, ' ')
	dst = append(dst, channel...)
	dst = append(dst, ' ')
	dst = append(dst, shortID...)
	dst = append(dst, ' ')
	dst = append(dst, longID...)
	return append(dst, '\n')
}

// AppendReady builds a RDY command granting the broker license to have
// count messages in flight on this connection.
func AppendReady(dst []byte, count int) []byte {
	dst = append(dst, "RDY "...)
	dst = strconv.AppendInt(dst, int64(count), 10)
	return append(dst, '\n')
}

// AppendFinish builds a FIN command acknowledging a message.
func AppendFinish(dst []byte, id MessageID) []byte {
	dst = append(dst, "FIN "...)
	dst = append(dst, id[:]...)
	return append(dst, '\n')
}

// AppendRequeue builds a REQ command returning a message to the broker
// for redelivery after delayMs milliseconds.
func AppendRequeue(dst []byte, id MessageID, delayMs int64) []byte {
	dst = append(dst, "REQ "...)
	dst = append(dst, id[:]...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, delayMs, 10)
	return append(dst, '\n')
}

// AppendNop builds a NOP command, the expected answer to a heartbeat.
func AppendNop(dst []byte) []byte {
	return append(dst, "NOP\n"...)
}

// AppendStartClose builds a CLS command telling the broker this
// consumer is going away and it can release the connection's state.
func AppendStartClose(dst []byte) []byte {
	return append(dst, "CLS\n"...)
}

// IsValidName reports whether name is usable as a topic or channel
// name: non-empty, at most 64 characters, drawn from [a-zA-Z0-9._-].
func IsValidName(name string) bool {
	if len(name) == 0 || len(name) > maxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
