package reader

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"main/internal/protocol"
)

func newTestReader(t *testing.T, handler MessageHandler, option ...Option) *Reader {
	t.Helper()
	r, err := New(handler, "events", []string{"127.0.0.1:4150"}, option...)
	require.NoError(t, err)
	return r
}

// testPair returns a connection wired to a peer descriptor the test
// reads commands from.
func testPair(t *testing.T) (*connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	c := &connection{addr: "test-broker:4150", fd: fds[0], state: stateConnected}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return c, fds[1]
}

// readN reads exactly n bytes from the peer descriptor.
func readN(t *testing.T, fd, n int) string {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		r, err := unix.Read(fd, buf[:n-len(out)])
		require.NoError(t, err)
		require.NotZero(t, r, "peer closed early")
		out = append(out, buf[:r]...)
	}
	return string(out)
}

func messageFrameBody(id string, attempts uint16, body string) []byte {
	payload := make([]byte, 4+26+len(body))
	binary.BigEndian.PutUint32(payload[:4], uint32(protocol.FrameTypeMessage))
	binary.BigEndian.PutUint64(payload[4:12], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint16(payload[12:14], attempts)
	copy(payload[14:30], id)
	copy(payload[30:], body)
	return payload
}

func responseFrameBody(payload string) []byte {
	body := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(body[:4], uint32(protocol.FrameTypeResponse))
	copy(body[4:], payload)
	return body
}

func TestDispatchReadyPrecedesHandler(t *testing.T) {
	c, peer := testPair(t)

	var seenInHandler string
	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) { return true, 0 })
	r.handler = func(msg *protocol.Message) (bool, time.Duration) {
		// RDY must already be on the wire before the handler runs
		seenInHandler = readN(t, peer, len("RDY 1\n"))
		return true, 0
	}

	r.dispatch(c, messageFrameBody("0123456789abcdef", 1, "payload"))
	assert.Equal(t, "RDY 1\n", seenInHandler)
	assert.Equal(t, "FIN 0123456789abcdef\n", readN(t, peer, len("FIN 0123456789abcdef\n")))
}

func TestDispatchFinishOnSuccess(t *testing.T) {
	c, peer := testPair(t)

	var finished []string
	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) {
		return true, 0
	}, Option{OnFinish: func(addr string, msg *protocol.Message) {
		finished = append(finished, msg.ID.String())
	}})

	r.dispatch(c, messageFrameBody("0123456789abcdef", 1, "ok"))
	assert.Equal(t, "RDY 1\nFIN 0123456789abcdef\n", readN(t, peer, len("RDY 1\nFIN 0123456789abcdef\n")))
	assert.Equal(t, []string{"0123456789abcdef"}, finished)
	assert.Equal(t, uint64(1), r.Metrics().Snapshot().Finished)
}

func TestDispatchRequeueWithDelay(t *testing.T) {
	c, peer := testPair(t)

	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) {
		return false, 2500 * time.Millisecond
	})

	r.dispatch(c, messageFrameBody("0123456789abcdef", 2, "retry"))
	want := "RDY 1\nREQ 0123456789abcdef 2500\n"
	assert.Equal(t, want, readN(t, peer, len(want)))
	assert.Equal(t, uint64(1), r.Metrics().Snapshot().Requeued)
}

func TestDispatchRequeueZeroDelay(t *testing.T) {
	c, peer := testPair(t)

	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) {
		return false, 0
	})

	r.dispatch(c, messageFrameBody("0123456789abcdef", 1, "x"))
	want := "RDY 1\nREQ 0123456789abcdef 0\n"
	assert.Equal(t, want, readN(t, peer, len(want)))
}

func TestDispatchHandlerPanicRequeuesDefaultDelay(t *testing.T) {
	c, peer := testPair(t)

	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) {
		panic("boom")
	}, Option{RequeueDelay: 3 * time.Second})

	r.dispatch(c, messageFrameBody("0123456789abcdef", 1, "bad"))
	want := "RDY 1\nREQ 0123456789abcdef 3000\n"
	assert.Equal(t, want, readN(t, peer, len(want)))
	assert.Equal(t, uint64(1), r.Metrics().Snapshot().HandlerPanics)
}

func TestDispatchHeartbeatAnswersNop(t *testing.T) {
	c, peer := testPair(t)

	called := false
	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) {
		called = true
		return true, 0
	})

	r.dispatch(c, responseFrameBody("_heartbeat_"))
	assert.Equal(t, "NOP\n", readN(t, peer, len("NOP\n")))
	assert.False(t, called)
	assert.Equal(t, uint64(1), r.Metrics().Snapshot().Heartbeats)
}

func TestDispatchErrorFrameNoReply(t *testing.T) {
	c, peer := testPair(t)

	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) {
		t.Fatal("handler must not run for error frames")
		return true, 0
	})

	body := make([]byte, 4+len("E_BAD_BODY"))
	binary.BigEndian.PutUint32(body[:4], uint32(protocol.FrameTypeError))
	copy(body[4:], "E_BAD_BODY")
	r.dispatch(c, body)

	// nothing written back for an error frame
	require.NoError(t, unix.SetNonblock(peer, true))
	buf := make([]byte, 16)
	_, err := unix.Read(peer, buf)
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestDispatchShortMessagePayload(t *testing.T) {
	c, peer := testPair(t)

	r := newTestReader(t, func(msg *protocol.Message) (bool, time.Duration) {
		t.Fatal("handler must not run for undecodable messages")
		return true, 0
	})

	body := make([]byte, 4+10) // message frame cut inside the header
	binary.BigEndian.PutUint32(body[:4], uint32(protocol.FrameTypeMessage))
	r.dispatch(c, body)

	// RDY went out before decoding, nothing after it
	assert.Equal(t, "RDY 1\n", readN(t, peer, len("RDY 1\n")))
	require.NoError(t, unix.SetNonblock(peer, true))
	buf := make([]byte, 16)
	_, err := unix.Read(peer, buf)
	assert.ErrorIs(t, err, unix.EAGAIN)
}
