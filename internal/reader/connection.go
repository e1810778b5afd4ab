package reader

import (
	"net"
	"os"
	"time"

	"github.com/yanun0323/errors"
	"golang.org/x/sys/unix"
)

var errNotTCP = errors.New("reader: broker address did not resolve to a TCP connection")

// writeWaitMs bounds one wait for a writable socket when a command
// write hits a full kernel buffer.
const writeWaitMs = 1000

type connState uint8

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// connection is one registry record: a single TCP link to a single
// broker address. The registry holds at most one record per address.
// All fields are owned by the event-loop goroutine.
type connection struct {
	addr   string
	file   *os.File // dup'd socket; nil until the dial succeeds
	fd     int
	state  connState
	since  time.Time // last state transition
	in     []byte    // bytes read but not yet framed
	closed bool
}

// dial performs the one blocking connect, then switches the socket to
// non-blocking mode and hands back the raw descriptor the poller and
// the read/write paths operate on.
func dial(addr string, timeout time.Duration) (*os.File, int, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, 0, err
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return nil, 0, errNotTCP
	}
	_ = tc.SetNoDelay(true)

	// File dups the descriptor; the original conn is closed and the
	// dup is the connection's only handle from here on. Fd puts the
	// dup in blocking mode, so non-blocking is restored right after.
	file, err := tc.File()
	_ = tc.Close()
	if err != nil {
		return nil, 0, err
	}
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = file.Close()
		return nil, 0, err
	}
	return file, fd, nil
}

// send writes b fully to the non-blocking socket, waiting briefly for
// writability when the kernel buffer is full.
func (c *connection) send(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(c.fd, b)
		if n > 0 {
			b = b[n:]
			continue
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
			if _, perr := unix.Poll(pfd, writeWaitMs); perr != nil && perr != unix.EINTR {
				return perr
			}
		case nil:
			// zero-byte write with no error; retry
		default:
			return err
		}
	}
	return nil
}
