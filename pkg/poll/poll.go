package poll

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

var ErrNotRegistered = errors.New("poll: fd not registered")

// interest is what every registered descriptor waits on: readable,
// priority, error and hangup conditions.
const interest = unix.POLLIN | unix.POLLPRI | unix.POLLERR | unix.POLLHUP

// Event is one readiness notification returned by Wait.
type Event struct {
	FD    int
	Ready int16
}

// Readable reports whether the descriptor has data (or priority data)
// to read.
func (e Event) Readable() bool {
	return e.Ready&(unix.POLLIN|unix.POLLPRI) != 0
}

// HangupOrError reports whether the descriptor is in a failed or
// peer-closed condition.
func (e Event) HangupOrError() bool {
	return e.Ready&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
}

// Poller is a single-owner readiness-wait set over raw descriptors.
// It is not safe for concurrent use; one goroutine registers,
// unregisters and waits.
type Poller struct {
	fds map[int]struct{}

	// scratch buffers reused across Wait calls
	pollfds []unix.PollFd
	events  []Event
}

func New() *Poller {
	return &Poller{fds: make(map[int]struct{})}
}

// Register adds fd to the wait set. Registering an fd twice is a
// no-op; the set holds at most one entry per descriptor.
func (p *Poller) Register(fd int) {
	p.fds[fd] = struct{}{}
}

// Unregister removes fd from the wait set. Callers must unregister
// before closing the descriptor so a recycled fd number cannot alias a
// stale entry.
func (p *Poller) Unregister(fd int) error {
	if _, ok := p.fds[fd]; !ok {
		return ErrNotRegistered
	}
	delete(p.fds, fd)
	return nil
}

// Len returns the number of registered descriptors.
func (p *Poller) Len() int {
	return len(p.fds)
}

// Wait blocks until at least one registered descriptor is ready or the
// timeout elapses, returning the ready set. With nothing registered it
// degenerates to a bounded sleep, which keeps the caller's periodic
// housekeeping running. The returned slice is reused by the next call.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	p.pollfds = p.pollfds[:0]
	for fd := range p.fds {
		p.pollfds = append(p.pollfds, unix.PollFd{Fd: int32(fd), Events: interest})
	}

	n, err := unix.Poll(p.pollfds, int(timeout.Milliseconds()))
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	p.events = p.events[:0]
	for _, pfd := range p.pollfds {
		if pfd.Revents == 0 {
			continue
		}
		p.events = append(p.events, Event{FD: int(pfd.Fd), Ready: pfd.Revents})
	}
	return p.events, nil
}
