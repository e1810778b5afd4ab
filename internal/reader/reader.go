// Package reader implements a consumer for an NSQ-style pub/sub
// protocol: a pool of broker connections multiplexed by one readiness
// wait on a single goroutine, with reconnection driven by a periodic
// health scan. Messages are handed to a caller-supplied handler and
// acknowledged or requeued from its result.
package reader

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sys/unix"

	"main/internal/obs"
	"main/internal/protocol"
	"main/pkg/poll"
)

var (
	ErrNilHandler     = errors.New("reader: nil message handler")
	ErrBadTopic       = errors.New("reader: invalid topic name")
	ErrBadChannel     = errors.New("reader: invalid channel name")
	ErrNoBrokers      = errors.New("reader: empty broker address list")
	ErrBadBrokerAddr  = errors.New("reader: broker address is not host:port")
	ErrAlreadyRunning = errors.New("reader: already running")
	ErrReaderStopped  = errors.New("reader: stopped readers cannot be reused")
)

const (
	lifecycleIdle int32 = iota
	lifecycleRunning
	lifecycleStopped
)

// Reader consumes one topic/channel from a fixed set of broker
// addresses. Construct with New, drive with Run, end with Stop.
// Readers are single-shot: a stopped reader cannot run again.
type Reader struct {
	topic     string
	addresses []string
	handler   MessageHandler
	opt       Option

	// Owned by the Run goroutine.
	poller   *poll.Poller
	conns    map[string]*connection
	lastScan time.Time
	cmdBuf   []byte

	lifecycle atomic.Int32
	shutdown  atomic.Bool
}

// New validates the configuration and builds a reader. Addresses are
// pre-resolved host:port pairs; no discovery happens here.
func New(handler MessageHandler, topic string, addresses []string, option ...Option) (*Reader, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !protocol.IsValidName(topic) {
		return nil, ErrBadTopic
	}
	if len(addresses) == 0 {
		return nil, ErrNoBrokers
	}
	for _, addr := range addresses {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, ErrBadBrokerAddr
		}
	}

	var opt Option
	if len(option) != 0 {
		opt = option[0]
	}
	opt.init(topic)
	if !protocol.IsValidName(opt.Channel) {
		return nil, ErrBadChannel
	}

	return &Reader{
		topic:     topic,
		addresses: append([]string(nil), addresses...),
		handler:   handler,
		opt:       opt,
		poller:    poll.New(),
		conns:     make(map[string]*connection, len(addresses)),
	}, nil
}

// Metrics exposes the reader's counters, shared when Option.Metrics
// was set.
func (r *Reader) Metrics() *obs.Metrics {
	return r.opt.Metrics
}

// Stop requests a shutdown. It is safe from any goroutine, including
// the message handler. The loop finishes its current tick, sends CLS
// to every connected broker and closes everything it owns; Run then
// returns.
func (r *Reader) Stop() {
	if r.shutdown.CompareAndSwap(false, true) {
		logs.Infof("consumer: stop requested for topic %q", r.topic)
	}
}

// Run connects to every broker and drives the event loop until Stop.
// All I/O, reassembly and dispatch happens on the calling goroutine;
// no error short of a second Run call escapes.
func (r *Reader) Run() error {
	switch {
	case r.lifecycle.CompareAndSwap(lifecycleIdle, lifecycleRunning):
	case r.lifecycle.Load() == lifecycleRunning:
		return ErrAlreadyRunning
	default:
		return ErrReaderStopped
	}
	defer r.lifecycle.Store(lifecycleStopped)

	logs.Infof("consumer: starting reader for topic %q channel %q (%d brokers)",
		r.topic, r.opt.Channel, len(r.addresses))

	r.connectAll()
	r.lastScan = time.Now()

	readBuf := make([]byte, r.opt.ReadChunkSize)
	for !r.shutdown.Load() {
		r.tick(readBuf)
	}

	r.closeAll()
	logs.Infof("consumer: reader for topic %q stopped", r.topic)
	return nil
}

// tick is one event-loop iteration: a single bounded readiness wait,
// a drain of every ready socket, deferred closes, and housekeeping.
func (r *Reader) tick(readBuf []byte) {
	events, err := r.poller.Wait(r.opt.PollTimeout)
	if err != nil {
		logs.Errorf("consumer: readiness wait failed, err: %v", err)
		return
	}

	// Connections are only marked here and closed after the scan, so
	// the registry never mutates while events still reference it.
	var marked []*connection
	for _, ev := range events {
		c := r.findByDescriptor(ev.FD)
		if c == nil {
			// retired earlier this tick
			continue
		}
		switch {
		case ev.Readable():
			if !r.readConn(c, readBuf) {
				marked = append(marked, c)
			}
		case ev.HangupOrError():
			logs.Warnf("consumer: %s socket failed, scheduling reconnect", c.addr)
			marked = append(marked, c)
		}
	}
	for _, c := range marked {
		r.closeConn(c) // idempotent; duplicates collapse
	}

	if time.Since(r.lastScan) > r.opt.HealthInterval {
		r.healthScan()
	}
}

// readConn performs the one bounded read for a readable event and
// drains every complete frame that is now buffered. It reports false
// when the connection must be closed (peer EOF, read error, framing
// violation).
func (r *Reader) readConn(c *connection, buf []byte) bool {
	var n int
	var err error
	for {
		n, err = unix.Read(c.fd, buf)
		if err != unix.EINTR {
			break
		}
	}
	switch {
	case err == unix.EAGAIN:
		return true // spurious readiness
	case err != nil:
		logs.Warnf("consumer: %s read failed, err: %v", c.addr, err)
		return false
	case n == 0:
		logs.Warnf("consumer: %s closed by peer", c.addr)
		return false
	}

	c.in = append(c.in, buf[:n]...)
	for {
		body, rest, ok, ferr := extractFrame(c.in, r.opt.MaxFrameSize)
		if ferr != nil {
			logs.Errorf("consumer: %s framing violation, err: %v", c.addr, ferr)
			return false
		}
		if !ok {
			return true
		}
		r.dispatch(c, body)
		c.in = rest
	}
}

func (r *Reader) connectAll() {
	for _, addr := range r.addresses {
		r.connectOne(addr)
	}
}

// connectOne dials one broker and performs the subscribe handshake.
// The record enters the registry in connecting state first: a failed
// dial leaves it there for the health scan to retire and retry.
func (r *Reader) connectOne(addr string) {
	logs.Debugf("consumer: connecting to %s", addr)
	c := &connection{
		addr:   addr,
		state:  stateConnecting,
		since:  time.Now(),
		closed: true,
	}
	r.conns[addr] = c

	file, fd, err := dial(addr, r.opt.DialTimeout)
	if err != nil {
		logs.Errorf("consumer: connect %s failed, err: %v", addr, err)
		return
	}
	c.file, c.fd = file, fd
	c.closed = false

	r.cmdBuf = append(r.cmdBuf[:0], protocol.MagicV2...)
	r.cmdBuf = protocol.AppendSubscribe(r.cmdBuf, r.topic, r.opt.Channel, r.opt.ShortID, r.opt.LongID)
	r.cmdBuf = protocol.AppendReady(r.cmdBuf, r.opt.MaxInFlight)
	if err := c.send(r.cmdBuf); err != nil {
		logs.Errorf("consumer: subscribe handshake to %s failed, err: %v", addr, err)
		r.closeConn(c)
		return
	}

	r.poller.Register(fd)
	c.state = stateConnected
	c.since = time.Now()
	r.opt.Metrics.IncConnectionOpened()
	logs.Infof("consumer: connected to %s", addr)
}

// closeConn unregisters, closes and marks one connection. Idempotent
// against the closed flag; unregistration precedes the close so a
// recycled descriptor can never alias a stale poller entry.
func (r *Reader) closeConn(c *connection) {
	if c.closed {
		return
	}
	logs.Debugf("consumer: unregistering and closing connection to %s", c.addr)
	_ = r.poller.Unregister(c.fd)
	_ = c.file.Close()
	c.file = nil
	c.in = nil
	c.state = stateDisconnected
	c.closed = true
	c.since = time.Now()
	r.opt.Metrics.IncConnectionLost()
}

// healthScan retires every connection that has sat in connecting or
// disconnected state for longer than the interval and immediately
// redials it. This is the sole retry path: unbounded, fixed-period,
// no backoff.
func (r *Reader) healthScan() {
	now := time.Now()
	var stale []string
	for addr, c := range r.conns {
		if c.state != stateConnected && now.Sub(c.since) > r.opt.HealthInterval {
			stale = append(stale, addr)
		}
	}
	for _, addr := range stale {
		c := r.conns[addr]
		logs.Infof("consumer: %s stuck %s for %s, redialing", addr, c.state, now.Sub(c.since).Truncate(time.Millisecond))
		if !c.closed {
			r.closeConn(c)
		}
		delete(r.conns, addr)
	}
	for _, addr := range stale {
		r.connectOne(addr)
	}
	r.lastScan = now
}

// findByDescriptor resolves a readiness event back to its connection.
// Linear scan: the registry holds one record per broker.
func (r *Reader) findByDescriptor(fd int) *connection {
	for _, c := range r.conns {
		if c.file != nil && c.fd == fd {
			return c
		}
	}
	return nil
}

// closeAll is the shutdown path: best-effort CLS to every connected
// broker so it releases the channel state promptly, then close.
func (r *Reader) closeAll() {
	for _, c := range r.conns {
		if c.state == stateConnected && !c.closed {
			logs.Debugf("consumer: sending CLS to %s", c.addr)
			r.sendCommand(c, protocol.AppendStartClose(r.cmdBuf[:0]))
		}
		r.closeConn(c)
	}
}
