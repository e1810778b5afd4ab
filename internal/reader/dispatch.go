package reader

import (
	"bytes"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/protocol"
)

// dispatch routes one decoded frame body to its protocol behavior.
// Every failure here is local to the frame or the message; the loop
// and the other connections are never affected.
func (r *Reader) dispatch(c *connection, frameBody []byte) {
	frameType, payload, err := protocol.UnpackResponse(frameBody)
	if err != nil {
		logs.Errorf("consumer: %s sent undecodable frame, err: %v", c.addr, err)
		return
	}
	r.opt.Metrics.ObserveFrame(frameType)

	switch frameType {
	case protocol.FrameTypeMessage:
		r.handleMessage(c, payload)
	case protocol.FrameTypeError:
		logs.Errorf("consumer: %s sent error frame: %q", c.addr, payload)
	case protocol.FrameTypeResponse:
		if bytes.Equal(payload, protocol.HeartbeatBody) {
			logs.Debugf("consumer: %s heartbeat, answering NOP", c.addr)
			r.opt.Metrics.IncHeartbeat()
			r.sendCommand(c, protocol.AppendNop(r.cmdBuf[:0]))
		} else {
			logs.Debugf("consumer: %s sent unrecognized response: %q", c.addr, payload)
		}
	default:
		logs.Errorf("consumer: %s sent unknown frame type %d: %q", c.addr, frameType, payload)
	}
}

func (r *Reader) handleMessage(c *connection, payload []byte) {
	// Replenish the ready count before the outcome is known. The
	// broker may already be sending the next message while this one is
	// still in the handler, which bounds in-flight to MaxInFlight per
	// connection instead of serializing on handler completion.
	r.sendCommand(c, protocol.AppendReady(r.cmdBuf[:0], r.opt.MaxInFlight))

	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		logs.Errorf("consumer: %s sent undecodable message, err: %v", c.addr, err)
		return
	}

	start := time.Now()
	ok, delay := r.deliver(msg)
	r.opt.Metrics.ObserveHandler(time.Since(start))

	if ok {
		logs.Debugf("consumer: message %s processed", msg.ID)
		r.sendCommand(c, protocol.AppendFinish(r.cmdBuf[:0], msg.ID))
		r.opt.Metrics.IncFinished()
		if r.opt.OnFinish != nil {
			r.opt.OnFinish(c.addr, msg)
		}
		return
	}

	if delay < 0 {
		delay = 0
	}
	logs.Infof("consumer: requeueing message %s with delay %s", msg.ID, delay)
	r.sendCommand(c, protocol.AppendRequeue(r.cmdBuf[:0], msg.ID, delay.Milliseconds()))
	r.opt.Metrics.IncRequeued()
	if r.opt.OnRequeue != nil {
		r.opt.OnRequeue(c.addr, msg, delay)
	}
}

// deliver runs the handler, converting a panic into a requeue with the
// default delay so one bad message cannot take down the loop.
func (r *Reader) deliver(msg *protocol.Message) (ok bool, delay time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			logs.Errorf("consumer: message handler panicked on %s, requeueing with default delay: %v", msg.ID, rec)
			r.opt.Metrics.IncHandlerPanic()
			ok, delay = false, r.opt.RequeueDelay
		}
	}()
	return r.handler(msg)
}

// sendCommand writes an encoded command, keeping the scratch buffer
// for the next builder. Write failures are logged only; the failing
// socket surfaces through a poller hangup or the health scan.
func (r *Reader) sendCommand(c *connection, cmd []byte) {
	r.cmdBuf = cmd
	if err := c.send(cmd); err != nil {
		logs.Warnf("consumer: %s command write failed, err: %v", c.addr, err)
	}
}
