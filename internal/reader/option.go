package reader

import (
	"os"
	"strings"
	"time"

	"main/internal/obs"
	"main/internal/protocol"
)

const (
	defaultMaxInFlight    = 1
	defaultRequeueDelay   = 90 * time.Second
	defaultDialTimeout    = 5 * time.Second
	defaultPollTimeout    = time.Second
	defaultHealthInterval = 5 * time.Second
	defaultReadChunkSize  = 8 << 10
	defaultMaxFrameSize   = 16 << 20
)

// MessageHandler processes one delivered message. ok acknowledges the
// message; otherwise it is requeued after delay. Handlers run on the
// event-loop goroutine, so a slow handler stalls every connection for
// its duration.
type MessageHandler func(msg *protocol.Message) (ok bool, delay time.Duration)

// FinishHook observes every acknowledged message.
type FinishHook func(addr string, msg *protocol.Message)

// RequeueHook observes every requeued message with its effective delay.
type RequeueHook func(addr string, msg *protocol.Message, delay time.Duration)

// Option defines the reader runtime configuration. The zero value is
// usable; init fills defaults.
type Option struct {
	// Channel is the channel to subscribe. Optional; defaults to the topic.
	Channel string
	// MaxInFlight is the RDY count granted per connection. Optional; default 1.
	MaxInFlight int
	// RequeueDelay is used when the handler fails without naming a
	// delay, or panics. Optional; default 90s.
	RequeueDelay time.Duration
	// DialTimeout bounds the blocking connect to a broker. Optional; default 5s.
	DialTimeout time.Duration
	// PollTimeout bounds each readiness wait so housekeeping runs even
	// when no socket is active. Optional; default 1s.
	PollTimeout time.Duration
	// HealthInterval is both the scan period and the age at which a
	// connecting/disconnected record is redialed. Optional; default 5s.
	HealthInterval time.Duration
	// ReadChunkSize caps a single socket read. Optional; default 8 KiB.
	ReadChunkSize int
	// MaxFrameSize caps the frame length prefix; larger (or negative)
	// prefixes close the connection. Optional; default 16 MiB.
	MaxFrameSize int
	// ShortID and LongID identify the client in the SUB handshake.
	// Optional; default host short name / full hostname.
	ShortID string
	LongID  string
	// OnFinish and OnRequeue observe message outcomes. Optional.
	OnFinish  FinishHook
	OnRequeue RequeueHook
	// Metrics receives counters and handler latency. Optional; a
	// private container is allocated when nil.
	Metrics *obs.Metrics
}

func (opt *Option) init(topic string) {
	if opt.Channel == "" {
		opt.Channel = topic
	}
	if opt.MaxInFlight <= 0 {
		opt.MaxInFlight = defaultMaxInFlight
	}
	if opt.RequeueDelay <= 0 {
		opt.RequeueDelay = defaultRequeueDelay
	}
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = defaultDialTimeout
	}
	if opt.PollTimeout <= 0 {
		opt.PollTimeout = defaultPollTimeout
	}
	if opt.HealthInterval <= 0 {
		opt.HealthInterval = defaultHealthInterval
	}
	if opt.ReadChunkSize <= 0 {
		opt.ReadChunkSize = defaultReadChunkSize
	}
	if opt.MaxFrameSize <= 0 {
		opt.MaxFrameSize = defaultMaxFrameSize
	}
	if opt.ShortID == "" || opt.LongID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		if opt.LongID == "" {
			opt.LongID = hostname
		}
		if opt.ShortID == "" {
			opt.ShortID, _, _ = strings.Cut(hostname, ".")
		}
	}
	if opt.Metrics == nil {
		opt.Metrics = obs.NewMetrics()
	}
}
