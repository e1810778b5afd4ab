// Package ops loads and validates the consumer's runtime
// configuration.
package ops

import (
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/protocol"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Topic                string        `json:"topic"`
	Channel              string        `json:"channel"`
	Brokers              []string      `json:"brokers"`
	MaxInFlight          int           `json:"maxInFlight"`
	RequeueDelaySeconds  int           `json:"requeueDelaySeconds"`
	PollTimeoutMillis    int           `json:"pollTimeoutMillis"`
	HealthIntervalSecond int           `json:"healthIntervalSeconds"`
	Archive              ArchiveConfig `json:"archive"`
}

// ArchiveConfig describes the optional outcome archive.
type ArchiveConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	SSLMode    string `json:"sslMode"`
	QueueSize  int    `json:"queueSize"`
	ConnString string `json:"connString"`
}

// Loaded is the resolved configuration ready for use. Zero durations
// mean the reader defaults apply.
type Loaded struct {
	Topic          string
	Channel        string
	Brokers        []string
	MaxInFlight    int
	RequeueDelay   time.Duration
	PollTimeout    time.Duration
	HealthInterval time.Duration
	Archive        ArchiveConfig
}

// Load reads a JSON config file and validates it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	if !protocol.IsValidName(cfg.Topic) {
		return Loaded{}, errors.Errorf("invalid topic: %q", cfg.Topic)
	}
	if cfg.Channel != "" && !protocol.IsValidName(cfg.Channel) {
		return Loaded{}, errors.Errorf("invalid channel: %q", cfg.Channel)
	}
	if len(cfg.Brokers) == 0 {
		return Loaded{}, errors.New("no brokers configured")
	}
	for _, addr := range cfg.Brokers {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Loaded{}, errors.Wrap(err, "broker address").With("addr", addr)
		}
	}
	if cfg.MaxInFlight < 0 || cfg.RequeueDelaySeconds < 0 || cfg.PollTimeoutMillis < 0 || cfg.HealthIntervalSecond < 0 {
		return Loaded{}, errors.New("negative tuning values are not allowed")
	}
	if cfg.Archive.Enabled && cfg.Archive.Database == "" && cfg.Archive.ConnString == "" {
		return Loaded{}, errors.New("archive enabled without a database")
	}

	return Loaded{
		Topic:          cfg.Topic,
		Channel:        cfg.Channel,
		Brokers:        cfg.Brokers,
		MaxInFlight:    cfg.MaxInFlight,
		RequeueDelay:   time.Duration(cfg.RequeueDelaySeconds) * time.Second,
		PollTimeout:    time.Duration(cfg.PollTimeoutMillis) * time.Millisecond,
		HealthInterval: time.Duration(cfg.HealthIntervalSecond) * time.Second,
		Archive:        cfg.Archive,
	}, nil
}
