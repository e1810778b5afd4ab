package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"topic": "events",
		"channel": "workers",
		"brokers": ["127.0.0.1:4150", "127.0.0.1:4151"],
		"maxInFlight": 4,
		"requeueDelaySeconds": 30,
		"pollTimeoutMillis": 250,
		"healthIntervalSeconds": 10,
		"archive": {"enabled": true, "database": "mq", "user": "mq"}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "events", loaded.Topic)
	assert.Equal(t, "workers", loaded.Channel)
	assert.Len(t, loaded.Brokers, 2)
	assert.Equal(t, 4, loaded.MaxInFlight)
	assert.Equal(t, 30*time.Second, loaded.RequeueDelay)
	assert.Equal(t, 250*time.Millisecond, loaded.PollTimeout)
	assert.Equal(t, 10*time.Second, loaded.HealthInterval)
	assert.True(t, loaded.Archive.Enabled)
}

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `{"topic": "events", "brokers": ["127.0.0.1:4150"]}`)
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.Channel)
	assert.Zero(t, loaded.RequeueDelay) // reader defaults apply downstream
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing topic", `{"brokers": ["127.0.0.1:4150"]}`},
		{"bad topic", `{"topic": "bad topic", "brokers": ["127.0.0.1:4150"]}`},
		{"bad channel", `{"topic": "events", "channel": "bad channel", "brokers": ["127.0.0.1:4150"]}`},
		{"no brokers", `{"topic": "events"}`},
		{"bare broker host", `{"topic": "events", "brokers": ["localhost"]}`},
		{"negative tuning", `{"topic": "events", "brokers": ["127.0.0.1:4150"], "maxInFlight": -1}`},
		{"archive without database", `{"topic": "events", "brokers": ["127.0.0.1:4150"], "archive": {"enabled": true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
