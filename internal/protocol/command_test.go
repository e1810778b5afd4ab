package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendCommands(t *testing.T) {
	var id MessageID
	copy(id[:], "0123456789abcdef")

	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{"subscribe", AppendSubscribe(nil, "events", "workers", "host", "host.local"), "SUB events workers host host.local\n"},
		{"ready", AppendReady(nil, 5), "RDY 5\n"},
		{"finish", AppendFinish(nil, id), "FIN 0123456789abcdef\n"},
		{"requeue", AppendRequeue(nil, id, 2500), "REQ 0123456789abcdef 2500\n"},
		{"requeue zero delay", AppendRequeue(nil, id, 0), "REQ 0123456789abcdef 0\n"},
		{"nop", AppendNop(nil), "NOP\n"},
		{"close", AppendStartClose(nil), "CLS\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.got))
		})
	}
}

func TestAppendReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	out := AppendNop(buf)
	assert.Equal(t, "NOP\n", string(out))
	out = AppendReady(out[:0], 1)
	assert.Equal(t, "RDY 1\n", string(out))
}

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"events", true},
		{"events.v2", true},
		{"work_queue-1", true},
		{"", false},
		{"has space", false},
		{"has/slash", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},  // 64
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 65
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.valid, IsValidName(tt.name), "name %q", tt.name)
	}
}
