package rest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMessageIsWebhook tests webhook detection on decoded messages
func TestMessageIsWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want bool
	}{
		{"user message", `{"id":"1","channel_id":"2","content":"hi","timestamp":"2024-01-02T03:04:05Z"}`, false},
		{"webhook message", `{"id":"1","channel_id":"2","content":"hi","timestamp":"2024-01-02T03:04:05Z","webhook_id":"99"}`, true},
		{"null webhook", `{"id":"1","channel_id":"2","content":"hi","timestamp":"2024-01-02T03:04:05Z","webhook_id":null}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var m Message
			require.NoError(t, json.Unmarshal([]byte(tt.data), &m))
			assert.Equal(t, tt.want, m.IsWebhook())
		})
	}
}
