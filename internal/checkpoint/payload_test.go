package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_RoundTrip(t *testing.T) {
	in := &Payload{
		State: map[string]any{
			"questions": []any{"Which API version?", "Is auth needed?"},
			"nested":    map[string]any{"ok": true, "count": float64(3)},
			"note":      "résumé ✓",
		},
		Error:   "rate limit",
		Reason:  "failed",
		Attempt: 2,
	}
	data, err := EncodePayload(in)
	require.NoError(t, err)

	out, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodePayload_EmptyStateIsNotNil(t *testing.T) {
	out, err := DecodePayload([]byte(`{"reason":"suspended"}`))
	require.NoError(t, err)
	assert.NotNil(t, out.State)

	_, err = DecodePayload([]byte("not json"))
	assert.Error(t, err)
}

func TestCheckpoint_Newer(t *testing.T) {
	a := New("T1", "planning", nil)
	b := &Checkpoint{ID: a.ID + "Z", Timestamp: a.Timestamp}
	assert.True(t, b.Newer(a))
	assert.False(t, a.Newer(b))
}
