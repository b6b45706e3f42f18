package repository

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.FixedZone("CET", 3600))
	token := EncodePageCursor(&PageCursor{RecordedAt: at, ID: "0b5c7f9e-1111-4c1e-9a55-2f7d3a2b6c01"})
	require.NotEmpty(t, token)

	decoded, err := DecodePageCursor(token)
	require.NoError(t, err)
	assert.True(t, at.Equal(decoded.RecordedAt))
	assert.Equal(t, "0b5c7f9e-1111-4c1e-9a55-2f7d3a2b6c01", decoded.ID)
}

func TestDecodePageCursorEmpty(t *testing.T) {
	decoded, err := DecodePageCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, decoded)
	assert.Empty(t, EncodePageCursor(nil))
}

func TestDecodePageCursorInvalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "not base64", token: "%%%"},
		{name: "missing separator", token: base64.RawURLEncoding.EncodeToString([]byte("2026-01-01T00:00:00Z"))},
		{name: "missing id", token: base64.RawURLEncoding.EncodeToString([]byte("2026-01-01T00:00:00Z|"))},
		{name: "bad time", token: base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePageCursor(tt.token)
			assert.Error(t, err)
		})
	}
}
