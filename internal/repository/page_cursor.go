package repository

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// PageCursor is the keyset position of the last record of a listing page
type PageCursor struct {
	RecordedAt time.Time
	ID         string
}

// EncodePageCursor serialises the cursor to a URL-safe token
func EncodePageCursor(c *PageCursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", c.RecordedAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodePageCursor parses a token produced by EncodePageCursor; an empty token yields nil
func DecodePageCursor(token string) (*PageCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid page cursor: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid page cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid page cursor time: %w", err)
	}
	return &PageCursor{RecordedAt: ts, ID: parts[1]}, nil
}
