package domain

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// TokenClaims represents session JWT claims
type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Exp    int64  `json:"exp"`
	Iat    int64  `json:"iat"`
}

// IsExpired checks if the token is expired
func (tc TokenClaims) IsExpired() bool {
	return time.Now().Unix() > tc.Exp
}

// TokenPair is a decrypted provider OAuth token pair.
// Every textual rendering of it is redacted; only connectors read the fields.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExpiresWithin reports whether the access token expires before now+margin
func (t TokenPair) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(t.ExpiresAt)
}

func (t TokenPair) String() string {
	return "TokenPair{" + redacted + ", expires_at=" + t.ExpiresAt.UTC().Format(time.RFC3339) + "}"
}

func (t TokenPair) GoString() string {
	return t.String()
}

func (t TokenPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"access_token":  redacted,
		"refresh_token": redacted,
		"expires_at":    t.ExpiresAt,
	})
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (t TokenPair) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("access_token", redacted)
	enc.AddString("refresh_token", redacted)
	enc.AddTime("expires_at", t.ExpiresAt)
	return nil
}
