package dto

import "github.com/prperemyshlev/data-vault/internal/domain"

// AuthResponse represents an authentication response
type AuthResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	User        UserInfo `json:"user"`
}

// UserInfo represents user information in response
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserResponse represents a user response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AuthorizeResponse carries the provider authorization URL
type AuthorizeResponse struct {
	AuthURL string `json:"auth_url"`
}

// SyncAcceptedResponse answers an accepted sync trigger
type SyncAcceptedResponse struct {
	Message  string          `json:"message"`
	Provider domain.Provider `json:"provider"`
	Status   string          `json:"status"`
}

// RecordsResponse is one page of records
type RecordsResponse struct {
	Records    []*domain.Record `json:"records"`
	NextCursor *string          `json:"next_cursor"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
