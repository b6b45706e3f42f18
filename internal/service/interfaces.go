package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/data-vault/internal/connector"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/dto"
)

// AuthService defines methods for user session operations
type AuthService interface {
	Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error)
	GetUser(ctx context.Context, userID string) (*dto.UserResponse, error)
	ValidateToken(ctx context.Context, token string) (*domain.TokenClaims, error)
}

// CredentialVault is the subset of the vault used by services
type CredentialVault interface {
	Store(ctx context.Context, conn *domain.Connection, tokens domain.TokenPair) error
	RefreshIfNeeded(ctx context.Context, conn *domain.Connection) (domain.TokenPair, error)
	ForceRefresh(ctx context.Context, conn *domain.Connection) (domain.TokenPair, error)
	Revoke(ctx context.Context, conn *domain.Connection) error
}

// ConnectorRegistry resolves provider connectors
type ConnectorRegistry interface {
	Get(provider domain.Provider) (connector.Connector, error)
}

// OAuthFlow runs the authorization code flow
type OAuthFlow interface {
	Configured(provider domain.Provider) bool
	AuthCodeURL(provider domain.Provider, state string) (string, error)
	Exchange(ctx context.Context, provider domain.Provider, code string) (*connector.Grant, error)
}

// StateStore keeps pending OAuth states until their callback consumes them
type StateStore interface {
	Save(ctx context.Context, state string, pending PendingConnection, ttl time.Duration) error
	Consume(ctx context.Context, state string) (*PendingConnection, error)
}

// Limiter decides whether a keyed action is within its budget
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Narrator turns summary numbers into a short text
type Narrator interface {
	Narrate(ctx context.Context, summary *Summary) (string, error)
}

// SyncCanceller stops the in-process run of a connection
type SyncCanceller interface {
	CancelAndWait(ctx context.Context, connectionID string) error
}
