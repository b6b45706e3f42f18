// Package vault keeps provider OAuth tokens encrypted at rest and refreshes them before expiry.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/prperemyshlev/data-vault/pkg/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how long before expiry a token is refreshed
const DefaultRefreshMargin = 5 * time.Minute

// Refresher exchanges a refresh token for a new token pair.
// Implementations return domain.ErrAuthExpired when the grant was rejected
// and domain.ErrTransientProvider when the provider could not be reached.
type Refresher interface {
	Refresh(ctx context.Context, provider domain.Provider, refreshToken string) (domain.TokenPair, error)
}

// Vault is the only component that sees plaintext provider tokens
type Vault struct {
	creds     repository.CredentialRepository
	cipher    *Cipher
	refresher Refresher
	margin    time.Duration
	metrics   *observability.SyncMetrics
	logger    *zap.Logger
	now       func() time.Time

	refreshes singleflight.Group
}

// Option configures a Vault
type Option func(*Vault)

// WithRefreshMargin overrides DefaultRefreshMargin
func WithRefreshMargin(margin time.Duration) Option {
	return func(v *Vault) { v.margin = margin }
}

// WithMetrics attaches sync metrics
func WithMetrics(m *observability.SyncMetrics) Option {
	return func(v *Vault) { v.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New creates a new credential vault
func New(creds repository.CredentialRepository, cipher *Cipher, refresher Refresher, logger *zap.Logger, opts ...Option) *Vault {
	v := &Vault{
		creds:     creds,
		cipher:    cipher,
		refresher: refresher,
		margin:    DefaultRefreshMargin,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store encrypts tokens and replaces the connection's credential
func (v *Vault) Store(ctx context.Context, conn *domain.Connection, tokens domain.TokenPair) error {
	accessEnc, err := v.cipher.Seal(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	refreshEnc, err := v.cipher.Seal(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to seal refresh token: %w", err)
	}

	cred := &domain.Credential{
		ConnectionID:    conn.ID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		KeyVersion:      v.cipher.KeyVersion(),
		ExpiresAt:       tokens.ExpiresAt,
		UpdatedAt:       v.now().UTC(),
	}
	if err := v.creds.Put(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Get returns the decrypted tokens of a connection or repository.ErrNotFound
func (v *Vault) Get(ctx context.Context, conn *domain.Connection) (domain.TokenPair, error) {
	cred, err := v.creds.Get(ctx, conn.ID)
	if err != nil {
		return domain.TokenPair{}, err
	}

	access, err := v.cipher.Open(cred.AccessTokenEnc)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("failed to open access token: %w", err)
	}
	refresh, err := v.cipher.Open(cred.RefreshTokenEnc)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("failed to open refresh token: %w", err)
	}

	return domain.TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: cred.ExpiresAt}, nil
}

// RefreshIfNeeded returns valid tokens, refreshing them when they expire within the margin
func (v *Vault) RefreshIfNeeded(ctx context.Context, conn *domain.Connection) (domain.TokenPair, error) {
	tokens, err := v.Get(ctx, conn)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if !tokens.ExpiresWithin(v.now(), v.margin) {
		return tokens, nil
	}
	return v.refresh(ctx, conn, false)
}

// ForceRefresh refreshes the tokens regardless of their expiry, e.g. after a 401
func (v *Vault) ForceRefresh(ctx context.Context, conn *domain.Connection) (domain.TokenPair, error) {
	return v.refresh(ctx, conn, true)
}

// Revoke forgets the connection's credential
func (v *Vault) Revoke(ctx context.Context, conn *domain.Connection) error {
	if err := v.creds.Delete(ctx, conn.ID); err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	v.logger.Info("Credential revoked",
		zap.String("connection_id", conn.ID),
		zap.String("provider", string(conn.Provider)),
	)
	return nil
}

// refresh runs at most one exchange per connection at a time; concurrent callers share its result
func (v *Vault) refresh(ctx context.Context, conn *domain.Connection, force bool) (domain.TokenPair, error) {
	result, err, _ := v.refreshes.Do(conn.ID, func() (any, error) {
		tokens, err := v.Get(ctx, conn)
		if err != nil {
			return domain.TokenPair{}, err
		}
		if !force && !tokens.ExpiresWithin(v.now(), v.margin) {
			return tokens, nil
		}
		if tokens.RefreshToken == "" {
			v.metrics.TokenRefreshed(ctx, string(conn.Provider), domain.KindAuthExpired)
			return domain.TokenPair{}, fmt.Errorf("no refresh token stored: %w", domain.ErrAuthExpired)
		}

		fresh, err := v.refresher.Refresh(ctx, conn.Provider, tokens.RefreshToken)
		if err != nil {
			kind := domain.ErrorKind(err)
			v.metrics.TokenRefreshed(ctx, string(conn.Provider), kind)
			v.logger.Warn("Token refresh failed",
				zap.String("connection_id", conn.ID),
				zap.String("provider", string(conn.Provider)),
				zap.String("error_kind", kind),
			)
			if !errors.Is(err, domain.ErrAuthExpired) && !errors.Is(err, domain.ErrTransientProvider) {
				err = fmt.Errorf("%w: %v", domain.ErrTransientProvider, err)
			}
			return domain.TokenPair{}, err
		}

		// providers that do not rotate refresh tokens omit them from the response
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = tokens.RefreshToken
		}
		if err := v.Store(ctx, conn, fresh); err != nil {
			return domain.TokenPair{}, fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}

		v.metrics.TokenRefreshed(ctx, string(conn.Provider), "success")
		v.logger.Info("Token refreshed",
			zap.String("connection_id", conn.ID),
			zap.String("provider", string(conn.Provider)),
			zap.Time("expires_at", fresh.ExpiresAt),
		)
		return fresh, nil
	})
	if err != nil {
		return domain.TokenPair{}, err
	}
	return result.(domain.TokenPair), nil
}
