package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prperemyshlev/data-vault/internal/config"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"golang.org/x/oauth2"
)

// OAuthProvider describes the authorization server of one provider
type OAuthProvider struct {
	Provider     domain.Provider
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	Scopes       []string
	AuthParams   []oauth2.AuthCodeOption
}

// DefaultOAuthProviders returns the authorization servers of every configured provider
func DefaultOAuthProviders(cfg config.OAuthConfig) []OAuthProvider {
	var providers []OAuthProvider

	if cfg.Spotify.Configured() {
		providers = append(providers, OAuthProvider{
			Provider:     domain.ProviderSpotify,
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://accounts.spotify.com/authorize",
				TokenURL:  "https://accounts.spotify.com/api/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: []string{"user-read-recently-played", "user-read-playback-state"},
		})
	}
	if cfg.Strava.Configured() {
		providers = append(providers, OAuthProvider{
			Provider:     domain.ProviderStrava,
			ClientID:     cfg.Strava.ClientID,
			ClientSecret: cfg.Strava.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.strava.com/oauth/authorize",
				TokenURL:  "https://www.strava.com/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes:     []string{"activity:read_all"},
			AuthParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("approval_prompt", "auto")},
		})
	}
	if cfg.Google.Configured() {
		providers = append(providers, OAuthProvider{
			Provider:     domain.ProviderGoogleCalendar,
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL:  "https://oauth2.googleapis.com/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"https://www.googleapis.com/auth/calendar.readonly"},
			AuthParams: []oauth2.AuthCodeOption{
				oauth2.AccessTypeOffline,
				oauth2.SetAuthURLParam("prompt", "consent"),
			},
		})
	}
	return providers
}

// Grant is the outcome of an authorization code exchange
type Grant struct {
	Tokens domain.TokenPair
	token  *oauth2.Token
}

// Extra returns an additional field of the token response, e.g. Strava's athlete
func (g *Grant) Extra(key string) any {
	if g == nil || g.token == nil {
		return nil
	}
	return g.token.Extra(key)
}

// OAuthClient runs the authorization code flow and token refreshes for all providers.
// It implements vault.Refresher.
type OAuthClient struct {
	configs    map[domain.Provider]*oauth2.Config
	authParams map[domain.Provider][]oauth2.AuthCodeOption
	httpClient *http.Client
}

// NewOAuthClient creates a client; redirect URIs are <redirectBase>/oauth/callback/<provider>
func NewOAuthClient(redirectBase string, providers []OAuthProvider, httpClient *http.Client) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	c := &OAuthClient{
		configs:    make(map[domain.Provider]*oauth2.Config, len(providers)),
		authParams: make(map[domain.Provider][]oauth2.AuthCodeOption, len(providers)),
		httpClient: httpClient,
	}

	base := strings.TrimRight(redirectBase, "/")
	for _, p := range providers {
		c.configs[p.Provider] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Endpoint:     p.Endpoint,
			RedirectURL:  base + "/oauth/callback/" + string(p.Provider),
			Scopes:       p.Scopes,
		}
		c.authParams[p.Provider] = p.AuthParams
	}
	return c
}

// Configured reports whether provider has client credentials
func (c *OAuthClient) Configured(provider domain.Provider) bool {
	_, ok := c.configs[provider]
	return ok
}

// AuthCodeURL builds the provider consent URL carrying state
func (c *OAuthClient) AuthCodeURL(provider domain.Provider, state string) (string, error) {
	cfg, err := c.config(provider)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, c.authParams[provider]...), nil
}

// Exchange trades an authorization code for tokens
func (c *OAuthClient) Exchange(ctx context.Context, provider domain.Provider, code string) (*Grant, error) {
	cfg, err := c.config(provider)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%s code exchange failed: %w", provider, classifyTokenError(err))
	}
	return &Grant{Tokens: tokenPair(token), token: token}, nil
}

// Refresh exchanges a refresh token for a new token pair
func (c *OAuthClient) Refresh(ctx context.Context, provider domain.Provider, refreshToken string) (domain.TokenPair, error) {
	cfg, err := c.config(provider)
	if err != nil {
		return domain.TokenPair{}, err
	}

	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	token, err := cfg.TokenSource(c.withHTTPClient(ctx), expired).Token()
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%s token refresh failed: %w", provider, classifyTokenError(err))
	}
	return tokenPair(token), nil
}

func (c *OAuthClient) config(provider domain.Provider) (*oauth2.Config, error) {
	cfg, ok := c.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, domain.ErrProviderNotConfigured)
	}
	return cfg, nil
}

func (c *OAuthClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokenPair(token *oauth2.Token) domain.TokenPair {
	return domain.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

// classifyTokenError maps token endpoint failures without keeping the response body
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		switch {
		case retrieveErr.ErrorCode == "invalid_grant":
			return fmt.Errorf("invalid_grant: %w", domain.ErrAuthExpired)
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("status %d: %w", status, domain.ErrTransientProvider)
		case status >= 400:
			return fmt.Errorf("status %d: %w", status, domain.ErrAuthExpired)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientProvider, netError(err))
}
