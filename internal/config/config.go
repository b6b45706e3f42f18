package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server    ServerConfig    `env:",prefix=SERVER_"`
	Postgres  PostgresConfig  `env:",prefix=POSTGRES_"`
	Redis     RedisConfig     `env:",prefix=REDIS_"`
	JWT       JWTConfig       `env:",prefix=JWT_"`
	Vault     VaultConfig     `env:",prefix=VAULT_"`
	Sync      SyncConfig      `env:",prefix=SYNC_"`
	OAuth     OAuthConfig     `env:",prefix="`
	Kafka     KafkaConfig     `env:",prefix=KAFKA_"`
	Narrative NarrativeConfig `env:",prefix=NARRATIVE_"`
	Security  SecurityConfig  `env:",prefix="`
	CORS      CORSConfig      `env:",prefix=CORS_"`
	Env       string          `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=60s"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=data_vault"`
	Password string `env:"PASSWORD,default=data_vault_password"`
	DBName   string `env:"DB,default=data_vault_db"`
	SSLMode  string `env:"SSLMODE,default=disable"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

type JWTConfig struct {
	Secret            string   `env:"SECRET,required"`
	AccessTokenExpiry Duration `env:"ACCESS_TOKEN_EXPIRY,default=30d"`
}

// VaultConfig holds the credential vault key material.
// MasterKey is read once at startup and never mutated.
type VaultConfig struct {
	MasterKey     string   `env:"MASTER_KEY,required"`
	KeyVersion    int      `env:"KEY_VERSION,default=1"`
	RefreshMargin Duration `env:"REFRESH_MARGIN,default=5m"`
}

type SyncConfig struct {
	Timeout        Duration `env:"TIMEOUT,default=30m"`
	Interval       Duration `env:"INTERVAL,default=0s"`
	MaxConcurrency int      `env:"MAX_CONCURRENCY,default=8"`
	MaxRetries     int      `env:"MAX_RETRIES,default=4"`
	RetryBaseDelay Duration `env:"RETRY_BASE_DELAY,default=500ms"`
	RetryMaxDelay  Duration `env:"RETRY_MAX_DELAY,default=30s"`
	TriggerLimit   int      `env:"TRIGGER_LIMIT,default=6"`
	TriggerWindow  Duration `env:"TRIGGER_WINDOW,default=1m"`
}

type OAuthConfig struct {
	RedirectBaseURL string              `env:"REDIRECT_URI_BASE,default=http://localhost:3000"`
	AppURL          string              `env:"APP_URL,default=http://localhost:3000"`
	StateTTL        Duration            `env:"OAUTH_STATE_TTL,default=10m"`
	Spotify         OAuthProviderConfig `env:",prefix=SPOTIFY_"`
	Strava          OAuthProviderConfig `env:",prefix=STRAVA_"`
	Google          OAuthProviderConfig `env:",prefix=GOOGLE_"`
}

type OAuthProviderConfig struct {
	ClientID     string `env:"CLIENT_ID,default="`
	ClientSecret string `env:"CLIENT_SECRET,default="`
}

// Configured reports whether the provider has client credentials
func (o OAuthProviderConfig) Configured() bool {
	return o.ClientID != "" && o.ClientSecret != ""
}

type KafkaConfig struct {
	Brokers    []string `env:"BROKERS,default="`
	SyncTopic  string   `env:"SYNC_TOPIC,default=data_vault.sync_events"`
	PurgeTopic string   `env:"PURGE_TOPIC,default=data_vault.account_events"`
}

// Enabled reports whether at least one broker is configured
func (k KafkaConfig) Enabled() bool {
	for _, b := range k.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

type NarrativeConfig struct {
	Endpoint string   `env:"ENDPOINT,default="`
	APIKey   string   `env:"API_KEY,default="`
	Timeout  Duration `env:"TIMEOUT,default=10s"`
}

type SecurityConfig struct {
	BCryptCost        int      `env:"BCRYPT_COST,default=12"`
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=10"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL returns PostgreSQL connection URL, as expected by the migrator
func (p PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     p.DBName,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(config.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if len(config.Vault.MasterKey) < 32 {
		return nil, fmt.Errorf("VAULT_MASTER_KEY must be at least 32 characters long")
	}

	if config.Vault.KeyVersion < 1 || config.Vault.KeyVersion > 255 {
		return nil, fmt.Errorf("VAULT_KEY_VERSION must be between 1 and 255")
	}

	if config.Sync.MaxConcurrency < 1 {
		config.Sync.MaxConcurrency = 1
	}

	return &config, nil
}

// LoadWithDefaults loads configuration with default context
func LoadWithDefaults() (*Config, error) {
	return Load(context.Background())
}
