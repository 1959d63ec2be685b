package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PRENDIAX"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DatabaseDriverSQLite
	defaultDatabasePath      = "prendiax.db"
	defaultLogLevel          = "info"
	defaultTokenIssuer       = "prendiax-auth"
	defaultTokenAudience     = "prendiax-api"
	defaultTokenTTLMinutes   = 60 * 24 * 30
	defaultSessionCookieName = "prendiax_session"
	defaultSessionTTLHours   = 24 * 14
	defaultLegacyTokenPrefix = "jwt_app_"
	defaultGoogleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	defaultAppleJWKSURL      = "https://appleid.apple.com/auth/keys"
	defaultPushEndpoint      = "https://fcm.googleapis.com/fcm/send"
	defaultPushTimeout       = 10
	defaultS3Region          = "auto"
	defaultMediaMaxBytes     = 100 * 1024 * 1024
	defaultConnectRate       = 2.0
	defaultConnectBurst      = 10
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	TrustedProxies []string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel string

	SigningSecret     string
	TokenIssuer       string
	TokenAudience     string
	TokenTTL          time.Duration
	SessionCookieName string
	SessionTTL        time.Duration
	SessionSecure     bool
	LegacyTokens      bool
	LegacyTokenPrefix string

	GoogleClientID string
	GoogleJWKSURL  string
	AppleClientID  string
	AppleJWKSURL   string

	PushEndpoint  string
	PushServerKey string
	PushTimeout   time.Duration

	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	MediaMaxBytes     int64

	RealtimeConnectRate  float64
	RealtimeConnectBurst int
}

// PushEnabled reports whether device push delivery is configured.
func (c AppConfig) PushEnabled() bool {
	return strings.TrimSpace(c.PushEndpoint) != "" && strings.TrimSpace(c.PushServerKey) != ""
}

// MediaStorageEnabled reports whether an object store is configured for chat media.
func (c AppConfig) MediaStorageEnabled() bool {
	return strings.TrimSpace(c.S3Bucket) != "" && strings.TrimSpace(c.S3Endpoint) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("http.trusted_proxies", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.session_cookie_name", defaultSessionCookieName)
	configViper.SetDefault("auth.session_ttl_hours", defaultSessionTTLHours)
	configViper.SetDefault("auth.session_secure", false)
	configViper.SetDefault("auth.legacy_tokens", true)
	configViper.SetDefault("auth.legacy_token_prefix", defaultLegacyTokenPrefix)
	configViper.SetDefault("google.client_id", "")
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("apple.client_id", "")
	configViper.SetDefault("apple.jwks_url", defaultAppleJWKSURL)
	configViper.SetDefault("push.endpoint", defaultPushEndpoint)
	configViper.SetDefault("push.server_key", "")
	configViper.SetDefault("push.timeout_seconds", defaultPushTimeout)
	configViper.SetDefault("storage.s3_endpoint", "")
	configViper.SetDefault("storage.s3_region", defaultS3Region)
	configViper.SetDefault("storage.s3_bucket", "")
	configViper.SetDefault("storage.s3_access_key_id", "")
	configViper.SetDefault("storage.s3_secret_access_key", "")
	configViper.SetDefault("media.max_bytes", defaultMediaMaxBytes)
	configViper.SetDefault("realtime.connect_rate", defaultConnectRate)
	configViper.SetDefault("realtime.connect_burst", defaultConnectBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: normalizeList(configViper.GetStringSlice("http.allowed_origins")),
		TrustedProxies: normalizeList(configViper.GetStringSlice("http.trusted_proxies")),

		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),

		LogLevel: configViper.GetString("log.level"),

		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenIssuer:       configViper.GetString("auth.token_issuer"),
		TokenAudience:     configViper.GetString("auth.token_audience"),
		TokenTTL:          time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		SessionCookieName: configViper.GetString("auth.session_cookie_name"),
		SessionTTL:        time.Duration(configViper.GetInt("auth.session_ttl_hours")) * time.Hour,
		SessionSecure:     configViper.GetBool("auth.session_secure"),
		LegacyTokens:      configViper.GetBool("auth.legacy_tokens"),
		LegacyTokenPrefix: configViper.GetString("auth.legacy_token_prefix"),

		GoogleClientID: configViper.GetString("google.client_id"),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),
		AppleClientID:  configViper.GetString("apple.client_id"),
		AppleJWKSURL:   configViper.GetString("apple.jwks_url"),

		PushEndpoint:  configViper.GetString("push.endpoint"),
		PushServerKey: configViper.GetString("push.server_key"),
		PushTimeout:   time.Duration(configViper.GetInt("push.timeout_seconds")) * time.Second,

		S3Endpoint:        configViper.GetString("storage.s3_endpoint"),
		S3Region:          configViper.GetString("storage.s3_region"),
		S3Bucket:          configViper.GetString("storage.s3_bucket"),
		S3AccessKeyID:     configViper.GetString("storage.s3_access_key_id"),
		S3SecretAccessKey: configViper.GetString("storage.s3_secret_access_key"),
		MediaMaxBytes:     configViper.GetInt64("media.max_bytes"),

		RealtimeConnectRate:  configViper.GetFloat64("realtime.connect_rate"),
		RealtimeConnectBurst: configViper.GetInt("realtime.connect_burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.session_cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl_hours must be positive")
	}
	if c.LegacyTokens && strings.TrimSpace(c.LegacyTokenPrefix) == "" {
		return fmt.Errorf("auth.legacy_token_prefix is required when legacy tokens are enabled")
	}
	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("media.max_bytes must be positive")
	}
	if c.RealtimeConnectRate <= 0 || c.RealtimeConnectBurst <= 0 {
		return fmt.Errorf("realtime.connect_rate and realtime.connect_burst must be positive")
	}
	return nil
}

func normalizeList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
