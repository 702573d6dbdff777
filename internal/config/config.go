// Package config provides centralized configuration management for the application.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultScopes requests offline access plus the read and write
	// permissions the bulk operations need.
	DefaultScopes = "offline_access read:jira-user read:jira-work write:jira-work"

	// DefaultAuthURL is the provider's authorization server.
	DefaultAuthURL = "https://auth.atlassian.com"

	// DefaultAPIURL is the gateway all API traffic goes through.
	DefaultAPIURL = "https://api.atlassian.com"
)

// Config holds all configuration parameters for the application.
type Config struct {
	Tracker TrackerConfig
	Storage StorageConfig
}

// TrackerConfig holds OAuth client and tracker API configuration.
type TrackerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	AuthURL      string
	APIURL       string

	HTTPTimeout   time.Duration
	RefreshMargin time.Duration
}

// StorageConfig holds datastore and encryption configuration.
type StorageConfig struct {
	// DatabaseURL selects the backend: postgres:// URLs use Postgres,
	// anything else is treated as an SQLite file path.
	DatabaseURL string

	// EncryptionKey is the decoded 32-byte key credentials are sealed with.
	EncryptionKey []byte
}

// Confidential reports whether the OAuth client has a secret and must
// authenticate itself at the token endpoint.
func (t TrackerConfig) Confidential() bool {
	return t.ClientSecret != ""
}

// LoadConfig initializes and loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	// Initialize Viper for environment variables
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map specific environment variables
	v.BindEnv("tracker.client_id", "ATLASSIAN_CLIENT_ID")
	v.BindEnv("tracker.client_secret", "ATLASSIAN_CLIENT_SECRET")
	v.BindEnv("tracker.redirect_uri", "ATLASSIAN_REDIRECT_URI")
	v.BindEnv("tracker.scopes", "ATLASSIAN_SCOPES")
	v.BindEnv("tracker.auth_url", "ATLASSIAN_AUTH_URL")
	v.BindEnv("tracker.api_url", "ATLASSIAN_API_URL")
	v.BindEnv("tracker.http_timeout", "HTTP_TIMEOUT")
	v.BindEnv("tracker.refresh_margin", "REFRESH_MARGIN")
	v.BindEnv("storage.database_url", "DATABASE_URL")
	v.BindEnv("storage.encryption_key", "ENCRYPTION_KEY")

	v.SetDefault("tracker.scopes", DefaultScopes)
	v.SetDefault("tracker.auth_url", DefaultAuthURL)
	v.SetDefault("tracker.api_url", DefaultAPIURL)
	v.SetDefault("tracker.http_timeout", "40s")
	v.SetDefault("tracker.refresh_margin", "60s")
	v.SetDefault("storage.database_url", "jiractl.db")

	// Create config structure
	config := &Config{
		Tracker: TrackerConfig{
			ClientID:      v.GetString("tracker.client_id"),
			ClientSecret:  v.GetString("tracker.client_secret"),
			RedirectURI:   v.GetString("tracker.redirect_uri"),
			Scopes:        v.GetString("tracker.scopes"),
			AuthURL:       strings.TrimRight(v.GetString("tracker.auth_url"), "/"),
			APIURL:        strings.TrimRight(v.GetString("tracker.api_url"), "/"),
			HTTPTimeout:   v.GetDuration("tracker.http_timeout"),
			RefreshMargin: v.GetDuration("tracker.refresh_margin"),
		},
		Storage: StorageConfig{
			DatabaseURL: v.GetString("storage.database_url"),
		},
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	key, err := decodeEncryptionKey(v.GetString("storage.encryption_key"))
	if err != nil {
		return nil, err
	}
	config.Storage.EncryptionKey = key

	return config, nil
}

// validateConfig ensures that all required configuration values are provided.
func validateConfig(config *Config) error {
	var missingVars []string

	if config.Tracker.ClientID == "" {
		missingVars = append(missingVars, "ATLASSIAN_CLIENT_ID")
	}
	if config.Tracker.RedirectURI == "" {
		missingVars = append(missingVars, "ATLASSIAN_REDIRECT_URI")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}

// decodeEncryptionKey decodes the base64 encryption key and checks its size.
// The error never echoes the key material itself.
func decodeEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("missing required environment variables: [ENCRYPTION_KEY]")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid base64")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	return key, nil
}
