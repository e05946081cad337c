// ABOUTME: Runtime configuration for crmsync loaded from .env and the environment
// ABOUTME: Paths default to XDG data directories; OAuth clients are optional per provider
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/go-playground/validator.v9"
)

// AppName names the XDG data directory.
const AppName = "crmsync"

// OAuthClient is one provider's registered app.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both halves of the client are present.
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config contains runtime configuration values.
type Config struct {
	DBPath         string        `validate:"required"`
	StateDir       string        `validate:"required"`
	BaseURL        string        `validate:"required,url"`
	HTTPAddr       string        `validate:"required"`
	StateSecret    string        `validate:"omitempty,min=16"`
	RequestTimeout time.Duration `validate:"gte=1000000000,lte=120000000000"`

	Salesforce         OAuthClient
	SalesforceLoginURL string `validate:"omitempty,url"`
	HubSpot            OAuthClient
	HubSpotAPIURL      string `validate:"omitempty,url"`
}

// DataDir is where the database and state store live by default.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		DBPath:         filepath.Join(DataDir(), "crmsync.db"),
		StateDir:       filepath.Join(DataDir(), "oauth-state"),
		BaseURL:        "http://localhost:8080",
		HTTPAddr:       "localhost:8080",
		RequestTimeout: 20 * time.Second,
	}
}

// Load reads an optional .env file, then the environment, and validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := env("CRMSYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := env("CRMSYNC_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := env("CRMSYNC_BASE_URL"); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	if v := env("CRMSYNC_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := env("CRMSYNC_STATE_SECRET"); v != "" {
		cfg.StateSecret = v
	}
	if v := env("CRMSYNC_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}

	cfg.Salesforce = OAuthClient{ClientID: env("SALESFORCE_CLIENT_ID"), ClientSecret: env("SALESFORCE_CLIENT_SECRET")}
	cfg.SalesforceLoginURL = env("SALESFORCE_LOGIN_URL")
	cfg.HubSpot = OAuthClient{ClientID: env("HUBSPOT_CLIENT_ID"), ClientSecret: env("HUBSPOT_CLIENT_SECRET")}
	cfg.HubSpotAPIURL = env("HUBSPOT_API_URL")
}

// CallbackURL is the redirect URI registered with a provider's OAuth app.
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL + "/oauth/" + provider + "/callback"
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
