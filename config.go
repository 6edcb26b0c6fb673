package goSession

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every environment variable read by ConfigFromEnv.
const EnvPrefix = "GOSESSION_"

// Config holds every tunable of a Client.
//
// Config values are copied by Builder.WithConfig and treated as immutable
// after Build.
type Config struct {
	API     APIConfig     `envPrefix:"API_"`
	Storage StorageConfig `envPrefix:"STORAGE_"`
	Renewal RenewalConfig `envPrefix:"RENEWAL_"`
	Logout  LogoutConfig  `envPrefix:"LOGOUT_"`
	Events  EventsConfig  `envPrefix:"EVENTS_"`
	Metrics MetricsConfig `envPrefix:"METRICS_"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the remote API and shapes the login form.
type APIConfig struct {
	BaseURL      string        `env:"BASE_URL"`
	RegisterPath string        `env:"REGISTER_PATH"`
	LoginPath    string        `env:"LOGIN_PATH"`
	RefreshPath  string        `env:"REFRESH_PATH"`
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	Scope        string        `env:"SCOPE"`
	Timeout      time.Duration `env:"TIMEOUT"` // 0 disables the transport timeout
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig names the durable keys mirroring the session.
type StorageConfig struct {
	AccessKey  string `env:"ACCESS_KEY"`
	RefreshKey string `env:"REFRESH_KEY"`
}

/*
====================================
RENEWAL CONFIG
====================================
*/

// RenewalConfig controls the retry coordinator.
type RenewalConfig struct {
	// Enabled turns on renewal-and-replay for 401 responses. When false, 401
	// responses are returned to the caller untouched.
	Enabled bool `env:"ENABLED"`
	// RequireRefreshCredential makes renewal unavailable for sessions that
	// were established without a refresh credential.
	RequireRefreshCredential bool `env:"REQUIRE_REFRESH_CREDENTIAL"`
}

/*
====================================
LOGOUT CONFIG
====================================
*/

// LogoutConfig controls the best-effort server notification sent on logout.
type LogoutConfig struct {
	NotifyPath    string        `env:"NOTIFY_PATH"` // empty disables the notification
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT"`
}

/*
====================================
EVENTS / METRICS CONFIG
====================================
*/

// EventsConfig controls asynchronous event dispatch.
type EventsConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the configuration matching the reference API layout.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:      "http://localhost:7000/api/v1",
			RegisterPath: "/auth/register",
			LoginPath:    "/auth/login",
			RefreshPath:  "/auth/refresh",
		},
		Storage: StorageConfig{
			AccessKey:  "token",
			RefreshKey: "refreshToken",
		},
		Renewal: RenewalConfig{
			Enabled: true,
		},
		Logout: LogoutConfig{
			NotifyTimeout: 5 * time.Second,
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// ConfigFromEnv overlays GOSESSION_* environment variables on DefaultConfig.
// Unset variables keep their default values.
func ConfigFromEnv() (Config, error) {
	cfg := defaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// API
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" {
		return errors.New("API BaseURL must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("API BaseURL scheme must be http or https")
	}
	for name, p := range map[string]string{
		"RegisterPath": c.API.RegisterPath,
		"LoginPath":    c.API.LoginPath,
		"RefreshPath":  c.API.RefreshPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("API %s must start with /", name)
		}
	}
	if c.API.Timeout < 0 {
		return errors.New("API Timeout must be >= 0")
	}

	// Storage
	if c.Storage.AccessKey == "" || c.Storage.RefreshKey == "" {
		return errors.New("Storage keys must be non-empty")
	}
	if c.Storage.AccessKey == c.Storage.RefreshKey {
		return errors.New("Storage AccessKey and RefreshKey must differ")
	}

	// Logout
	if c.Logout.NotifyPath != "" && !strings.HasPrefix(c.Logout.NotifyPath, "/") {
		return errors.New("Logout NotifyPath must start with /")
	}
	if c.Logout.NotifyPath != "" && c.Logout.NotifyTimeout <= 0 {
		return errors.New("Logout NotifyTimeout must be > 0 when NotifyPath is set")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when enabled")
	}

	return nil
}
