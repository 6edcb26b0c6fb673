package goSession

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Storage.AccessKey != "token" || cfg.Storage.RefreshKey != "refreshToken" {
		t.Fatalf("unexpected default storage keys %+v", cfg.Storage)
	}
	if cfg.API.BaseURL != "http://localhost:7000/api/v1" {
		t.Fatalf("unexpected default base URL %q", cfg.API.BaseURL)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "https base valid",
			mutate:    func(c *Config) { c.API.BaseURL = "https://api.example.com/v1" },
			wantValid: true,
		},
		{
			name:      "relative base invalid",
			mutate:    func(c *Config) { c.API.BaseURL = "/api/v1" },
			wantValid: false,
		},
		{
			name:      "ftp base invalid",
			mutate:    func(c *Config) { c.API.BaseURL = "ftp://example.com" },
			wantValid: false,
		},
		{
			name:      "login path without slash invalid",
			mutate:    func(c *Config) { c.API.LoginPath = "auth/login" },
			wantValid: false,
		},
		{
			name:      "negative timeout invalid",
			mutate:    func(c *Config) { c.API.Timeout = -time.Second },
			wantValid: false,
		},
		{
			name:      "empty access key invalid",
			mutate:    func(c *Config) { c.Storage.AccessKey = "" },
			wantValid: false,
		},
		{
			name:      "same keys invalid",
			mutate:    func(c *Config) { c.Storage.RefreshKey = c.Storage.AccessKey },
			wantValid: false,
		},
		{
			name:      "notify path valid",
			mutate:    func(c *Config) { c.Logout.NotifyPath = "/auth/logout" },
			wantValid: true,
		},
		{
			name: "notify path without timeout invalid",
			mutate: func(c *Config) {
				c.Logout.NotifyPath = "/auth/logout"
				c.Logout.NotifyTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "events enabled without buffer invalid",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigFromEnvOverlaysDefaults(t *testing.T) {
	t.Setenv("GOSESSION_API_BASE_URL", "https://api.example.com/v2/")
	t.Setenv("GOSESSION_API_TIMEOUT", "3s")
	t.Setenv("GOSESSION_STORAGE_ACCESS_KEY", "access")
	t.Setenv("GOSESSION_RENEWAL_REQUIRE_REFRESH_CREDENTIAL", "true")
	t.Setenv("GOSESSION_EVENTS_ENABLED", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}

	if cfg.API.BaseURL != "https://api.example.com/v2/" {
		t.Fatalf("unexpected base URL %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 3*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.API.Timeout)
	}
	if cfg.Storage.AccessKey != "access" || cfg.Storage.RefreshKey != "refreshToken" {
		t.Fatalf("unexpected storage keys %+v", cfg.Storage)
	}
	if !cfg.Renewal.RequireRefreshCredential || !cfg.Renewal.Enabled {
		t.Fatalf("unexpected renewal config %+v", cfg.Renewal)
	}
	if !cfg.Events.Enabled || cfg.Events.BufferSize != 256 {
		t.Fatalf("unexpected events config %+v", cfg.Events)
	}
	if cfg.API.LoginPath != "/auth/login" {
		t.Fatalf("expected unset variables to keep defaults, got %q", cfg.API.LoginPath)
	}
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("GOSESSION_API_TIMEOUT", "soon")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBuildConfigImmutabilityAgainstExternalMutation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "http://localhost:7000/api/v1/"

	client, err := New().WithConfig(cfg).WithLogger(discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer client.Close()

	cfg.API.LoginPath = "/elsewhere"

	got := client.Config()
	if got.API.LoginPath != "/auth/login" {
		t.Fatal("client config changed after external mutation")
	}
	if got.API.BaseURL != "http://localhost:7000/api/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", got.API.BaseURL)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "nope"
	if _, err := New().WithConfig(cfg).Build(context.Background()); err == nil {
		t.Fatal("expected Build to reject invalid config")
	}
}
