package config

import (
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		Port:                 "8080",
		DatabaseType:         "sqlite",
		DatabasePath:         "./test.db",
		JWTSecret:            "this-is-a-test-secret-at-least-32-chars",
		EncryptionKey:        "test-encryption-key",
		RefreshTriggerSecret: "trigger-secret",
		PMSTokenURL:          "https://pms.example.com/auth/token",
		GrantTimeout:         15 * time.Second,
		RefreshWindow:        2 * time.Hour,
		RefreshCadence:       20 * time.Hour,
		BatchTimeout:         10 * time.Minute,
		BatchWorkers:         10,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REFRESH_TRIGGER_SECRET", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DatabaseType != "sqlite" {
		t.Errorf("expected default database type sqlite, got %s", cfg.DatabaseType)
	}
	if cfg.GrantTimeout != 15*time.Second {
		t.Errorf("expected default grant timeout 15s, got %v", cfg.GrantTimeout)
	}
	if cfg.RefreshWindow != 2*time.Hour {
		t.Errorf("expected default refresh window 2h, got %v", cfg.RefreshWindow)
	}
	if cfg.RefreshCadence != 20*time.Hour {
		t.Errorf("expected default cadence 20h, got %v", cfg.RefreshCadence)
	}
	if cfg.BatchWorkers != 10 {
		t.Errorf("expected default batch workers 10, got %d", cfg.BatchWorkers)
	}
	if !cfg.SelfScheduleEnabled {
		t.Error("expected self scheduling to default on when no trigger secret is set")
	}
}

func TestLoad_SelfScheduleFollowsTriggerSecret(t *testing.T) {
	t.Setenv("REFRESH_TRIGGER_SECRET", "external-cron-secret")

	cfg := Load()

	if cfg.SelfScheduleEnabled {
		t.Error("expected self scheduling off when an external trigger secret is configured")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REFRESH_WINDOW", "1h")
	t.Setenv("BATCH_WORKERS", "4")
	t.Setenv("SELF_SCHEDULE_ENABLED", "true")
	t.Setenv("REFRESH_TRIGGER_SECRET", "secret")

	cfg := Load()

	if cfg.RefreshWindow != time.Hour {
		t.Errorf("expected refresh window 1h, got %v", cfg.RefreshWindow)
	}
	if cfg.BatchWorkers != 4 {
		t.Errorf("expected 4 batch workers, got %d", cfg.BatchWorkers)
	}
	if !cfg.SelfScheduleEnabled {
		t.Error("expected explicit SELF_SCHEDULE_ENABLED to win")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, true},
		{"missing encryption key", func(c *Config) { c.EncryptionKey = "" }, true},
		{"missing token url", func(c *Config) { c.PMSTokenURL = "" }, true},
		{"invalid port", func(c *Config) { c.Port = "99999" }, true},
		{"invalid database type", func(c *Config) { c.DatabaseType = "oracle" }, true},
		{"postgres without host", func(c *Config) {
			c.DatabaseType = "postgres"
			c.PostgresHost = ""
		}, true},
		{"postgres valid", func(c *Config) {
			c.DatabaseType = "postgres"
			c.PostgresHost = "db.internal"
			c.PostgresDB = "credsync"
			c.PostgresUser = "app"
			c.PostgresPort = "5432"
		}, false},
		{"invalid redis db", func(c *Config) {
			c.RedisAddress = "localhost:6379"
			c.RedisDB = "42"
		}, true},
		{"zero workers", func(c *Config) { c.BatchWorkers = 0 }, true},
		{"negative window", func(c *Config) { c.RefreshWindow = -time.Hour }, true},
		{"no trigger path at all", func(c *Config) {
			c.RefreshTriggerSecret = ""
			c.SelfScheduleEnabled = false
		}, true},
		{"self schedule only", func(c *Config) {
			c.RefreshTriggerSecret = ""
			c.SelfScheduleEnabled = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}
