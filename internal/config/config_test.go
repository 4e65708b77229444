package config

import (
	"os"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	content := `
kraken:
  api_url: "https://api.kraken.com"
  timeout: 20s
  max_retries: 2

trigger:
  poll_interval: 30s
  dry_run: true

telegram:
  bot_token: "test_token"
  recipients:
    - "12345678"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Kraken.Timeout != 20*time.Second {
		t.Errorf("Unexpected kraken timeout: %v", cfg.Kraken.Timeout)
	}
	if cfg.Trigger.PollInterval != 30*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.Trigger.PollInterval)
	}
	if !cfg.Trigger.DryRun {
		t.Error("Expected dry_run true")
	}
	if len(cfg.Telegram.Recipients) != 1 {
		t.Errorf("Expected 1 recipient, got %d", len(cfg.Telegram.Recipients))
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Kraken.APIURL != "https://api.kraken.com" {
		t.Errorf("Unexpected default API URL: %s", cfg.Kraken.APIURL)
	}
	if cfg.Trigger.PollInterval != time.Minute {
		t.Errorf("Unexpected default poll interval: %v", cfg.Trigger.PollInterval)
	}
	if cfg.Trigger.OHLCIntervalMins != 1440 {
		t.Errorf("Unexpected default OHLC interval: %d", cfg.Trigger.OHLCIntervalMins)
	}
	if cfg.Telegram.Enabled {
		t.Error("Telegram should default to disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty api url", func(c *Config) { c.Kraken.APIURL = "" }},
		{"tiny timeout", func(c *Config) { c.Kraken.Timeout = time.Millisecond }},
		{"zero retries", func(c *Config) { c.Kraken.MaxRetries = 0 }},
		{"tiny poll interval", func(c *Config) { c.Trigger.PollInterval = time.Second }},
		{"telegram without token", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.BotToken = ""
			c.Telegram.Recipients = []string{"1"}
		}},
		{"telegram without recipients", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.BotToken = "tok"
			c.Telegram.Recipients = nil
		}},
		{"empty db path", func(c *Config) { c.Storage.DBPath = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeTempConfig(t, "logging:\n  level: info\n"))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
