package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `klineflow:
  name: "TestApp"
  version: "1.0"
fetch:
  symbols: ["btcusdt", "ETHUSDT", "BTCUSDT", " "]
  start: "2021-01-01"
  end: "2021-01-05"
  interval: "1d"
storage:
  s3:
    enabled: false
`

// writeTempConfig writes content to a config file inside a test directory and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Klineflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Klineflow.Name)
	}
	if got := strings.Join(cfg.Fetch.Symbols, ","); got != "BTCUSDT,ETHUSDT" {
		t.Errorf("symbols not normalised: %s", got)
	}
	if cfg.Fetch.PageRowLimit != 1000 {
		t.Errorf("expected default page row limit, got %d", cfg.Fetch.PageRowLimit)
	}
	if cfg.Budget.RequestsPerWindow != 1200 || cfg.Budget.CoolDown != 30*time.Second {
		t.Errorf("unexpected budget defaults: %+v", cfg.Budget)
	}
	if cfg.Writer.OutputDir != "./ticker_data" || !cfg.Writer.Formats.CSV.Enabled {
		t.Errorf("unexpected writer defaults: %+v", cfg.Writer)
	}
	if cfg.Retry.MaxAttempts != 0 {
		t.Errorf("expected unbounded retries by default, got %d", cfg.Retry.MaxAttempts)
	}

	start, end, err := cfg.Fetch.Range()
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if !start.Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected range %s - %s", start, end)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path, func(c *Config) {
		c.Fetch.Symbols = []string{"solusdt"}
		c.Fetch.Interval = "15m"
	})
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Fetch.Symbols) != 1 || cfg.Fetch.Symbols[0] != "SOLUSDT" {
		t.Errorf("override not applied: %v", cfg.Fetch.Symbols)
	}
	if cfg.Fetch.Interval != "15m" {
		t.Errorf("override not applied: %s", cfg.Fetch.Interval)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name     string
		override Override
		want     string
	}{
		{"bad interval", func(c *Config) { c.Fetch.Interval = "1w" }, "fetch.interval"},
		{"inverted range", func(c *Config) { c.Fetch.Start, c.Fetch.End = c.Fetch.End, c.Fetch.Start }, "fetch.start must be before fetch.end"},
		{"equal range", func(c *Config) { c.Fetch.End = c.Fetch.Start }, "fetch.start must be before fetch.end"},
		{"no symbols", func(c *Config) { c.Fetch.Symbols = nil }, "fetch.symbols"},
		{"page limit", func(c *Config) { c.Fetch.PageRowLimit = 1001 }, "fetch.page_row_limit"},
		{"budget mode", func(c *Config) { c.Budget.Mode = "sliding" }, "budget.mode"},
		{"backoff", func(c *Config) { c.Retry.BackoffMultiplier = 0 }, "retry.backoff_multiplier"},
		{"no formats", func(c *Config) { c.Writer.Formats.CSV.Enabled = false }, "writer.formats"},
		{"bad start", func(c *Config) { c.Fetch.Start = "yesterday" }, "fetch.start"},
		{"s3 bucket", func(c *Config) {
			c.Storage.S3 = S3Config{Enabled: true, Bucket: "Bad_Bucket", Region: "us-east-1", AccessKeyID: "a", SecretAccessKey: "b"}
		}, "storage.s3.bucket"},
	}

	path := writeTempConfig(t, minimalConfig)
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(path, c.override)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("expected error mentioning %q, got %v", c.want, err)
			}
		})
	}
}

func TestLoadConfigS3EnvOverrides(t *testing.T) {
	content := minimalConfig + `    bucket: "from-file"
`
	content = strings.Replace(content, "enabled: false", "enabled: true", 1)
	path := writeTempConfig(t, content)

	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("S3_BUCKET", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.S3.Bucket != "from-env" || cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("env overrides not applied: %+v", cfg.Storage.S3)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseTime(t *testing.T) {
	cases := map[string]time.Time{
		"2021-01-01":           time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		"2021-01-01 12:30:00":  time.Date(2021, 1, 1, 12, 30, 0, 0, time.UTC),
		"2021-01-01T12:30:00Z": time.Date(2021, 1, 1, 12, 30, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTime(in)
		if err != nil {
			t.Fatalf("ParseTime(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseTime(""); err == nil {
		t.Errorf("expected error for empty time")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path must win, got %s", got)
	}
	// The production file does not exist relative to the package directory.
	if got := ResolveConfigPath(DefaultConfigPath); got != DefaultConfigPath {
		t.Errorf("expected fallback to default path, got %s", got)
	}
	if AppEnvironment() != EnvironmentProduction {
		t.Errorf("expected production alias, got %s", AppEnvironment())
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Errorf("production must be production-like")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
