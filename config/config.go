package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"klineflow/internal/interval"
)

// DefaultConfigPath is used when no -config flag is given.
const DefaultConfigPath = "config/config.yml"

const (
	BudgetModeFixedWindow = "fixed_window"
	BudgetModeTokenBucket = "token_bucket"
)

type Config struct {
	Klineflow KlineflowConfig `yaml:"klineflow"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Source    SourceConfig    `yaml:"source"`
	Budget    BudgetConfig    `yaml:"budget"`
	Retry     RetryConfig     `yaml:"retry"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Progress  ProgressConfig  `yaml:"progress"`
}

type KlineflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FetchConfig describes what to download. Start and End accept
// "2006-01-02", "2006-01-02 15:04:05" or RFC3339 and are read as UTC.
type FetchConfig struct {
	Symbols      []string `yaml:"symbols"`
	Start        string   `yaml:"start"`
	End          string   `yaml:"end"`
	Interval     string   `yaml:"interval"`
	PageRowLimit int      `yaml:"page_row_limit"`
	Concurrency  int      `yaml:"concurrency"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
}

type BinanceSourceConfig struct {
	URL            string               `yaml:"url"`
	Timeout        time.Duration        `yaml:"timeout"`
	LocalIP        string               `yaml:"local_ip"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// BudgetConfig bounds the request rate. RequestsPerWindow 0 means the limit is
// discovered from exchangeInfo and divided by RequestWeight.
type BudgetConfig struct {
	Mode              string        `yaml:"mode"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	RequestWeight     int           `yaml:"request_weight"`
	Window            time.Duration `yaml:"window"`
	CoolDown          time.Duration `yaml:"cool_down"`
	Burst             int           `yaml:"burst"`
}

// RetryConfig controls how failed pages are retried. MaxAttempts 0 retries
// forever.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type WriterConfig struct {
	OutputDir string        `yaml:"output_dir"`
	CreateDir bool          `yaml:"create_dir"`
	Manifest  bool          `yaml:"manifest"`
	Formats   FormatsConfig `yaml:"formats"`
}

type FormatsConfig struct {
	CSV     CSVConfig     `yaml:"csv"`
	Parquet ParquetConfig `yaml:"parquet"`
	Chart   ChartConfig   `yaml:"chart"`
}

type CSVConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
	Parallelism int64  `yaml:"parallelism"`
}

type ChartConfig struct {
	Enabled bool `yaml:"enabled"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	UsedWeight bool             `yaml:"used_weight"`
	Progress   bool             `yaml:"progress"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Namespace       string        `yaml:"namespace"`
	Region          string        `yaml:"region"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type ProgressConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Klineflow: KlineflowConfig{Name: "klineflow", Version: "1.0"},
		Fetch: FetchConfig{
			Interval:     "1d",
			PageRowLimit: 1000,
			Concurrency:  1,
		},
		Source: SourceConfig{
			Binance: BinanceSourceConfig{
				URL:     "https://api.binance.com/api/v3/klines",
				Timeout: 30 * time.Second,
				ConnectionPool: ConnectionPoolConfig{
					MaxIdleConns:    10,
					MaxConnsPerHost: 10,
					IdleConnTimeout: 90 * time.Second,
				},
			},
		},
		Budget: BudgetConfig{
			Mode:              BudgetModeFixedWindow,
			RequestsPerWindow: 1200,
			RequestWeight:     2,
			Window:            time.Minute,
			CoolDown:          30 * time.Second,
			Burst:             1,
		},
		Retry: RetryConfig{
			BaseDelay:         30 * time.Second,
			MaxDelay:          5 * time.Minute,
			BackoffMultiplier: 1,
		},
		Writer: WriterConfig{
			OutputDir: "./ticker_data",
			Formats: FormatsConfig{
				CSV:     CSVConfig{Enabled: true},
				Parquet: ParquetConfig{Compression: "snappy", Parallelism: 4},
			},
		},
		Metrics: MetricsConfig{
			UsedWeight: true,
			Progress:   true,
			CloudWatch: CloudWatchConfig{Namespace: "KlineFlow", PublishInterval: 10 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Progress: ProgressConfig{Enabled: true},
	}
}

// Override mutates a loaded configuration before it is validated.
type Override func(*Config)

// LoadConfig reads the YAML file at path on top of Default, applies
// environment and caller overrides and validates the result.
func LoadConfig(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(ResolveConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	for _, o := range overrides {
		if o != nil {
			o(&config)
		}
	}
	normalize(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks a configuration built without LoadConfig.
func (c *Config) Validate() error {
	normalize(c)
	return validateConfig(c)
}

// Range parses the fetch start and end.
func (f FetchConfig) Range() (time.Time, time.Time, error) {
	start, err := ParseTime(f.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("fetch.start: %w", err)
	}
	end, err := ParseTime(f.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("fetch.end: %w", err)
	}
	return start, end, nil
}

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseTime parses s in one of the accepted layouts as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func applyEnvOverrides(config *Config) {
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func normalize(config *Config) {
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Budget.Mode = strings.ToLower(strings.TrimSpace(config.Budget.Mode))
	config.Writer.Formats.Parquet.Compression = strings.ToLower(strings.TrimSpace(config.Writer.Formats.Parquet.Compression))

	symbols := make([]string, 0, len(config.Fetch.Symbols))
	seen := make(map[string]struct{}, len(config.Fetch.Symbols))
	for _, s := range config.Fetch.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	config.Fetch.Symbols = symbols
}

func validateConfig(cfg *Config) error {
	if cfg.Klineflow.Name == "" {
		return fmt.Errorf("klineflow.name is required")
	}

	if len(cfg.Fetch.Symbols) == 0 {
		return fmt.Errorf("fetch.symbols must contain at least one symbol")
	}
	if _, err := interval.Parse(cfg.Fetch.Interval); err != nil {
		return fmt.Errorf("fetch.interval: %w", err)
	}
	start, end, err := cfg.Fetch.Range()
	if err != nil {
		return err
	}
	if !start.Before(end) {
		return fmt.Errorf("fetch.start must be before fetch.end")
	}
	if cfg.Fetch.PageRowLimit <= 0 || cfg.Fetch.PageRowLimit > 1000 {
		return fmt.Errorf("fetch.page_row_limit must be between 1 and 1000")
	}
	if cfg.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be greater than 0")
	}

	if cfg.Source.Binance.URL == "" {
		return fmt.Errorf("source.binance.url is required")
	}
	if cfg.Source.Binance.Timeout <= 0 {
		return fmt.Errorf("source.binance.timeout must be greater than 0")
	}

	switch cfg.Budget.Mode {
	case BudgetModeFixedWindow:
		if cfg.Budget.CoolDown < 0 {
			return fmt.Errorf("budget.cool_down must not be negative")
		}
	case BudgetModeTokenBucket:
		if cfg.Budget.Window <= 0 {
			return fmt.Errorf("budget.window must be greater than 0")
		}
	default:
		return fmt.Errorf("budget.mode must be %s or %s", BudgetModeFixedWindow, BudgetModeTokenBucket)
	}
	if cfg.Budget.RequestsPerWindow < 0 {
		return fmt.Errorf("budget.requests_per_window must not be negative")
	}
	if cfg.Budget.RequestWeight <= 0 {
		return fmt.Errorf("budget.request_weight must be greater than 0")
	}

	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if cfg.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}
	if cfg.Retry.MaxDelay > 0 && cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be below retry.base_delay")
	}

	if cfg.Writer.OutputDir == "" {
		return fmt.Errorf("writer.output_dir is required")
	}
	formats := cfg.Writer.Formats
	if !formats.CSV.Enabled && !formats.Parquet.Enabled && !formats.Chart.Enabled {
		return fmt.Errorf("writer.formats must enable at least one format")
	}
	if formats.Parquet.Enabled {
		switch formats.Parquet.Compression {
		case "", "snappy", "gzip", "uncompressed", "none":
		default:
			return fmt.Errorf("writer.formats.parquet.compression '%s' is not supported", formats.Parquet.Compression)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
