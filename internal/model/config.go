package model

import (
	"fmt"
	"time"

	"dario.cat/mergo"
)

// Config is the complete run configuration. It is built once and passed by
// value into every component.
type Config struct {
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Realtime   RealtimeConfig   `yaml:"realtime" mapstructure:"realtime"`
	Broker     BrokerConfig     `yaml:"broker" mapstructure:"broker"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Reports    ReportsConfig    `yaml:"reports" mapstructure:"reports"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ScrapeConfig controls what a run does
type ScrapeConfig struct {
	Module   string   `yaml:"module" mapstructure:"module"`
	Actions  []string `yaml:"actions" mapstructure:"actions"` // scrape, import
	Strict   bool     `yaml:"strict" mapstructure:"strict"`
	Fast     bool     `yaml:"fast" mapstructure:"fast"`
	Backfill []string `yaml:"backfill" mapstructure:"backfill"`
	Handler  string   `yaml:"handler" mapstructure:"handler"` // Custom output handler name
}

// HTTPConfig tunes the underlying HTTP client
type HTTPConfig struct {
	Timeout          time.Duration  `yaml:"timeout" mapstructure:"timeout"`
	UserAgents       []string       `yaml:"user_agents" mapstructure:"user_agents"`
	RequestsPerMin   int            `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	HostRates        map[string]int `yaml:"host_requests_per_minute" mapstructure:"host_requests_per_minute"`
	VerifyTLS        bool           `yaml:"verify_tls" mapstructure:"verify_tls"`
	CloudflareBypass bool           `yaml:"cloudflare_bypass" mapstructure:"cloudflare_bypass"`
	RespectRobots    bool           `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy        string         `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy       string         `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy          string         `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// ResilienceConfig holds retry, circuit breaker and pacing settings
type ResilienceConfig struct {
	MaxRetries       int           `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	JitterMin        float64       `yaml:"jitter_min" mapstructure:"jitter_min"`
	JitterMax        float64       `yaml:"jitter_max" mapstructure:"jitter_max"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	RotateInterval   time.Duration `yaml:"rotate_interval" mapstructure:"rotate_interval"`
	DelayMin         time.Duration `yaml:"delay_min" mapstructure:"delay_min"`
	DelayMax         time.Duration `yaml:"delay_max" mapstructure:"delay_max"`
	FailureDelayMin  time.Duration `yaml:"failure_delay_min" mapstructure:"failure_delay_min"`
	FailureDelayMax  time.Duration `yaml:"failure_delay_max" mapstructure:"failure_delay_max"`
}

// CacheConfig controls the fast-mode HTTP response cache
type CacheConfig struct {
	Dir string        `yaml:"dir" mapstructure:"dir"`
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// OutputConfig controls local file output
type OutputConfig struct {
	DataDir  string `yaml:"data_dir" mapstructure:"data_dir"`
	ClearDir bool   `yaml:"clear_dir" mapstructure:"clear_dir"`
}

// RealtimeConfig controls streaming to blob storage and the notification queue
type RealtimeConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Bucket       string        `yaml:"bucket" mapstructure:"bucket"`
	QueueURL     string        `yaml:"queue_url" mapstructure:"queue_url"`
	QueueDelay   time.Duration `yaml:"queue_delay" mapstructure:"queue_delay"`
	BulkBucket   string        `yaml:"bulk_bucket" mapstructure:"bulk_bucket"`
	BulkPrefix   string        `yaml:"bulk_prefix" mapstructure:"bulk_prefix"`
	BulkInterval time.Duration `yaml:"bulk_interval" mapstructure:"bulk_interval"`
	DataClasses  []string      `yaml:"data_classes" mapstructure:"data_classes"`
}

// BrokerConfig selects the message broker destination
type BrokerConfig struct {
	URL           string        `yaml:"url" mapstructure:"url"`
	SubjectPrefix string        `yaml:"subject_prefix" mapstructure:"subject_prefix"`
	Linger        time.Duration `yaml:"linger" mapstructure:"linger"`
	FlushTimeout  time.Duration `yaml:"flush_timeout" mapstructure:"flush_timeout"`
}

// Enabled reports whether a broker destination is configured
func (b BrokerConfig) Enabled() bool {
	return b.URL != ""
}

// ArchiveConfig controls end-of-run cold storage copies
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
}

// DedupConfig points the fast-mode dedup check at a search index
type DedupConfig struct {
	Addresses []string      `yaml:"addresses" mapstructure:"addresses"`
	Username  string        `yaml:"username" mapstructure:"username"`
	Password  string        `yaml:"password" mapstructure:"password"`
	Index     string        `yaml:"index" mapstructure:"index"`
	PageSize  int           `yaml:"page_size" mapstructure:"page_size"`
	ScrollTTL time.Duration `yaml:"scroll_ttl" mapstructure:"scroll_ttl"`
}

// BlobConfig selects the blob storage driver
type BlobConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // s3, fs, memory
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Root     string `yaml:"root" mapstructure:"root"` // fs driver base directory

	// Static credentials; the default AWS chain is used when empty
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

// ReportsConfig selects where run reports are persisted
type ReportsConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // file, sqlite, postgres
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
}

// MetricsConfig controls run metrics
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// LogConfig controls logging
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Scrape: ScrapeConfig{
			Actions: []string{"scrape"},
			Strict:  true,
		},
		HTTP: HTTPConfig{
			Timeout: 60 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
				"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Edg/124.0",
			},
			RequestsPerMin: 60,
			VerifyTLS:      true,
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			InitialBackoff:   10 * time.Second,
			MaxBackoff:       120 * time.Second,
			JitterMin:        0.8,
			JitterMax:        1.2,
			FailureThreshold: 3,
			Cooldown:         120 * time.Second,
			RotateInterval:   600 * time.Second,
			DelayMin:         1 * time.Second,
			DelayMax:         3 * time.Second,
			FailureDelayMin:  5 * time.Second,
			FailureDelayMax:  15 * time.Second,
		},
		Cache: CacheConfig{
			Dir: "_cache",
			TTL: 24 * time.Hour,
		},
		Output: OutputConfig{
			DataDir:  "_data",
			ClearDir: true,
		},
		Realtime: RealtimeConfig{
			QueueDelay:   10 * time.Second,
			BulkInterval: 15 * time.Minute,
			DataClasses:  []string{string(KindBill), string(KindVoteEvent), string(KindEvent)},
		},
		Broker: BrokerConfig{
			SubjectPrefix: "legiscrape",
			Linger:        100 * time.Millisecond,
			FlushTimeout:  10 * time.Second,
		},
		Dedup: DedupConfig{
			Index:     "cyclades",
			PageSize:  10000,
			ScrollTTL: 2 * time.Minute,
		},
		Blob: BlobConfig{
			Driver: "s3",
			Region: "us-east-1",
		},
		Reports: ReportsConfig{
			Driver: "file",
			Dir:    "_reports",
		},
		Metrics: MetricsConfig{
			Job: "legiscrape",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// WithOverrides returns a copy of c with every non-zero field of o applied.
// Zero values in o (including false booleans) never override c.
func (c Config) WithOverrides(o Config) (Config, error) {
	out := c
	out.Scrape.Actions = append([]string(nil), c.Scrape.Actions...)
	out.Scrape.Backfill = append([]string(nil), c.Scrape.Backfill...)
	if err := mergo.Merge(&out, o, mergo.WithOverride); err != nil {
		return c, fmt.Errorf("merge config overrides: %w", err)
	}
	return out, nil
}

// FastMode reports whether dedup and caching are enabled and rate limiting off
func (c Config) FastMode() bool {
	return c.Scrape.Fast
}
