// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	HTTP        HTTPConfig       `mapstructure:"http"`
	Crawl       CrawlConfig      `mapstructure:"crawl"`
	Attachments AttachmentConfig `mapstructure:"attachments"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Upload      UploadConfig     `mapstructure:"upload"`
	DocStore    DocStoreConfig   `mapstructure:"docstore"`
	Blob        BlobConfig       `mapstructure:"blob"`
	PubSub      PubSubConfig     `mapstructure:"pubsub"`
	Server      ServerConfig     `mapstructure:"server"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// HTTPConfig configures the retrying HTTP transport.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffFactor     float64 `mapstructure:"backoff_factor"`
	RequestIntervalMs int     `mapstructure:"request_interval_ms"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// CrawlConfig governs the paginated crawl engine.
type CrawlConfig struct {
	Source              string `mapstructure:"source"`
	ListURL             string `mapstructure:"list_url"`
	StartPage           int    `mapstructure:"start_page"`
	MaxPages            int    `mapstructure:"max_pages"`
	MaxConsecutiveEmpty int    `mapstructure:"max_consecutive_empty"`
	FetchDetail         bool   `mapstructure:"fetch_detail"`
}

// AttachmentConfig controls binary attachment downloads.
type AttachmentConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	AllowedTypes []string `mapstructure:"allowed_types"`
	MaxSizeMB    int      `mapstructure:"max_size_mb"`
	Dir          string   `mapstructure:"dir"`
}

// StorageConfig selects the durable record store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// UploadConfig governs the resumable bulk uploader.
type UploadConfig struct {
	StoreName     string `mapstructure:"store_name"`
	SkipExisting  bool   `mapstructure:"skip_existing"`
	DelayMs       int    `mapstructure:"delay_ms"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
	Pattern       string `mapstructure:"pattern"`
	ManifestPath  string `mapstructure:"manifest_path"`
	DocsDir       string `mapstructure:"docs_dir"`
}

// DocStoreConfig points at the external document indexing service.
type DocStoreConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// BlobConfig selects the archive mirror for rendered documents.
type BlobConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_factor", 2.0)
	v.SetDefault("http.request_interval_ms", 1000)
	v.SetDefault("http.user_agent", "fsc-harvester/0.1")
	v.SetDefault("crawl.source", "announcements")
	v.SetDefault("crawl.start_page", 1)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.max_consecutive_empty", 3)
	v.SetDefault("crawl.fetch_detail", true)
	v.SetDefault("attachments.enabled", false)
	v.SetDefault("attachments.allowed_types", []string{"pdf", "doc", "docx"})
	v.SetDefault("attachments.max_size_mb", 50)
	v.SetDefault("attachments.dir", "data/attachments")
	v.SetDefault("storage.backend", "jsonl")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.table", "records")
	v.SetDefault("upload.store_name", "fsc-announcements")
	v.SetDefault("upload.skip_existing", true)
	v.SetDefault("upload.delay_ms", 1000)
	v.SetDefault("upload.settle_delay_ms", 1000)
	v.SetDefault("upload.pattern", "*.md")
	v.SetDefault("upload.manifest_path", "data/upload_manifest.json")
	v.SetDefault("upload.docs_dir", "data/docs")
	v.SetDefault("blob.backend", "local")
	v.SetDefault("blob.base_dir", "data/archive")
	v.SetDefault("blob.prefix", "docs")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.HTTP.BackoffFactor < 1 {
		return fmt.Errorf("http.backoff_factor must be >= 1")
	}
	if c.Crawl.StartPage <= 0 {
		return fmt.Errorf("crawl.start_page must be > 0")
	}
	if c.Crawl.MaxConsecutiveEmpty <= 0 {
		return fmt.Errorf("crawl.max_consecutive_empty must be > 0")
	}
	if c.Attachments.MaxSizeMB <= 0 {
		return fmt.Errorf("attachments.max_size_mb must be > 0")
	}
	switch c.Storage.Backend {
	case "jsonl", "postgres":
	default:
		return fmt.Errorf("storage.backend must be jsonl or postgres, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required when storage.backend is postgres")
	}
	switch c.Blob.Backend {
	case "", "local", "gcs":
	default:
		return fmt.Errorf("blob.backend must be local or gcs, got %q", c.Blob.Backend)
	}
	if c.Blob.Backend == "gcs" && c.Blob.Bucket == "" {
		return fmt.Errorf("blob.bucket is required when blob.backend is gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

// Timeout converts the configured HTTP timeout to a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RequestInterval converts the inter-request delay to a duration.
func (c HTTPConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMs) * time.Millisecond
}

// Delay converts the inter-item upload delay to a duration.
func (c UploadConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// SettleDelay converts the upload-to-register settle delay to a duration.
func (c UploadConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}
