package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	NATS          NATSConfig          `yaml:"nats"`
	MinIO         MinIOConfig         `yaml:"minio"`
	FaceDirectory FaceDirectoryConfig `yaml:"face_directory"`
	Filter        FilterConfig        `yaml:"filter"`
	Cache         CacheConfig         `yaml:"cache"`
	PreIndex      PreIndexConfig      `yaml:"preindex"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// APIKey guards the /v1/admin endpoints. Empty disables the check.
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	PhotosPrefix    string `yaml:"photos_prefix"`
	ThumbnailPrefix string `yaml:"thumbnail_prefix"`
}

type FaceDirectoryConfig struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	CollectionID string `yaml:"collection_id"`
	// RequestsPerSecond caps outgoing directory calls across the whole process.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	// MaxConcurrentSearches is the ceiling for a single live-matcher batch.
	MaxConcurrentSearches int           `yaml:"max_concurrent_searches"`
	MaxResults            int           `yaml:"max_results"`
	MaxImageBytes         int64         `yaml:"max_image_bytes"`
	Timeout               time.Duration `yaml:"timeout"`
}

// TierConfig describes one step of the filter fallback chain.
type TierConfig struct {
	Name      string  `yaml:"name"`
	Kind      string  `yaml:"kind"` // preindexed | live
	Threshold float64 `yaml:"threshold"`
	// BatchSize of 0 selects the adaptive batch size.
	BatchSize  int  `yaml:"batch_size"`
	UseMapping bool `yaml:"use_mapping"`
}

type FilterConfig struct {
	Tiers           []TierConfig  `yaml:"tiers"`
	InterBatchDelay time.Duration `yaml:"inter_batch_delay"`
	LiveTimeout     time.Duration `yaml:"live_timeout"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl"`
	SignConcurrency int           `yaml:"sign_concurrency"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

type PreIndexConfig struct {
	// Source selects where the API loads the mapping from: postgres | file.
	Source      string `yaml:"source"`
	File        string `yaml:"file"`
	ExportKey   string `yaml:"export_key"`
	Concurrency int    `yaml:"concurrency"`
	MaxFaces    int    `yaml:"max_faces"`
}

type SessionConfig struct {
	Secret            string        `yaml:"secret"`
	CookieName        string        `yaml:"cookie_name"`
	TTL               time.Duration `yaml:"ttl"`
	Secure            bool          `yaml:"secure"`
	RegisterThreshold float64       `yaml:"register_threshold"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, then applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// DefaultTiers is the fallback chain used when the config names none:
// the pre-indexed lookup, then the efficient live search at 70% similarity.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "pre-indexed", Kind: "preindexed"},
		{Name: "efficient", Kind: "live", Threshold: 70, UseMapping: true},
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.PhotosPrefix == "" {
		cfg.MinIO.PhotosPrefix = "photos/"
	}
	if cfg.MinIO.ThumbnailPrefix == "" {
		cfg.MinIO.ThumbnailPrefix = "thumbnails/"
	}
	if cfg.FaceDirectory.Region == "" {
		cfg.FaceDirectory.Region = "us-east-1"
	}
	if cfg.FaceDirectory.CollectionID == "" {
		cfg.FaceDirectory.CollectionID = "event-gallery"
	}
	if cfg.FaceDirectory.RequestsPerSecond == 0 {
		cfg.FaceDirectory.RequestsPerSecond = 20
	}
	if cfg.FaceDirectory.Burst == 0 {
		cfg.FaceDirectory.Burst = 20
	}
	if cfg.FaceDirectory.MaxConcurrentSearches == 0 {
		cfg.FaceDirectory.MaxConcurrentSearches = 20
	}
	if cfg.FaceDirectory.MaxResults == 0 {
		cfg.FaceDirectory.MaxResults = 100
	}
	if cfg.FaceDirectory.MaxImageBytes == 0 {
		cfg.FaceDirectory.MaxImageBytes = 10 << 20
	}
	if cfg.FaceDirectory.Timeout == 0 {
		cfg.FaceDirectory.Timeout = 15 * time.Second
	}
	if len(cfg.Filter.Tiers) == 0 {
		cfg.Filter.Tiers = DefaultTiers()
	}
	if cfg.Filter.InterBatchDelay == 0 {
		cfg.Filter.InterBatchDelay = 100 * time.Millisecond
	}
	if cfg.Filter.LiveTimeout == 0 {
		cfg.Filter.LiveTimeout = 2 * time.Minute
	}
	if cfg.Filter.SignedURLTTL == 0 {
		cfg.Filter.SignedURLTTL = time.Hour
	}
	if cfg.Filter.SignConcurrency == 0 {
		cfg.Filter.SignConcurrency = 8
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 100
	}
	if cfg.PreIndex.Source == "" {
		cfg.PreIndex.Source = "postgres"
	}
	if cfg.PreIndex.Concurrency == 0 {
		cfg.PreIndex.Concurrency = 5
	}
	if cfg.PreIndex.MaxFaces == 0 {
		cfg.PreIndex.MaxFaces = 10
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "gallery_face"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 24 * time.Hour
	}
	if cfg.Session.RegisterThreshold == 0 {
		cfg.Session.RegisterThreshold = 90
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GALLERY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GALLERY_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("GALLERY_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("GALLERY_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("GALLERY_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("GALLERY_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("GALLERY_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("GALLERY_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("GALLERY_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("GALLERY_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("GALLERY_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("GALLERY_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("GALLERY_AWS_REGION"); v != "" {
		cfg.FaceDirectory.Region = v
	}
	if v := os.Getenv("GALLERY_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.FaceDirectory.AccessKey = v
	}
	if v := os.Getenv("GALLERY_AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.FaceDirectory.SecretKey = v
	}
	if v := os.Getenv("GALLERY_FACE_COLLECTION"); v != "" {
		cfg.FaceDirectory.CollectionID = v
	}
	if v := os.Getenv("GALLERY_FACE_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.FaceDirectory.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("GALLERY_PREINDEX_FILE"); v != "" {
		cfg.PreIndex.File = v
	}
	if v := os.Getenv("GALLERY_SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
}
