// Package config loads typed configuration from the environment for each
// long-running component. There is no config library in the stack this
// module is grounded on, so loading stays plain os.Getenv with explicit
// defaults, matching the teacher's own flag+env style in cmd/ingest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/errs"
)

// S3 holds object-store connection and layout settings.
type S3 struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	TracesPrefix   string
	LogsPrefix     string
	MetricsPrefix  string
	UsePathStyle   bool
}

// ClickHouse holds warehouse connection settings.
type ClickHouse struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Addr returns host:port for the driver's Addr field.
func (c ClickHouse) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Loader holds settings specific to the S3-to-warehouse pump.
type Loader struct {
	S3             S3
	ClickHouse     ClickHouse
	PollBusy       time.Duration
	PollIdle       time.Duration
	BatchSize      int
	MaxFileWorkers int
}

// Enricher holds settings specific to the embedding enricher.
type Enricher struct {
	ClickHouse   ClickHouse
	PollInterval time.Duration
	BatchSize    int
	ModelName    string
	EmbedURL     string
	VectorSink   string // "" or "qdrant"
	QdrantAddr   string
}

// Session holds settings specific to the session builder and registry.
type Session struct {
	ClickHouse          ClickHouse
	S3                  S3 // optional; enables the metadata.json service-discovery fallback
	SessionDir          string
	MaxRowsPerTable     int
	MaxConcurrentBuilds int
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvRequired(op, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", errs.Wrap(errs.ErrConfig, op, fmt.Errorf("missing required env var %s", key))
	}
	return v, nil
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Accept plain seconds as an integer, or a Go duration string.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func loadS3(op string) (S3, error) {
	endpoint, err := getenvRequired(op, "S3_ENDPOINT")
	if err != nil {
		return S3{}, err
	}
	accessKey, err := getenvRequired(op, "S3_ACCESS_KEY")
	if err != nil {
		return S3{}, err
	}
	secretKey, err := getenvRequired(op, "S3_SECRET_KEY")
	if err != nil {
		return S3{}, err
	}
	bucket, err := getenvRequired(op, "S3_BUCKET")
	if err != nil {
		return S3{}, err
	}
	return S3{
		Endpoint:      endpoint,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		Bucket:        bucket,
		TracesPrefix:  getenv("S3_TRACES_PREFIX", "traces/"),
		LogsPrefix:    getenv("S3_LOGS_PREFIX", "logs/"),
		MetricsPrefix: getenv("S3_METRICS_PREFIX", "metrics/"),
		UsePathStyle:  getenv("S3_USE_PATH_STYLE", "true") == "true",
	}, nil
}

// loadS3Optional reads S3 settings without failing when absent: the session
// builder only needs them for the metadata.json fallback, unlike the loader
// which cannot run without S3 at all.
func loadS3Optional() S3 {
	return S3{
		Endpoint:      getenv("S3_ENDPOINT", ""),
		AccessKey:     getenv("S3_ACCESS_KEY", ""),
		SecretKey:     getenv("S3_SECRET_KEY", ""),
		Bucket:        getenv("S3_BUCKET", ""),
		TracesPrefix:  getenv("S3_TRACES_PREFIX", "traces/"),
		LogsPrefix:    getenv("S3_LOGS_PREFIX", "logs/"),
		MetricsPrefix: getenv("S3_METRICS_PREFIX", "metrics/"),
		UsePathStyle:  getenv("S3_USE_PATH_STYLE", "true") == "true",
	}
}

func loadClickHouse() ClickHouse {
	return ClickHouse{
		Host:     getenv("CH_HOST", "localhost"),
		Port:     getenvInt("CH_PORT", 9000),
		User:     getenv("CH_USER", "default"),
		Password: getenv("CH_PASSWORD", ""),
		Database: getenv("CH_DATABASE", "otel"),
	}
}

// LoadLoader reads loader configuration, failing fast on missing S3 settings.
func LoadLoader() (Loader, error) {
	const op = "config.LoadLoader"
	s3cfg, err := loadS3(op)
	if err != nil {
		return Loader{}, err
	}
	return Loader{
		S3:             s3cfg,
		ClickHouse:     loadClickHouse(),
		PollBusy:       getenvDuration("POLL_INTERVAL_BUSY", 2*time.Second),
		PollIdle:       getenvDuration("POLL_INTERVAL_IDLE", 15*time.Second),
		BatchSize:      getenvInt("BATCH_SIZE", 1000),
		MaxFileWorkers: getenvInt("MAX_FILE_WORKERS", 8),
	}, nil
}

// LoadEnricher reads enricher configuration.
func LoadEnricher() (Enricher, error) {
	return Enricher{
		ClickHouse:   loadClickHouse(),
		PollInterval: getenvDuration("POLL_INTERVAL", 5*time.Second),
		BatchSize:    getenvInt("BATCH_SIZE", 2000),
		ModelName:    getenv("MODEL_NAME", "nomic-embed-text"),
		EmbedURL:     getenv("EMBED_URL", "http://localhost:11434"),
		VectorSink:   getenv("VECTOR_SINK", ""),
		QdrantAddr:   getenv("QDRANT_ADDR", "localhost:6334"),
	}, nil
}

// LoadSession reads session builder/registry configuration.
func LoadSession() (Session, error) {
	return Session{
		ClickHouse:          loadClickHouse(),
		S3:                  loadS3Optional(),
		SessionDir:          getenv("SESSION_DIR", "/var/lib/otelwarehouse/sessions"),
		MaxRowsPerTable:     getenvInt("MAX_ROWS_PER_TABLE", 100_000),
		MaxConcurrentBuilds: getenvInt("MAX_CONCURRENT_BUILDS", 0),
	}, nil
}
