package config

import (
	"time"
)

var (
	Commit     string // nolint: gochecknoglobals
	BinaryType string // nolint: gochecknoglobals
	GoVersion  string // nolint: gochecknoglobals
)

const (
	DefaultBackend = "gcloud"
	DefaultKeep    = 3
	DefaultGrace   = 168 * time.Hour
	DefaultJobName = "zprune"
)

type RegistryConfig struct {
	// Backend is one of gcloud, gcr, oci or ecr.
	Backend    string
	Repository string
	// Region is only used by the ecr backend.
	Region string
	// Insecure allows plain http, only used by the oci backend.
	Insecure    bool
	Concurrency int
	// DeleteRate is the maximum number of deletions per second, 0 means unlimited.
	DeleteRate float64
}

// ImagePolicy overrides the default retention policy for images matching one of the glob patterns.
type ImagePolicy struct {
	Images []string
	Keep   *int
	Grace  *time.Duration
}

type RetentionConfig struct {
	Keep     int
	Grace    time.Duration
	Policies []ImagePolicy `mapstructure:",omitempty"`
}

type LogConfig struct {
	Level  string
	Output string
	Audit  string
}

type MetricsConfig struct {
	PushGateway string
	Job         string
}

type Config struct {
	Commit     string
	BinaryType string
	GoVersion  string

	Registry  RegistryConfig
	Retention RetentionConfig
	Log       *LogConfig
	Metrics   *MetricsConfig

	DryRun    bool
	Yes       bool
	Traceback bool
}

func New() *Config {
	return &Config{
		Commit:     Commit,
		BinaryType: BinaryType,
		GoVersion:  GoVersion,
		Registry:   RegistryConfig{Backend: DefaultBackend, Concurrency: 1},
		Retention:  RetentionConfig{Keep: DefaultKeep, Grace: DefaultGrace},
		Log:        &LogConfig{Level: "info"},
		Metrics:    &MetricsConfig{Job: DefaultJobName},
	}
}

func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.PushGateway != ""
}

func (c *Config) IsAuditEnabled() bool {
	return c.Log != nil && c.Log.Audit != ""
}
