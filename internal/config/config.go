// Package config loads and validates fhirjob's configuration: a flat
// YAML document, flattened into a single struct, overridable by
// FHIRJOB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreKind selects which JobStore backend Load wires up.
type StoreKind string

const (
	StoreFilesystem StoreKind = "fs"
	StoreObject     StoreKind = "object"
)

// Config is the complete fhirjob configuration.
type Config struct {
	SchemaVersion int `yaml:"schemaVersion"`

	StartTime                time.Time     `yaml:"startTime"`
	EndTime                  *time.Time    `yaml:"endTime,omitempty"`
	ContainerName            string        `yaml:"containerName"`
	ResourceTypeFilters      []string      `yaml:"resourceTypeFilters,omitempty"`
	KnownResourceTypes       []string      `yaml:"knownResourceTypes"`
	MaxConcurrencyCount      int           `yaml:"maxConcurrencyCount"`
	JobQueryLatencyInMinutes int           `yaml:"jobQueryLatencyInMinutes"`
	MaxPartRecords           int           `yaml:"maxPartRecords"`
	TriggerInterval          time.Duration `yaml:"triggerInterval"`
	LeaseTTL                 time.Duration `yaml:"leaseTTL"`

	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects and configures the JobStore backend.
type StoreConfig struct {
	Kind StoreKind `yaml:"kind"`

	// Filesystem backend (StoreFilesystem).
	BaseDir string `yaml:"baseDir"`

	// Object backend (StoreObject): S3 bucket for job records,
	// DynamoDB table for the lease and watermark commit.
	Bucket         string `yaml:"bucket"`
	BucketPrefix   string `yaml:"bucketPrefix"`
	LeaseTable     string `yaml:"leaseTable"`
	Region         string `yaml:"region"`
}

// LoggingConfig controls pkg/logger's output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LatencyMargin returns JobQueryLatencyInMinutes as a Duration.
func (c *Config) LatencyMargin() time.Duration {
	return time.Duration(c.JobQueryLatencyInMinutes) * time.Minute
}

// Load reads and validates a Config from path, then applies FHIRJOB_*
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config with sensible defaults; callers typically
// unmarshal YAML over the top of it.
func Defaults() *Config {
	return &Config{
		SchemaVersion:            1,
		MaxConcurrencyCount:      4,
		JobQueryLatencyInMinutes: 2,
		MaxPartRecords:           50000,
		TriggerInterval:          time.Minute,
		LeaseTTL:                 15 * time.Minute,
		Store: StoreConfig{
			Kind:    StoreFilesystem,
			BaseDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// applyEnvOverrides layers FHIRJOB_* environment variables over cfg.
// Only the handful of operationally common knobs are overridable this
// way; everything else is YAML-only.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("FHIRJOB_LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv("FHIRJOB_STORE_KIND"); ok {
		cfg.Store.Kind = StoreKind(v)
	}
	if v, ok := os.LookupEnv("FHIRJOB_MAX_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrencyCount = n
		}
	}
	if v, ok := os.LookupEnv("FHIRJOB_RESOURCE_TYPE_FILTERS"); ok && v != "" {
		cfg.ResourceTypeFilters = strings.Split(v, ",")
	}
}

// Validate checks the invariants the scheduler depends on at startup.
func (c *Config) Validate() error {
	if c.StartTime.IsZero() {
		return fmt.Errorf("startTime is required")
	}
	if c.EndTime != nil && !c.StartTime.Before(*c.EndTime) {
		return fmt.Errorf("startTime must be before endTime")
	}
	if c.ContainerName == "" {
		return fmt.Errorf("containerName is required")
	}
	if c.MaxConcurrencyCount <= 0 {
		return fmt.Errorf("maxConcurrencyCount must be positive")
	}
	if c.JobQueryLatencyInMinutes < 0 {
		return fmt.Errorf("jobQueryLatencyInMinutes must be non-negative")
	}
	if c.MaxPartRecords <= 0 {
		return fmt.Errorf("maxPartRecords must be positive")
	}

	switch c.Store.Kind {
	case StoreFilesystem:
		if c.Store.BaseDir == "" {
			return fmt.Errorf("store.baseDir is required for the filesystem store")
		}
	case StoreObject:
		if c.Store.Bucket == "" {
			return fmt.Errorf("store.bucket is required for the object store")
		}
		if c.Store.LeaseTable == "" {
			return fmt.Errorf("store.leaseTable is required for the object store")
		}
	default:
		return fmt.Errorf("unknown store.kind: %s", c.Store.Kind)
	}

	return nil
}
