// Package config provides configuration management for Ignis.
package config

import (
	"time"

	"github.com/ignishq/ignis/internal/queue"
	"github.com/ignishq/ignis/internal/storage"
)

// Config is the root configuration structure for Ignis.
type Config struct {
	Host      HostConfig      `mapstructure:"host"`
	Functions FunctionsConfig `mapstructure:"functions"`
	Queues    QueuesConfig    `mapstructure:"queues"`
	Blobs     BlobsConfig     `mapstructure:"blobs"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// HostConfig holds dispatch loop scheduling settings.
type HostConfig struct {
	// Interval between dispatch ticks
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// Cron expression driving ticks instead of the fixed interval
	// (optional; takes precedence when set)
	CronSchedule string `mapstructure:"cron_schedule"`

	// Queue carrying out-of-band invoke commands (empty disables the
	// dashboard channel)
	DashboardQueue string `mapstructure:"dashboard_queue"`
}

// FunctionsConfig holds function manifest discovery settings.
type FunctionsConfig struct {
	// Path to the directory holding function manifests
	Path string `mapstructure:"path"`
}

// QueuesConfig holds the queue store location and processing policy.
type QueuesConfig struct {
	// Path to the SQLite queue database file
	Path string `mapstructure:"path"`

	// Busy timeout for concurrent access
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Messages fetched per receive
	BatchSize int `mapstructure:"batch_size"`

	// Remaining-batch size that triggers fetching the next batch
	// (0 derives half the batch size)
	NewBatchThreshold int `mapstructure:"new_batch_threshold"`

	// Upper bound for empty-queue polling backoff
	MaxPollingInterval time.Duration `mapstructure:"max_polling_interval"`

	// Dequeue attempts before a message is moved to its poison queue
	MaxDequeueCount int `mapstructure:"max_dequeue_count"`

	// Invisibility window after a failed processing attempt
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`

	// Retries for a failed message delete
	DeleteRetryCount int `mapstructure:"delete_retry_count"`
}

// BlobsConfig holds blob store settings. S3 is optional; without it
// blob triggers cannot be served.
type BlobsConfig struct {
	S3 *S3Config `mapstructure:"s3"`
}

// S3Config holds S3 (or S3-compatible) blob store settings.
type S3Config struct {
	// AWS region
	Region string `mapstructure:"region"`

	// Custom endpoint for S3-compatible stores (optional)
	Endpoint string `mapstructure:"endpoint"`

	// Static credentials
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Prefix prepended to container names to form bucket names
	BucketPrefix string `mapstructure:"bucket_prefix"`

	// Use path-style addressing (required by MinIO and friends)
	ForcePathStyle bool `mapstructure:"force_path_style"`
}

// NotifierConfig holds fast-path blob notification settings.
type NotifierConfig struct {
	// Notification source: "websocket", "fsnotify", or "" to disable
	// the fast path
	Type string `mapstructure:"type"`

	// Websocket URL for type "websocket"
	URL string `mapstructure:"url"`

	// Directory to watch for type "fsnotify"
	Path string `mapstructure:"path"`
}

// AuditConfig holds dropped-dispatch audit settings.
type AuditConfig struct {
	// Path to the SQLite audit database file (empty disables auditing)
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enable the metrics endpoint
	Enabled bool `mapstructure:"enabled"`

	// Address to serve /metrics on
	Address string `mapstructure:"address"`
}

// Policy builds the queue processing policy the settings describe.
// Every violation is reported through the policy's own setters.
func (q *QueuesConfig) Policy() (*queue.Policy, error) {
	p := queue.NewPolicy()

	if q.BatchSize != 0 {
		if err := p.SetBatchSize(q.BatchSize); err != nil {
			return nil, err
		}
	}
	if q.NewBatchThreshold != 0 {
		if err := p.SetNewBatchThreshold(q.NewBatchThreshold); err != nil {
			return nil, err
		}
	}
	if q.MaxPollingInterval != 0 {
		if err := p.SetMaxPollingInterval(q.MaxPollingInterval); err != nil {
			return nil, err
		}
	}
	if q.MaxDequeueCount != 0 {
		if err := p.SetMaxDequeueCount(q.MaxDequeueCount); err != nil {
			return nil, err
		}
	}
	if q.VisibilityTimeout != 0 {
		if err := p.SetVisibilityTimeout(q.VisibilityTimeout); err != nil {
			return nil, err
		}
	}
	if q.DeleteRetryCount != 0 {
		if err := p.SetDeleteRetryCount(q.DeleteRetryCount); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// SQLiteQueueConfig converts the queue settings to the storage layer's
// client config.
func (q *QueuesConfig) SQLiteQueueConfig() storage.SQLiteQueueConfig {
	return storage.SQLiteQueueConfig{
		Path:        q.Path,
		BusyTimeout: q.BusyTimeout,
	}
}

// StorageConfig converts the S3 settings to the storage layer's client
// config.
func (s *S3Config) StorageConfig() storage.S3Config {
	return storage.S3Config{
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		BucketPrefix:    s.BucketPrefix,
		ForcePathStyle:  s.ForcePathStyle,
	}
}
