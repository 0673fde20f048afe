package config

import "time"

// Default configuration values.
const (
	// Host defaults.
	DefaultTickInterval   = time.Second
	DefaultDashboardQueue = "ignis-host"

	// Functions defaults.
	DefaultFunctionsPath = "functions"

	// Queue defaults.
	DefaultQueuePath          = "ignis-queue.db"
	DefaultQueueBusyTimeout   = 5 * time.Second
	DefaultBatchSize          = 8
	DefaultMaxPollingInterval = 30 * time.Second
	DefaultMaxDequeueCount    = 5

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsAddress = "localhost:9180"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			TickInterval:   DefaultTickInterval,
			DashboardQueue: DefaultDashboardQueue,
		},
		Functions: FunctionsConfig{
			Path: DefaultFunctionsPath,
		},
		Queues: QueuesConfig{
			Path:               DefaultQueuePath,
			BusyTimeout:        DefaultQueueBusyTimeout,
			BatchSize:          DefaultBatchSize,
			NewBatchThreshold:  0, // Derived from batch size
			MaxPollingInterval: DefaultMaxPollingInterval,
			MaxDequeueCount:    DefaultMaxDequeueCount,
			VisibilityTimeout:  0, // Failed messages retry immediately
			DeleteRetryCount:   0,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: DefaultMetricsAddress,
		},
	}
}
