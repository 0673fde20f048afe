package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/ignishq/ignis/internal/queue"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateHost(&cfg.Host)...)
	errs = append(errs, validateFunctions(&cfg.Functions)...)
	errs = append(errs, validateQueues(&cfg.Queues)...)
	errs = append(errs, validateBlobs(&cfg.Blobs)...)
	errs = append(errs, validateNotifier(&cfg.Notifier)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHost(cfg *HostConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.CronSchedule != "" {
		if _, err := cron.ParseStandard(cfg.CronSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "host.cron_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	} else if cfg.TickInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "host.tick_interval",
			Message: "must be positive when no cron schedule is set",
		})
	}

	if cfg.DashboardQueue != "" {
		if strings.HasSuffix(cfg.DashboardQueue, queue.PoisonSuffix) {
			errs = append(errs, ValidationError{
				Field:   "host.dashboard_queue",
				Message: "must not be a poison queue",
			})
		}
	}

	return errs
}

func validateFunctions(cfg *FunctionsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "functions.path",
			Message: "is required",
		})
	}

	return errs
}

func validateQueues(cfg *QueuesConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "queues.path",
			Message: "is required",
		})
	}

	// The policy setters carry the exact range rules; surface their
	// violations as field errors.
	if _, err := cfg.Policy(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "queues",
			Message: err.Error(),
		})
	}

	return errs
}

func validateBlobs(cfg *BlobsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.S3 == nil {
		return errs
	}

	if cfg.S3.Region == "" {
		errs = append(errs, ValidationError{
			Field:   "blobs.s3.region",
			Message: "is required",
		})
	}
	if cfg.S3.AccessKeyID == "" {
		errs = append(errs, ValidationError{
			Field:   "blobs.s3.access_key_id",
			Message: "is required",
		})
	}
	if cfg.S3.SecretAccessKey == "" {
		errs = append(errs, ValidationError{
			Field:   "blobs.s3.secret_access_key",
			Message: "is required",
		})
	}

	return errs
}

func validateNotifier(cfg *NotifierConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Type {
	case "":
	case "websocket":
		if cfg.URL == "" {
			errs = append(errs, ValidationError{
				Field:   "notifier.url",
				Message: "is required for type \"websocket\"",
			})
		}
	case "fsnotify":
		if cfg.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "notifier.path",
				Message: "is required for type \"fsnotify\"",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "notifier.type",
			Message: fmt.Sprintf("must be \"websocket\", \"fsnotify\", or empty, got %q", cfg.Type),
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Level {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be debug, info, warn, or error, got %q", cfg.Level),
		})
	}

	switch cfg.Format {
	case "json", "console", "":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be json or console, got %q", cfg.Format),
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && cfg.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.address",
			Message: "is required when metrics are enabled",
		})
	}

	return errs
}
