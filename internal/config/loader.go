package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "IGNIS"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("ignis")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ignis")
		v.AddConfigPath("/etc/ignis")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("host.tick_interval", cfg.Host.TickInterval)
	v.SetDefault("host.cron_schedule", cfg.Host.CronSchedule)
	v.SetDefault("host.dashboard_queue", cfg.Host.DashboardQueue)

	v.SetDefault("functions.path", cfg.Functions.Path)

	v.SetDefault("queues.path", cfg.Queues.Path)
	v.SetDefault("queues.busy_timeout", cfg.Queues.BusyTimeout)
	v.SetDefault("queues.batch_size", cfg.Queues.BatchSize)
	v.SetDefault("queues.new_batch_threshold", cfg.Queues.NewBatchThreshold)
	v.SetDefault("queues.max_polling_interval", cfg.Queues.MaxPollingInterval)
	v.SetDefault("queues.max_dequeue_count", cfg.Queues.MaxDequeueCount)
	v.SetDefault("queues.visibility_timeout", cfg.Queues.VisibilityTimeout)
	v.SetDefault("queues.delete_retry_count", cfg.Queues.DeleteRetryCount)

	v.SetDefault("notifier.type", cfg.Notifier.Type)
	v.SetDefault("notifier.url", cfg.Notifier.URL)
	v.SetDefault("notifier.path", cfg.Notifier.Path)

	v.SetDefault("audit.path", cfg.Audit.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"ignis.yaml",
		"ignis.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "ignis", "ignis.yaml"),
		"/etc/ignis/ignis.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
