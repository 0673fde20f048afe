package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ignishq/ignis/internal/audit"
	"github.com/ignishq/ignis/internal/config"
	"github.com/ignishq/ignis/internal/dispatch"
	"github.com/ignishq/ignis/internal/engine"
	"github.com/ignishq/ignis/internal/function"
	"github.com/ignishq/ignis/internal/host"
	"github.com/ignishq/ignis/internal/metrics"
	"github.com/ignishq/ignis/internal/notify"
	"github.com/ignishq/ignis/internal/storage"
	"github.com/ignishq/ignis/internal/trigger"
)

var (
	serveFunctionsPath string
	serveQueuePath     string
	serveTickInterval  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch host",
	Long: `Start the Ignis dispatch host.

The host will:
  - Load function manifests from the functions directory
  - Open the queue database and register queue and blob triggers
  - Connect the fast-path notifier, when one is configured
  - Tick the dispatcher on the configured interval or cron schedule`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFunctionsPath, "functions", "", "Path to the function manifests directory")
	serveCmd.Flags().StringVar(&serveQueuePath, "queue-db", "", "Path to the queue database file")
	serveCmd.Flags().DurationVar(&serveTickInterval, "tick-interval", 0, "Interval between dispatch ticks")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("functions") {
		cfg.Functions.Path = serveFunctionsPath
	}
	if cmd.Flags().Changed("queue-db") {
		cfg.Queues.Path = serveQueuePath
	}
	if cmd.Flags().Changed("tick-interval") {
		cfg.Host.TickInterval = serveTickInterval
	}

	applyLogging(&cfg.Logging)

	policy, err := cfg.Queues.Policy()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid queue processing policy")
	}

	queues, err := storage.OpenSQLiteQueue(cfg.Queues.SQLiteQueueConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open queue database")
	}
	defer queues.Close()

	registry, err := function.Discover(cfg.Functions.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load function manifests")
	}
	defs := registry.All()
	log.Info().Int("functions", len(defs)).Str("path", cfg.Functions.Path).Msg("Functions loaded")

	triggers, err := trigger.BuildMap(defs, cfg.Host.DashboardQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build trigger registry")
	}

	var blobs storage.BlobClient
	if cfg.Blobs.S3 != nil {
		client, err := storage.NewS3BlobClient(cmd.Context(), cfg.Blobs.S3.StorageConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build blob client")
		}
		blobs = client
	}

	notifier, err := buildNotifier(&cfg.Notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build fast-path notifier")
	}
	if notifier != nil {
		defer notifier.Close()
	}

	var auditLogger audit.Logger
	if cfg.Audit.Path != "" {
		store, err := audit.OpenSQLiteStore(cfg.Audit.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open audit database")
		}
		defer store.Close()
		auditLogger = store
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Triggers:  triggers,
		Functions: registry,
		Engine:    engine.LogEngine{},
		Queues:    queues,
		Blobs:     blobs,
		Policy:    policy,
		Notifier:  notifier,
		Audit:     auditLogger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build dispatcher")
	}

	h, err := host.New(dispatcher, host.Config{
		Interval:     cfg.Host.TickInterval,
		CronSchedule: cfg.Host.CronSchedule,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build dispatch host")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics.Address)
	}

	return h.Run(ctx)
}

func loadConfig() (*config.Config, error) {
	path, err := config.ConfigFilePath(cfgFile)
	if err != nil {
		if cfgFile == "" && errors.Is(err, config.ErrConfigNotFound) {
			log.Warn().Msg("No config file found, using defaults")
			return config.LoadWithDefaults()
		}
		return nil, err
	}

	log.Debug().Str("file", path).Msg("Loading config file")
	return config.LoadFromFile(path)
}

// applyLogging refines the global logger from the loaded config. The
// verbose flag wins over the configured level.
func applyLogging(cfg *config.LoggingConfig) {
	if !verbose {
		if level, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
			zerolog.SetGlobalLevel(level)
		}
	}

	if cfg.Format == "json" {
		logger := zerolog.New(os.Stderr)
		ctx := logger.With()
		if cfg.Timestamp {
			ctx = ctx.Timestamp()
		}
		if cfg.Caller {
			ctx = ctx.Caller()
		}
		log.Logger = ctx.Logger()
	}
}

func buildNotifier(cfg *config.NotifierConfig) (notify.Notifier, error) {
	switch cfg.Type {
	case "websocket":
		return notify.NewWebsocketNotifier(cfg.URL), nil
	case "fsnotify":
		return notify.NewFSNotifier(cfg.Path)
	default:
		return nil, nil
	}
}

func startMetricsServer(ctx context.Context, address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: address, Handler: mux}
	go func() {
		log.Info().Str("addr", address).Msg("Metrics endpoint started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
}
