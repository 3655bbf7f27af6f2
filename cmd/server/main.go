package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
	"github.com/vigilant-otter/pulsefeed/internal/api"
	"github.com/vigilant-otter/pulsefeed/internal/confwatch"
	"github.com/vigilant-otter/pulsefeed/internal/engine"
	"github.com/vigilant-otter/pulsefeed/internal/ingest"
	"github.com/vigilant-otter/pulsefeed/internal/logging"
	"github.com/vigilant-otter/pulsefeed/internal/metrics"
	"github.com/vigilant-otter/pulsefeed/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pulsefeed-server",
	Short: "PulseFeed Server - Streaming health alert pipeline",
	Long: `PulseFeed Server ingests wearable health readings, flags anomalies
against rolling per-metric baselines, tracks daily goals, and streams
the resulting alerts to connected clients.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pulsefeed-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, "pulsefeed-server")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	// Build the pipeline
	bus := alert.NewBus(&alert.Options{
		HistorySize:     cfg.Stream.HistorySize,
		SubscriberQueue: cfg.Stream.SubscriberQueue,
	}, logger)
	defer bus.Close()

	eng, err := engine.New(cfg.Pipeline.toSettings(), bus, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	srv, err := api.New(&api.Config{
		Address:           cfg.Server.Address,
		RateLimitPerIP:    cfg.RateLimit.RequestsPerMinute,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		StreamMaxDuration: cfg.Stream.MaxDuration,
		DefaultHistory:    cfg.Stream.DefaultHistory,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Verbose:           cfg.Verbose,
	}, eng, bus, logger)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting pulsefeed-server",
		zap.String("version", config.Version),
		zap.String("address", cfg.Server.Address))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Address, logger)
		g.Go(func() error {
			return metricsSrv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		source, err := ingest.NewRedisSource(client, eng, cfg.redisSourceOptions(), logger)
		if err != nil {
			return fmt.Errorf("create redis source: %w", err)
		}
		g.Go(func() error {
			return source.Run(ctx)
		})
	}

	if cfg.MQTT.Enabled {
		source, err := ingest.NewMQTTSource(eng, cfg.mqttSourceOptions(), logger)
		if err != nil {
			return fmt.Errorf("create mqtt source: %w", err)
		}
		g.Go(func() error {
			return source.Run(ctx)
		})
	}

	// Watch the config file and apply pipeline changes live
	if configFile != "" {
		watcher, err := confwatch.New(configFile, nil, logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		g.Go(func() error {
			return watcher.Run(ctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-watcher.Changes():
					if !ok {
						return nil
					}
					reloadSettings(configFile, eng, logger)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// reloadSettings re-reads the config file and applies the pipeline
// section to the running engine. On any error the previous settings
// stay in effect.
func reloadSettings(path string, eng *engine.Engine, logger *zap.Logger) {
	cfg, err := LoadConfig(path)
	if err != nil {
		logger.Error("config reload failed, keeping previous settings", zap.Error(err))
		return
	}

	if err := eng.ApplySettings(cfg.Pipeline.toSettings()); err != nil {
		logger.Error("config reload rejected, keeping previous settings", zap.Error(err))
		return
	}

	logger.Info("configuration reloaded", zap.String("path", path))
}
