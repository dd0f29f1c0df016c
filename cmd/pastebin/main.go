// Command pastebin serves the paste API and the HTML pages.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/httpserver"
	"pastebin-lite/internal/paste"
	"pastebin-lite/internal/storage"
)

var version = "dev"

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

type config struct {
	addr            string
	store           string
	redisURL        string
	dataPath        string
	baseURL         string
	maxBytes        int
	behindProxy     bool
	testMode        bool
	janitorInterval time.Duration
	logLevel        string
	logFormat       string
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "pastebin",
		Short:         "Share text with optional expiry and view limits",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.logLevel, cfg.logFormat)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("pastebin exited", "error", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./pastebin.yaml when present)")
	flags.String("addr", ":8080", "listen address")
	flags.String("store", "redis", "backend: redis, bolt, sqlite or memory")
	flags.String("redis-url", "redis://localhost:6379/0", "redis connection url")
	flags.String("data", "./pastebin.db", "data file for the bolt and sqlite backends")
	flags.String("base-url", "", "canonical base URL (optional)")
	flags.Int("max-bytes", 1_048_576, "maximum paste size in bytes")
	flags.Bool("behind-proxy", false, "trust proxy headers for client IP and scheme")
	flags.Bool("test-mode", false, "honour the "+httpserver.TestNowHeader+" header")
	flags.Duration("janitor-interval", time.Minute, "sweep interval for backends without native expiry")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-format", "text", "text or json")

	bindings := map[string]string{
		"addr":             "addr",
		"store":            "store",
		"redis.url":        "redis-url",
		"data":             "data",
		"base-url":         "base-url",
		"max-bytes":        "max-bytes",
		"behind-proxy":     "behind-proxy",
		"test-mode":        "test-mode",
		"janitor-interval": "janitor-interval",
		"log-level":        "log-level",
		"log-format":       "log-format",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	v.SetEnvPrefix("PASTEBIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("redis.url", "PASTEBIN_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("test-mode", "PASTEBIN_TEST_MODE", "TEST_MODE")

	return cmd
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pastebin")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		addr:            v.GetString("addr"),
		store:           strings.ToLower(v.GetString("store")),
		redisURL:        v.GetString("redis.url"),
		dataPath:        v.GetString("data"),
		baseURL:         v.GetString("base-url"),
		maxBytes:        v.GetInt("max-bytes"),
		behindProxy:     v.GetBool("behind-proxy"),
		testMode:        v.GetBool("test-mode"),
		janitorInterval: v.GetDuration("janitor-interval"),
		logLevel:        v.GetString("log-level"),
		logFormat:       v.GetString("log-format"),
	}
	if cfg.maxBytes <= 0 {
		return config{}, errors.New("max-bytes must be positive")
	}
	if cfg.janitorInterval <= 0 {
		return config{}, errors.New("janitor-interval must be positive")
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.store, err)
	}
	defer backend.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pastes := paste.NewStore(backend,
		paste.WithLogger(logger),
		paste.WithMetrics(paste.NewMetrics(registry)),
	)

	clk := clock.New(cfg.testMode)
	srv, err := httpserver.New(httpserver.Config{
		Pastes:     pastes,
		Clock:      clk,
		MaxBytes:   cfg.maxBytes,
		TrustProxy: cfg.behindProxy,
		BaseURL:    cfg.baseURL,
		Logger:     logger,
		Gatherer:   registry,
	})
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if sweeper, ok := backend.(storage.Sweeper); ok {
		httpserver.StartJanitor(ctx, sweeper, cfg.janitorInterval, logger)
	}
	if clk.TestMode() {
		logger.Warn("test mode enabled, request time may be overridden", "header", httpserver.TestNowHeader)
	}

	srvHTTP := &http.Server{
		Addr:              cfg.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.addr, "store", cfg.store)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
