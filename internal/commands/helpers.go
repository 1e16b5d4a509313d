// Package commands implements the CLI subcommands for the telemetryd binary.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/alert"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/cache"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/config"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/metrics"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/notify"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/store"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// DefaultConfigFile is read when --config is not given.
const DefaultConfigFile = "telemetry.yaml"

const redisPingTimeout = 2 * time.Second

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", DefaultConfigFile, "path to the service configuration")
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// services holds the components every data command shares.
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	cache    *cache.QueryCache
	profiler *store.Profiler
	closers  []func(context.Context) error
}

func openServices(ctx context.Context, path string, logger *slog.Logger) (*services, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	svc := &services{cfg: cfg, logger: logger}

	opts := []store.Option{store.WithLogger(logger)}
	qc, closeCache := newQueryCache(ctx, cfg.Cache, logger)
	if qc != nil {
		svc.cache = qc
		opts = append(opts, store.WithCache(qc))
	}
	if closeCache != nil {
		svc.closers = append(svc.closers, closeCache)
	}
	if cfg.Store.Profile {
		svc.profiler = store.NewProfiler(cfg.Store.ProfileSize)
		opts = append(opts, store.WithProfiler(svc.profiler))
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	st, err := store.Open(cfg.Store.Path, opts...)
	if err != nil {
		svc.Close(ctx)
		return nil, fmt.Errorf("opening store: %w", err)
	}
	svc.store = st
	svc.closers = append(svc.closers, func(context.Context) error { return st.Close() })

	if cfg.Metrics.OTLPEndpoint != "" {
		shutdown, err := metrics.Setup(ctx, cfg.Metrics.OTLPEndpoint, cfg.Metrics.Interval)
		if err != nil {
			logger.Warn("metrics export disabled", "endpoint", cfg.Metrics.OTLPEndpoint, "error", err)
		} else {
			svc.closers = append(svc.closers, shutdown)
		}
	}
	return svc, nil
}

// Close releases everything openServices acquired, newest first.
func (s *services) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("failed to close service", "error", err)
		}
	}
	s.closers = nil
}

// newQueryCache builds the configured cache. An unreachable Redis falls
// back to the in-memory backend.
func newQueryCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*cache.QueryCache, func(context.Context) error) {
	switch cfg.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheRedis:
		rb := cache.NewRedisBackend(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rb.Ping(pingCtx); err != nil {
			logger.Warn("redis cache unavailable, using memory cache", "addr", cfg.Redis.Addr, "error", err)
			_ = rb.Close()
			break
		}
		return cache.New(rb, logger), func(context.Context) error { return rb.Close() }
	}
	return cache.New(cache.NewMemoryBackend(cfg.MaxEntries), logger), nil
}

// newAlerting loads the rule document, or the default console-only set when
// no path is configured, and wires the dispatcher into a rule engine.
func newAlerting(rulesPath string, logger *slog.Logger, opts ...notify.Option) (*alert.Engine, *notify.Dispatcher, error) {
	var (
		set types.RuleSet
		err error
	)
	if rulesPath != "" {
		set, err = config.LoadRules(rulesPath)
	} else {
		set, err = config.ParseRules([]byte("{}"))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading alert rules: %w", err)
	}
	opts = append([]notify.Option{notify.WithLogger(logger)}, opts...)
	disp, err := notify.NewDispatcher(set.Channels, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	return alert.NewEngine(set.Rules, disp, alert.WithLogger(logger)), disp, nil
}

// universeOf infers the universe of a run directory laid out as
// <universe>/<batch>/<run>.
func universeOf(runDir string) string {
	return filepath.Base(filepath.Dir(filepath.Dir(filepath.Clean(runDir))))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
