package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dukex/mixpanel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"portfolio-beacon/beacon"
	"portfolio-beacon/config"
	"portfolio-beacon/geo"
	"portfolio-beacon/logger"
	"portfolio-beacon/metrics"
	"portfolio-beacon/mirror"
	"portfolio-beacon/notification"
	"portfolio-beacon/session"
)

// loadConfig loads and validates configuration.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func createLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", "portfolio-beacon")), nil
}

// newRegistry returns a registry carrying the Go runtime collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newBeacon wires the resolver, sender and optional mirrors.
func newBeacon(cfg *config.Config, log logger.Logger, m *metrics.Metrics) *beacon.Beacon {
	client := &http.Client{Timeout: cfg.Tracking.HTTPTimeout}

	resolver := geo.NewResolver(client, cfg.Tracking.GeoPrimaryURL, cfg.Tracking.GeoFallbackURL)
	sender := beacon.NewFormSender(client)

	opts := []beacon.Option{beacon.WithMetrics(m)}
	if cfg.Mixpanel.Token != "" {
		opts = append(opts, beacon.WithMirrors(
			mirror.NewMixpanel(mixpanel.New(cfg.Mixpanel.Token, mirror.DefaultMixpanelURL)),
		))
		log.Info("Mixpanel mirror enabled")
	}
	if cfg.Notify.Enabled {
		opts = append(opts, beacon.WithMirrors(notification.NewSender(cfg)))
		log.Info("Visit email notifications enabled", logger.Int("recipients", len(cfg.Notify.To)))
	}

	return beacon.New(resolver, sender, log, opts...)
}

// newSessionStore returns the configured flag store and a cleanup func.
func newSessionStore(ctx context.Context, cfg *config.Config, log logger.Logger) (session.Store, func(), error) {
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		rdb, err := session.NewRedisClient(ctx, session.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("Session store connected",
			logger.String("backend", "redis"),
			logger.String("address", cfg.Redis.Address),
			logger.Duration("ttl", cfg.Session.TTL),
		)
		return session.NewRedisStore(rdb, cfg.Session.TTL), func() { closeRedis(rdb, log) }, nil
	default:
		log.Info("Session store ready",
			logger.String("backend", "memory"),
			logger.Int("max_entries", cfg.Session.MaxEntries),
			logger.Duration("ttl", cfg.Session.TTL),
		)
		return session.NewMemoryStore(cfg.Session.MaxEntries, cfg.Session.TTL), func() {}, nil
	}
}

func closeRedis(rdb *redis.Client, log logger.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("Failed to close redis", logger.Error(err))
	}
}
