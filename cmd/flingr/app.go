package main

import (
	"fmt"
	"log/slog"

	"github.com/postalsys/flingr/internal/config"
	"github.com/postalsys/flingr/internal/crypto"
	"github.com/postalsys/flingr/internal/health"
	"github.com/postalsys/flingr/internal/history"
	"github.com/postalsys/flingr/internal/logging"
	"github.com/postalsys/flingr/internal/metrics"
	"github.com/postalsys/flingr/internal/resolver"
	"github.com/postalsys/flingr/internal/signer"
	"github.com/postalsys/flingr/internal/transfer"
)

type globalOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
}

// app holds the wiring shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newApp(opts *globalOptions) (*app, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if opts.dataDir != "" {
		cfg.Agent.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.Agent.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Agent.LogFormat = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Agent.LogLevel, cfg.Agent.LogFormat)
	logger.Debug("configuration loaded", "config", cfg.String())

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.Default()
	}
	return a, nil
}

func (a *app) lookupClient() (*resolver.Client, error) {
	lc := a.cfg.Lookup
	if lc.AccessKey == "" || lc.SecretKey == "" {
		return nil, fmt.Errorf("lookup.access_key and lookup.secret_key must be configured")
	}

	return resolver.NewClient(resolver.ClientConfig{
		BaseURL:   lc.BaseURL,
		Path:      lc.Path,
		TableName: lc.TableName,
		Signer: signer.New(signer.Config{
			AccessKey: lc.AccessKey,
			SecretKey: lc.SecretKey,
			Region:    lc.Region,
			Service:   lc.Service,
		}),
		HTTPClient: newHTTPClient(lc.RequestTimeout),
		Logger:     a.logger,
	})
}

func (a *app) resolver() (*resolver.Resolver, error) {
	client, err := a.lookupClient()
	if err != nil {
		return nil, err
	}
	return resolver.New(resolver.Config{
		Lookup:  client,
		Logger:  a.logger,
		Metrics: a.metrics,
	}), nil
}

func (a *app) engine() (*transfer.Engine, error) {
	chunk, err := a.cfg.ChunkSizeBytes()
	if err != nil {
		return nil, err
	}
	rate, err := a.cfg.RateLimitBytes()
	if err != nil {
		return nil, err
	}

	return transfer.New(transfer.Config{
		Dialer: &transfer.SSHDialer{
			ConnectTimeout: a.cfg.Transfer.ConnectTimeout,
			Logger:         a.logger,
			Metrics:        a.metrics,
		},
		ChunkSize: chunk,
		RateLimit: rate,
		Logger:    a.logger,
		Metrics:   a.metrics,
	}), nil
}

// openHistory opens the history store, creating the sealing key on first use.
func (a *app) openHistory() (*history.Store, error) {
	key, created, err := crypto.LoadOrCreateKey(a.cfg.Agent.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load sealing key: %w", err)
	}
	if created {
		a.logger.Info("created sealing key", "data_dir", a.cfg.Agent.DataDir)
	}

	store, path, err := history.Open(a.cfg.Agent.DataDir, crypto.NewSealer(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	a.logger.Debug("history opened", "path", path)
	return store, nil
}

// startHealth starts the metrics endpoint when enabled. The returned stop
// func is always safe to call.
func (a *app) startHealth(provider health.StatsProvider) func() {
	if !a.cfg.Metrics.Enabled {
		return func() {}
	}

	cfg := health.DefaultServerConfig()
	cfg.Address = a.cfg.Metrics.Address
	cfg.Logger = a.logger

	srv := health.NewServer(cfg, provider)
	if err := srv.Start(); err != nil {
		a.logger.Warn("metrics server not started", logging.KeyAddress, cfg.Address, logging.KeyError, err)
		return func() {}
	}
	a.logger.Info("metrics server listening", logging.KeyAddress, srv.Address().String())
	return func() { srv.Stop() }
}

// engineStats adapts a transfer engine to the health endpoint.
type engineStats struct {
	engine *transfer.Engine
}

func (s engineStats) Stats() health.Stats {
	return health.Stats{ActiveTransfers: s.engine.Active()}
}
