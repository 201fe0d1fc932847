package main

import (
	"context"
	"fmt"

	"CryptoBeacon/internal/bench"
	"CryptoBeacon/internal/collector"
	"CryptoBeacon/internal/config"
	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/recorder"
	"CryptoBeacon/internal/registry"
	"CryptoBeacon/internal/report"
	"CryptoBeacon/internal/telemetry"
)

// app holds the wired components and the resources to release on exit.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	service  *bench.Service
	recorder recorder.Recorder
	metrics  *telemetry.Metrics
	closers  []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	logging.InitGlobalLogger(cfg.Logging)
	return cfg, nil
}

// newApp wires the pipeline. outDir overrides the report directory when set.
func newApp(ctx context.Context, cfg *config.Config, outDir string) (*app, error) {
	a := &app{cfg: cfg, log: logging.NewComponentLogger("main"), metrics: telemetry.New()}

	ds := cfg.DataSource
	fetcher, err := collector.NewFetcher(ds.Provider, ds.BaseURL, ds.CSVDir, cfg.Proxy, ds.RateLimit)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Addr != "" {
		cached, err := collector.NewCachedFetcher(fetcher, cfg.Cache.Addr, cfg.Cache.DB, cfg.Cache.Password, cfg.Cache.TTL)
		if err != nil {
			a.log.Warnf("redis cache unavailable, fetching directly: %v", err)
		} else {
			fetcher = cached
			a.closers = append(a.closers, cached.Close)
		}
	}
	a.log.Infof("data source: %s", fetcher.Name())
	loader := collector.NewLoader(fetcher, ds.Interval, ds.GapTolerance)

	reg, err := registry.NewRegistry(cfg.Registry.StateFile, cfg.Selection.CurrentModel)
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}

	a.recorder = recorder.NewNoopRecorder()
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			a.log.Warnf("init sqlite recorder failed, using noop: %v", err)
		} else {
			a.recorder = sr
			a.closers = append(a.closers, sr.Close)
		}
	}

	dir := cfg.Report.OutputDir
	if outDir != "" {
		dir = outDir
	}
	local, err := report.NewLocalStore(dir)
	if err != nil {
		return nil, err
	}
	var store report.ArtifactStore = local
	if cfg.Report.S3Bucket != "" {
		s3, err := report.NewS3Store(ctx, cfg.Report.S3Region, cfg.Report.S3Bucket, cfg.Report.S3Prefix)
		if err != nil {
			a.log.Warnf("s3 report store unavailable: %v", err)
		} else {
			store = report.MultiStore{local, s3}
		}
	}

	a.service, err = bench.New(cfg, loader, bench.Options{
		Registry: reg,
		Recorder: a.recorder,
		Store:    store,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warnf("close: %v", err)
		}
	}
}
