package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"virtius.io/virtius/cloak"
	"virtius.io/virtius/config"
	"virtius.io/virtius/logging"
	"virtius.io/virtius/pipeline"
	"virtius.io/virtius/registry"
	"virtius.io/virtius/service"
	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/casregistry"
	"virtius.io/virtius/tracing"
)

// appOverrides carries command-line settings that win over the config file.
type appOverrides struct {
	level string
}

// app is the storage-backed environment shared by the service commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	cas    storage.CAS
	reg    *registry.Registry
	svc    *service.Service

	closers []func() error
}

func openApp(ctx context.Context, configPath string, override func(*appOverrides)) (a *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	var ov appOverrides
	if override != nil {
		override(&ov)
	}
	if ov.level != "" {
		cfg.Pipeline.Level = ov.level
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logger, closeLog, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, closeLog)

	shutdown, err := tracing.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	cas, closeCAS, err := cfg.Storage.Open(casregistry.UsageCLI, "")
	if err != nil {
		return nil, err
	}
	a.cas = cas
	if closeCAS != nil {
		a.closers = append(a.closers, closeCAS)
	}

	if dir := filepath.Dir(cfg.Registry.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}
	a.reg = reg
	a.closers = append(a.closers, reg.Close)

	level, err := cloak.ParseLevel(cfg.Pipeline.Level)
	if err != nil {
		return nil, err
	}
	protector := pipeline.New(
		pipeline.WithLevel(level),
		pipeline.WithLogger(logger),
		pipeline.WithChunkSize(cfg.Pipeline.ChunkSize),
		pipeline.WithMaxPixels(cfg.Pipeline.MaxPixels),
	)
	a.svc = service.New(cas, reg, protector, logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errList []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	a.closers = nil
	return errors.Join(errList...)
}
