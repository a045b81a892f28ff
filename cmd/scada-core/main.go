package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"scada-core/internal/alarm"
	"scada-core/internal/config"
	"scada-core/internal/coreapi"
	"scada-core/internal/driver/modbusdrv"
	"scada-core/internal/globals"
	"scada-core/internal/history"
	"scada-core/internal/logging"
	"scada-core/internal/metrics"
	"scada-core/internal/pipeline"
	"scada-core/internal/pointcache"
	"scada-core/internal/regmap"
	"scada-core/internal/registry"
	"scada-core/internal/runtime"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, true)

	log.Info().
		Str("db", cfg.DBPath).
		Int("devices", len(cfg.Devices)).
		Msg("Starting scada-core")

	metrics.Init(cfg.StatsdAddr, cfg.StatsdNamespace, cfg.StatsdTags)

	store, err := history.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history store")
	}
	defer store.Close()

	if err := store.ApplySchema("db/schema.sql"); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	reg := registry.New()
	cache := pointcache.New()
	vars := globals.New(reg)
	alarms := alarm.NewEngine(reg, cache, store, vars)
	mapper := regmap.New(modbusdrv.New(), cfg.Devices, reg)
	pipe := pipeline.New(reg, cache, store, alarms, mapper)

	sup := runtime.NewSupervisor(reg, cache, pipe, alarms, mapper, cfg.Devices)
	svc := coreapi.NewService(reg, cache, store, alarms, pipe, vars)

	// The configuration/storage collaborator drives the core through
	// svc.ApplyConfig on every change; an optional snapshot file seeds the
	// first version. Until then the engines idle on an empty snapshot.
	if cfg.SnapshotFile != "" {
		if err := svc.ApplyConfig(loadSnapshot(cfg.SnapshotFile)); err != nil {
			log.Fatal().Err(err).Msg("Initial configuration rejected")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	sup.Stop()
}

func loadSnapshot(path string) registry.Config {
	file, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to open snapshot file")
	}
	defer file.Close()

	var cfg registry.Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to parse snapshot file")
	}
	return cfg
}
