// Package coreapi is the facade the web/API layer consumes. Every call
// returns a structured result or error; nothing panics across the boundary.
package coreapi

import (
	"fmt"
	"time"

	"scada-core/internal/alarm"
	"scada-core/internal/faults"
	"scada-core/internal/globals"
	"scada-core/internal/history"
	"scada-core/internal/model"
	"scada-core/internal/pipeline"
	"scada-core/internal/pointcache"
	"scada-core/internal/regmap"
	"scada-core/internal/registry"
)

type Service struct {
	reg    *registry.Registry
	cache  *pointcache.Cache
	store  *history.Store
	alarms *alarm.Engine
	pipe   *pipeline.Pipeline
	vars   *globals.Store
}

func NewService(reg *registry.Registry, cache *pointcache.Cache, store *history.Store, alarms *alarm.Engine, pipe *pipeline.Pipeline, vars *globals.Store) *Service {
	return &Service{reg: reg, cache: cache, store: store, alarms: alarms, pipe: pipe, vars: vars}
}

func (s *Service) GetCurrentValue(pointID string) (model.PointValue, error) {
	if _, ok := s.reg.Current().Points[pointID]; !ok {
		return model.PointValue{}, fmt.Errorf("point %s: %w", pointID, faults.ErrNotFound)
	}
	v, ok := s.cache.Get(pointID)
	if !ok {
		return model.PointValue{}, fmt.Errorf("point %s has no value yet: %w", pointID, faults.ErrNotFound)
	}
	return v, nil
}

// GetValues returns cached values for the requested points, or for every
// point when none are named. Points without a sample yet are omitted.
func (s *Service) GetValues(pointIDs ...string) []model.PointValue {
	return s.cache.Snapshot(pointIDs...)
}

func (s *Service) GetHistory(pointID string, from, to time.Time) ([]model.PointValue, error) {
	return s.store.GetHistory(pointID, from, to)
}

func (s *Service) ListActiveAlarms(pointIDs ...string) []model.ActiveAlarm {
	return s.alarms.ListActive(pointIDs...)
}

func (s *Service) ListAlarmHistory(from, to time.Time, pointIDs ...string) ([]model.AlarmEvent, error) {
	return s.store.ListAlarmEvents(from, to, pointIDs...)
}

func (s *Service) WriteValue(pointID string, value float64, at time.Time) (regmap.WriteResult, error) {
	return s.pipe.Write(pointID, value, at)
}

func (s *Service) SetGlobalVariable(name string, value any) error {
	return s.vars.Set(name, value)
}

func (s *Service) GetGlobalVariableUsage(name string) []globals.Reference {
	return s.vars.Usage(name)
}

// IngestBatch accepts externally pushed samples, delivered at-least-once by
// the upstream queue. Duplicates and reordered redeliveries are dropped by
// the pipeline's timestamp guard.
func (s *Service) IngestBatch(samples []model.Sample) pipeline.BatchResult {
	return s.pipe.IngestBatch(samples)
}

// ApplyConfig swaps in a new configuration snapshot. Validation problems are
// reported here, at apply time, never during a running tick.
func (s *Service) ApplyConfig(cfg registry.Config) error {
	return s.reg.Apply(cfg)
}
