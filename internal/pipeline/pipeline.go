// Package pipeline is the ingestion path for every sample: stale guard,
// aggregation, scaling, cache update, throttled history persistence and the
// synchronous hand-off to the alarm engine. Write is the inverse entry point
// that additionally pushes values out through the register mapper.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"scada-core/internal/alarm"
	"scada-core/internal/faults"
	"scada-core/internal/history"
	"scada-core/internal/metrics"
	"scada-core/internal/model"
	"scada-core/internal/pointcache"
	"scada-core/internal/regmap"
	"scada-core/internal/registry"
)

type Pipeline struct {
	reg    *registry.Registry
	cache  *pointcache.Cache
	store  *history.Store
	alarms *alarm.Engine
	mapper *regmap.Mapper
}

func New(reg *registry.Registry, cache *pointcache.Cache, store *history.Store, alarms *alarm.Engine, mapper *regmap.Mapper) *Pipeline {
	return &Pipeline{reg: reg, cache: cache, store: store, alarms: alarms, mapper: mapper}
}

// BatchResult is the per-batch ingestion outcome. Stale drops are expected
// under at-least-once delivery and are not errors.
type BatchResult struct {
	Accepted int `json:"accepted"`
	Stale    int `json:"stale"`
	Skipped  int `json:"skipped"`
}

// errPointDisabled lets IngestBatch tally disabled points under Skipped;
// Ingest swallows it, so callers still see a plain no-op.
var errPointDisabled = errors.New("point disabled")

// Ingest runs one raw sample through the acceptance path. Out-of-order
// samples return ErrStaleSample; unknown points return ErrNotFound; disabled
// points are a silent no-op.
func (p *Pipeline) Ingest(pointID string, raw float64, at time.Time) error {
	if err := p.ingest(pointID, raw, at); err != nil && !errors.Is(err, errPointDisabled) {
		return err
	}
	return nil
}

func (p *Pipeline) ingest(pointID string, raw float64, at time.Time) error {
	snap := p.reg.Current()
	pt, ok := snap.Points[pointID]
	if !ok {
		return fmt.Errorf("point %s: %w", pointID, faults.ErrNotFound)
	}
	if !pt.Enabled {
		return errPointDisabled
	}

	window := 1
	if pt.Aggregation == model.AggAverage && pt.SampleCount > 1 {
		window = pt.SampleCount
	}

	var convert func(float64) float64
	if pt.Scalable {
		if pt.RawMax == pt.RawMin {
			// Apply-time validation rejects this; never divide through it.
			return faults.Config("point "+pt.ID, "raw_range", "zero-width raw range")
		}
		rawMin, rawMax, scaleMin, scaleMax := pt.RawMin, pt.RawMax, pt.ScaleMin, pt.ScaleMax
		convert = func(v float64) float64 {
			return scaleMin + (v-rawMin)*(scaleMax-scaleMin)/(rawMax-rawMin)
		}
	}

	val, save, err := p.cache.Commit(pointID, raw, at, window, pt.HistoryInterval, convert)
	if err != nil {
		if errors.Is(err, faults.ErrStaleSample) {
			metrics.Count("pipeline.stale_dropped", 1, "point:"+pointID)
		}
		return err
	}

	p.accepted(pt, val, save)
	return nil
}

// IngestBatch delivers a batch of samples, tolerating duplicates and
// redeliveries; each sample's outcome is tallied independently.
func (p *Pipeline) IngestBatch(samples []model.Sample) BatchResult {
	var res BatchResult
	for _, s := range samples {
		err := p.ingest(s.PointID, s.Value, s.At)
		switch {
		case err == nil:
			res.Accepted++
		case errors.Is(err, faults.ErrStaleSample):
			res.Stale++
		case errors.Is(err, errPointDisabled):
			res.Skipped++
		default:
			res.Skipped++
			log.Warn().Err(err).Str("point", s.PointID).Msg("Sample rejected")
		}
	}
	return res
}

// Write is the output entry point used by the PID engine and operator
// writes. The value is already in engineering units: it re-enters ingest
// semantics for cache, history and alarms, then fans out to any configured
// write mappings.
func (p *Pipeline) Write(pointID string, value float64, at time.Time) (regmap.WriteResult, error) {
	snap := p.reg.Current()
	pt, ok := snap.Points[pointID]
	if !ok {
		return regmap.WriteResult{}, fmt.Errorf("point %s: %w", pointID, faults.ErrNotFound)
	}
	if !pt.Enabled {
		return regmap.WriteResult{}, nil
	}

	val, save, err := p.cache.Commit(pointID, value, at, 1, pt.HistoryInterval, nil)
	if err != nil {
		return regmap.WriteResult{}, err
	}

	p.accepted(pt, val, save)

	res := p.mapper.WriteRegister(pointID, value, at)
	if res.Partial() {
		log.Warn().
			Str("point", pointID).
			Int("attempted", res.Attempted).
			Int("failed", len(res.Failures)).
			Msg("Partial register write")
	}
	return res, nil
}

// accepted finishes the common path after a cache commit: metrics, throttled
// history persistence and the synchronous alarm push.
func (p *Pipeline) accepted(pt *model.MonitoringPoint, val model.PointValue, save bool) {
	metrics.Gauge("point.value", val.Value, "point:"+pt.ID)

	if save {
		if err := p.store.SaveSample(val); err != nil {
			log.Warn().Err(err).Str("point", pt.ID).Msg("Failed to persist sample")
		}
	}

	p.alarms.Evaluate(pt.ID, val.Value, val.At)
}
