package pid

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"scada-core/internal/metrics"
	"scada-core/internal/pipeline"
	"scada-core/internal/pointcache"
	"scada-core/internal/registry"
)

// Loop schedules one controller. The supervisor starts a Loop per enabled
// controller and cancels it when the controller disappears from the
// snapshot; the loop also re-reads the snapshot each tick so disabling takes
// effect by the next tick at the latest.
type Loop struct {
	controllerID string
	reg          *registry.Registry
	cache        *pointcache.Cache
	pipe         *pipeline.Pipeline
	state        State
}

func NewLoop(controllerID string, reg *registry.Registry, cache *pointcache.Cache, pipe *pipeline.Pipeline) *Loop {
	return &Loop{controllerID: controllerID, reg: reg, cache: cache, pipe: pipe}
}

func (l *Loop) Run(ctx context.Context) {
	c := l.reg.Current().Controllers[l.controllerID]
	if c == nil {
		return
	}

	log.Info().
		Str("controller", l.controllerID).
		Str("input", c.InputPointID).
		Str("output", c.OutputPointID).
		Dur("interval", c.Interval).
		Msg("Starting PID loop")

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("controller", l.controllerID).Msg("PID loop stopped")
			return
		case now := <-ticker.C:
			l.tick(now)
		}
	}
}

func (l *Loop) tick(now time.Time) {
	c := l.reg.Current().Controllers[l.controllerID]
	if c == nil || !c.Enabled {
		return
	}

	input, ok := l.cache.Get(c.InputPointID)
	if !ok {
		// Never-sampled input: hold the previous output, write nothing.
		log.Debug().
			Str("controller", l.controllerID).
			Str("input", c.InputPointID).
			Msg("No cached input value, skipping tick")
		return
	}

	out := Step(c, &l.state, input.Value)
	metrics.Gauge("pid.output", out, "controller:"+l.controllerID)

	if _, err := l.pipe.Write(c.OutputPointID, out, now); err != nil {
		log.Warn().Err(err).
			Str("controller", l.controllerID).
			Str("output", c.OutputPointID).
			Msg("Failed to write controller output")
	}
}
