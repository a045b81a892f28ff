// Package runtime supervises the periodic tasks: one poller per device, one
// PID loop per enabled controller. On every configuration apply it
// reconciles the running set against the new snapshot.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"scada-core/internal/alarm"
	"scada-core/internal/config"
	"scada-core/internal/pid"
	"scada-core/internal/pipeline"
	"scada-core/internal/pointcache"
	"scada-core/internal/poller"
	"scada-core/internal/regmap"
	"scada-core/internal/registry"
)

type runningLoop struct {
	cancel   context.CancelFunc
	interval time.Duration
}

type Supervisor struct {
	reg    *registry.Registry
	cache  *pointcache.Cache
	pipe   *pipeline.Pipeline
	alarms *alarm.Engine
	mapper *regmap.Mapper

	devices []config.Device

	mu      sync.Mutex
	running map[string]runningLoop // by controller id
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewSupervisor(reg *registry.Registry, cache *pointcache.Cache, pipe *pipeline.Pipeline, alarms *alarm.Engine, mapper *regmap.Mapper, devices []config.Device) *Supervisor {
	return &Supervisor{
		reg:     reg,
		cache:   cache,
		pipe:    pipe,
		alarms:  alarms,
		mapper:  mapper,
		devices: devices,
		running: make(map[string]runningLoop),
	}
}

// Start launches the device pollers and the config watch loop, then brings
// the PID loop set in line with the current snapshot.
func (s *Supervisor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	for _, dev := range s.devices {
		p := poller.New(dev, s.mapper, s.pipe)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			p.Run(ctx)
		}()
	}

	s.reconcile(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.reg.Watch():
				log.Info().Uint64("version", s.reg.Current().Version).Msg("Configuration change applied")
				s.alarms.SyncDisabled(time.Now())
				s.cache.Prune(s.reg.Current().Points)
				s.reconcile(ctx)
			}
		}
	}()
}

// Stop cancels every task and waits for them to drain.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// reconcile starts loops for newly enabled controllers, restarts loops whose
// interval changed, and cancels loops for controllers that are gone or
// disabled. Cancellation lands by the controller's next tick.
func (s *Supervisor) reconcile(ctx context.Context) {
	snap := s.reg.Current()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, run := range s.running {
		c, ok := snap.Controllers[id]
		if ok && c.Enabled && c.Interval == run.interval {
			continue
		}
		run.cancel()
		delete(s.running, id)
		log.Info().Str("controller", id).Msg("Stopped PID loop")
	}

	for id, c := range snap.Controllers {
		if !c.Enabled {
			continue
		}
		if _, ok := s.running[id]; ok {
			continue
		}

		loopCtx, cancel := context.WithCancel(ctx)
		s.running[id] = runningLoop{cancel: cancel, interval: c.Interval}

		l := pid.NewLoop(id, s.reg, s.cache, s.pipe)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			l.Run(loopCtx)
		}()
	}
}
