// Package poller drives the per-device read cycles. Each device gets its own
// goroutine and interval; a failed cycle is skipped and retried next tick
// without touching any other device.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"scada-core/internal/config"
	"scada-core/internal/metrics"
	"scada-core/internal/pipeline"
	"scada-core/internal/regmap"
)

type Poller struct {
	dev    config.Device
	mapper *regmap.Mapper
	pipe   *pipeline.Pipeline
}

func New(dev config.Device, mapper *regmap.Mapper, pipe *pipeline.Pipeline) *Poller {
	return &Poller{dev: dev, mapper: mapper, pipe: pipe}
}

func (p *Poller) Run(ctx context.Context) {
	log.Info().
		Str("device", p.dev.ID).
		Str("addr", p.dev.Address).
		Dur("interval", p.dev.PollInterval).
		Msg("Starting device poller")

	ticker := time.NewTicker(p.dev.PollInterval)
	defer ticker.Stop()

	p.cycle(time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("device", p.dev.ID).Msg("Device poller stopped")
			return
		case now := <-ticker.C:
			p.cycle(now)
		}
	}
}

func (p *Poller) cycle(now time.Time) {
	samples, err := p.mapper.ReadDevice(p.dev.ID, now)
	if err != nil {
		log.Warn().Err(err).Str("device", p.dev.ID).Msg("Poll cycle skipped")
		metrics.Count("device.read_errors", 1, "device:"+p.dev.ID)
		return
	}

	res := p.pipe.IngestBatch(samples)
	log.Debug().
		Str("device", p.dev.ID).
		Int("accepted", res.Accepted).
		Int("stale", res.Stale).
		Int("skipped", res.Skipped).
		Msg("Poll cycle complete")
}
