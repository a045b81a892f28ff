package poller_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scada-core/internal/alarm"
	"scada-core/internal/config"
	"scada-core/internal/faults"
	"scada-core/internal/globals"
	"scada-core/internal/history"
	"scada-core/internal/model"
	"scada-core/internal/pipeline"
	"scada-core/internal/pointcache"
	"scada-core/internal/poller"
	"scada-core/internal/regmap"
	"scada-core/internal/registry"
)

// blockDriver serves a fixed block and can be flipped unavailable.
type blockDriver struct {
	mu    sync.Mutex
	block []byte
	down  bool
}

func (d *blockDriver) ReadBlock(dev config.Device) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, faults.ErrDeviceUnavailable
	}
	return d.block, nil
}

func (d *blockDriver) WriteBit(config.Device, int, int, bool) error { return nil }

func (d *blockDriver) WriteWord(config.Device, int, model.DataType, float64) error { return nil }

func (d *blockDriver) setDown(down bool) {
	d.mu.Lock()
	d.down = down
	d.mu.Unlock()
}

func TestPollerFeedsPipeline(t *testing.T) {
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.ApplySchema("../../db/schema.sql"))
	t.Cleanup(func() { store.Close() })

	reg := registry.New()
	require.NoError(t, reg.Apply(registry.Config{
		Points: []model.MonitoringPoint{
			{ID: "p1", Kind: model.KindAnalogInput, DeviceID: "d1", Address: 0, Enabled: true},
		},
		Mappings: []model.RegisterMapping{
			{ID: "m1", DeviceID: "d1", PointID: "p1", ByteOffset: 0, Direction: model.DirectionRead, DataType: model.TypeUint16},
		},
	}))

	block := make([]byte, 4)
	binary.BigEndian.PutUint16(block, 1234)
	drv := &blockDriver{block: block}

	dev := config.Device{ID: "d1", Address: "10.0.0.1:502", BlockLength: 2, PollInterval: 10 * time.Millisecond}
	cache := pointcache.New()
	vars := globals.New(reg)
	engine := alarm.NewEngine(reg, cache, store, vars)
	mapper := regmap.New(drv, []config.Device{dev}, reg)
	pipe := pipeline.New(reg, cache, store, engine, mapper)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := poller.New(dev, mapper, pipe)
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		v, ok := cache.Get("p1")
		return ok && v.Value == 1234.0
	}, time.Second, 5*time.Millisecond)

	// An unreachable device skips cycles without disturbing the cache.
	drv.setDown(true)
	time.Sleep(50 * time.Millisecond)
	v, ok := cache.Get("p1")
	require.True(t, ok)
	assert.Equal(t, 1234.0, v.Value)

	cancel()
	<-done
}
