package regmap_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scada-core/internal/config"
	"scada-core/internal/faults"
	"scada-core/internal/model"
	"scada-core/internal/regmap"
	"scada-core/internal/registry"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type bitWrite struct {
	device string
	byteoff, bitoff int
	on bool
}

type wordWrite struct {
	device  string
	byteoff int
	dt      model.DataType
	value   float64
}

// fakeDriver is an in-memory device driver: one block per device id,
// recorded writes, optional per-device failure.
type fakeDriver struct {
	blocks     map[string][]byte
	down       map[string]bool
	bitWrites  []bitWrite
	wordWrites []wordWrite
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{blocks: map[string][]byte{}, down: map[string]bool{}}
}

func (d *fakeDriver) ReadBlock(dev config.Device) ([]byte, error) {
	if d.down[dev.ID] {
		return nil, faults.ErrDeviceUnavailable
	}
	return d.blocks[dev.ID], nil
}

func (d *fakeDriver) WriteBit(dev config.Device, byteOffset, bitOffset int, on bool) error {
	if d.down[dev.ID] {
		return faults.ErrDeviceUnavailable
	}
	d.bitWrites = append(d.bitWrites, bitWrite{dev.ID, byteOffset, bitOffset, on})
	return nil
}

func (d *fakeDriver) WriteWord(dev config.Device, byteOffset int, dt model.DataType, value float64) error {
	if d.down[dev.ID] {
		return faults.ErrDeviceUnavailable
	}
	d.wordWrites = append(d.wordWrites, wordWrite{dev.ID, byteOffset, dt, value})
	return nil
}

func devices() []config.Device {
	return []config.Device{
		{ID: "d1", Address: "10.0.0.1:502", BlockLength: 8, PollInterval: time.Second},
		{ID: "d2", Address: "10.0.0.2:502", BlockLength: 8, PollInterval: time.Second},
	}
}

func applyMappings(t *testing.T, reg *registry.Registry, mappings []model.RegisterMapping) {
	points := map[string]bool{}
	var cfg registry.Config
	for _, m := range mappings {
		if !points[m.PointID] {
			points[m.PointID] = true
			cfg.Points = append(cfg.Points, model.MonitoringPoint{
				ID: m.PointID, Kind: model.KindAnalogInput, Address: len(points), Enabled: true,
			})
		}
	}
	cfg.Mappings = mappings
	require.NoError(t, reg.Apply(cfg))
}

func TestReadDeviceDecodesMappings(t *testing.T) {
	drv := newFakeDriver()
	negWord := int16(-7)
	negDword := int32(-100000)
	block := make([]byte, 16)
	binary.BigEndian.PutUint16(block[0:], 4095)                   // uint16 at byte 0
	binary.BigEndian.PutUint16(block[2:], uint16(negWord))        // int16 at byte 2
	binary.BigEndian.PutUint32(block[4:], math.Float32bits(21.5)) // float32 at byte 4
	binary.BigEndian.PutUint32(block[8:], uint32(negDword))       // int32 at byte 8
	block[12] = 1 << 3                                            // bit 3 of byte 12
	drv.blocks["d1"] = block

	reg := registry.New()
	bit := 3
	applyMappings(t, reg, []model.RegisterMapping{
		{ID: "m1", DeviceID: "d1", PointID: "p1", ByteOffset: 0, Direction: model.DirectionRead, DataType: model.TypeUint16},
		{ID: "m2", DeviceID: "d1", PointID: "p2", ByteOffset: 2, Direction: model.DirectionRead, DataType: model.TypeInt16},
		{ID: "m3", DeviceID: "d1", PointID: "p3", ByteOffset: 4, Direction: model.DirectionRead, DataType: model.TypeFloat32},
		{ID: "m4", DeviceID: "d1", PointID: "p4", ByteOffset: 8, Direction: model.DirectionRead, DataType: model.TypeInt32},
		{ID: "m5", DeviceID: "d1", PointID: "p5", ByteOffset: 12, BitOffset: &bit, Direction: model.DirectionRead, DataType: model.TypeBool},
	})

	m := regmap.New(drv, devices(), reg)
	samples, err := m.ReadDevice("d1", t0)
	require.NoError(t, err)
	require.Len(t, samples, 5)

	byPoint := map[string]float64{}
	for _, s := range samples {
		assert.Equal(t, t0, s.At)
		byPoint[s.PointID] = s.Value
	}
	assert.Equal(t, 4095.0, byPoint["p1"])
	assert.Equal(t, -7.0, byPoint["p2"])
	assert.InDelta(t, 21.5, byPoint["p3"], 1e-6)
	assert.Equal(t, -100000.0, byPoint["p4"])
	assert.Equal(t, 1.0, byPoint["p5"])
}

func TestReadDeviceSkipsOutOfRangeMapping(t *testing.T) {
	drv := newFakeDriver()
	drv.blocks["d1"] = make([]byte, 2)

	reg := registry.New()
	applyMappings(t, reg, []model.RegisterMapping{
		{ID: "m1", DeviceID: "d1", PointID: "p1", ByteOffset: 0, Direction: model.DirectionRead, DataType: model.TypeUint16},
		{ID: "m2", DeviceID: "d1", PointID: "p2", ByteOffset: 10, Direction: model.DirectionRead, DataType: model.TypeUint16},
	})

	m := regmap.New(drv, devices(), reg)
	samples, err := m.ReadDevice("d1", t0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "p1", samples[0].PointID)
}

func TestReadDeviceUnavailable(t *testing.T) {
	drv := newFakeDriver()
	drv.down["d1"] = true

	reg := registry.New()
	applyMappings(t, reg, []model.RegisterMapping{
		{ID: "m1", DeviceID: "d1", PointID: "p1", ByteOffset: 0, Direction: model.DirectionRead, DataType: model.TypeUint16},
	})

	m := regmap.New(drv, devices(), reg)
	_, err := m.ReadDevice("d1", t0)
	assert.True(t, errors.Is(err, faults.ErrDeviceUnavailable))

	_, err = m.ReadDevice("ghost", t0)
	assert.True(t, errors.Is(err, faults.ErrNotFound))
}

func TestWriteRegisterFanOut(t *testing.T) {
	drv := newFakeDriver()
	reg := registry.New()
	bit := 0
	applyMappings(t, reg, []model.RegisterMapping{
		{ID: "m1", DeviceID: "d1", PointID: "p1", ByteOffset: 4, Direction: model.DirectionWrite, DataType: model.TypeFloat32},
		{ID: "m2", DeviceID: "d2", PointID: "p1", ByteOffset: 6, BitOffset: &bit, Direction: model.DirectionWrite, DataType: model.TypeBool},
	})

	m := regmap.New(drv, devices(), reg)
	res := m.WriteRegister("p1", 33.0, t0)

	assert.Equal(t, 2, res.Attempted)
	assert.Empty(t, res.Failures)
	require.Len(t, drv.wordWrites, 1)
	assert.Equal(t, wordWrite{"d1", 4, model.TypeFloat32, 33.0}, drv.wordWrites[0])
	require.Len(t, drv.bitWrites, 1)
	assert.Equal(t, bitWrite{"d2", 6, 0, true}, drv.bitWrites[0])
}

func TestWriteRegisterPartialFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.down["d2"] = true

	reg := registry.New()
	applyMappings(t, reg, []model.RegisterMapping{
		{ID: "m1", DeviceID: "d1", PointID: "p1", ByteOffset: 0, Direction: model.DirectionWrite, DataType: model.TypeUint16},
		{ID: "m2", DeviceID: "d2", PointID: "p1", ByteOffset: 0, Direction: model.DirectionWrite, DataType: model.TypeUint16},
	})

	m := regmap.New(drv, devices(), reg)
	res := m.WriteRegister("p1", 7, t0)

	// The reachable device still got its write.
	assert.Equal(t, 2, res.Attempted)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "d2", res.Failures[0].DeviceID)
	assert.True(t, res.Partial())
	assert.False(t, res.Failed())
	require.Len(t, drv.wordWrites, 1)
	assert.Equal(t, "d1", drv.wordWrites[0].device)
}

func TestWriteRegisterNoMappings(t *testing.T) {
	drv := newFakeDriver()
	reg := registry.New()
	require.NoError(t, reg.Apply(registry.Config{}))

	m := regmap.New(drv, devices(), reg)
	res := m.WriteRegister("p1", 1, t0)
	assert.Equal(t, 0, res.Attempted)
	assert.False(t, res.Failed())
}
