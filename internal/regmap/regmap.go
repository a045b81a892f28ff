// Package regmap translates configured (device, byte offset, bit offset,
// data type) tuples into typed reads and writes against the device driver.
package regmap

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"scada-core/internal/config"
	"scada-core/internal/driver"
	"scada-core/internal/faults"
	"scada-core/internal/model"
	"scada-core/internal/registry"
)

// MappingFailure records one unreachable or undecodable mapping during a
// fan-out write.
type MappingFailure struct {
	MappingID string
	DeviceID  string
	Err       error
}

// WriteResult reports the outcome of a fan-out register write. Partial
// failure is not a hard failure: every mapping is attempted.
type WriteResult struct {
	Attempted int
	Failures  []MappingFailure
}

func (r WriteResult) Failed() bool {
	return len(r.Failures) > 0 && len(r.Failures) == r.Attempted
}

func (r WriteResult) Partial() bool {
	return len(r.Failures) > 0 && len(r.Failures) < r.Attempted
}

type Mapper struct {
	drv     driver.Driver
	devices map[string]config.Device
	reg     *registry.Registry
}

func New(drv driver.Driver, devices []config.Device, reg *registry.Registry) *Mapper {
	byID := make(map[string]config.Device, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}
	return &Mapper{drv: drv, devices: byID, reg: reg}
}

// ReadDevice runs one poll cycle for the device: a single block read decoded
// through every read mapping into raw samples stamped with now.
func (m *Mapper) ReadDevice(deviceID string, now time.Time) ([]model.Sample, error) {
	dev, ok := m.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, faults.ErrNotFound)
	}

	block, err := m.drv.ReadBlock(dev)
	if err != nil {
		return nil, err
	}

	snap := m.reg.Current()
	mappings := snap.ReadsByDevice[deviceID]

	samples := make([]model.Sample, 0, len(mappings))
	for _, mp := range mappings {
		raw, err := decode(block, mp)
		if err != nil {
			log.Warn().Err(err).Str("mapping", mp.ID).Str("device", deviceID).Msg("Skipping undecodable mapping")
			continue
		}
		samples = append(samples, model.Sample{PointID: mp.PointID, Value: raw, At: now})
	}
	return samples, nil
}

// WriteRegister fans the value out to every write mapping configured for the
// point. All mappings are attempted; failures are collected per mapping.
func (m *Mapper) WriteRegister(pointID string, value float64, at time.Time) WriteResult {
	snap := m.reg.Current()

	var res WriteResult
	for _, mp := range snap.WritesByPoint[pointID] {
		res.Attempted++

		dev, ok := m.devices[mp.DeviceID]
		if !ok {
			res.Failures = append(res.Failures, MappingFailure{
				MappingID: mp.ID, DeviceID: mp.DeviceID,
				Err: fmt.Errorf("device %s: %w", mp.DeviceID, faults.ErrNotFound),
			})
			continue
		}

		var err error
		if mp.BitOffset != nil {
			err = m.drv.WriteBit(dev, mp.ByteOffset, *mp.BitOffset, value != 0)
		} else {
			err = m.drv.WriteWord(dev, mp.ByteOffset, mp.DataType, value)
		}
		if err != nil {
			log.Warn().Err(err).
				Str("point", pointID).
				Str("mapping", mp.ID).
				Str("device", mp.DeviceID).
				Msg("Register write failed")
			res.Failures = append(res.Failures, MappingFailure{MappingID: mp.ID, DeviceID: mp.DeviceID, Err: err})
		}
	}
	return res
}

// decode pulls one mapping's raw value out of a block read. Big-endian
// register layout, matching the driver's encode side.
func decode(block []byte, mp *model.RegisterMapping) (float64, error) {
	if mp.BitOffset != nil {
		if mp.ByteOffset >= len(block) {
			return 0, fmt.Errorf("byte offset %d beyond block of %d", mp.ByteOffset, len(block))
		}
		if *mp.BitOffset < 0 || *mp.BitOffset > 7 {
			return 0, fmt.Errorf("bit offset %d out of range", *mp.BitOffset)
		}
		if block[mp.ByteOffset]&(1<<uint(*mp.BitOffset)) != 0 {
			return 1, nil
		}
		return 0, nil
	}

	width := mp.DataType.Width()
	if mp.ByteOffset+width > len(block) {
		return 0, fmt.Errorf("field of %d bytes at offset %d beyond block of %d", width, mp.ByteOffset, len(block))
	}

	b := block[mp.ByteOffset:]
	switch mp.DataType {
	case model.TypeBool:
		if b[0] != 0 {
			return 1, nil
		}
		return 0, nil
	case model.TypeInt16:
		return float64(int16(binary.BigEndian.Uint16(b))), nil
	case model.TypeUint16:
		return float64(binary.BigEndian.Uint16(b)), nil
	case model.TypeInt32:
		return float64(int32(binary.BigEndian.Uint32(b))), nil
	case model.TypeUint32:
		return float64(binary.BigEndian.Uint32(b)), nil
	case model.TypeFloat32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	default:
		return 0, fmt.Errorf("unsupported data type: %s", mp.DataType)
	}
}
