// Package modbusdrv implements the driver boundary over modbus TCP holding
// registers. Byte offsets map onto registers as offset/2, relative to the
// device's configured block start.
package modbusdrv

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	mb "github.com/goburrow/modbus"
	"github.com/rs/zerolog/log"

	"scada-core/internal/config"
	"scada-core/internal/faults"
	"scada-core/internal/model"
)

type conn struct {
	handler *mb.TCPClientHandler
	client  mb.Client
}

type Driver struct {
	mu    sync.Mutex
	conns map[string]*conn // keyed by device address
}

func New() *Driver {
	return &Driver{conns: make(map[string]*conn)}
}

func (d *Driver) connect(dev config.Device) (*conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[dev.Address]; ok {
		return c, nil
	}

	h := mb.NewTCPClientHandler(dev.Address)
	h.Timeout = dev.Timeout
	h.SlaveId = dev.UnitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", dev.Address, err)
	}

	c := &conn{handler: h, client: mb.NewClient(h)}
	d.conns[dev.Address] = c
	return c, nil
}

// drop closes and forgets a connection so the next call redials.
func (d *Driver) drop(dev config.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[dev.Address]; ok {
		c.handler.Close()
		delete(d.conns, dev.Address)
	}
}

func (d *Driver) ReadBlock(dev config.Device) ([]byte, error) {
	c, err := d.connect(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faults.ErrDeviceUnavailable, err)
	}

	data, err := c.client.ReadHoldingRegisters(dev.BlockStart, dev.BlockLength)
	if err != nil {
		d.drop(dev)
		return nil, fmt.Errorf("%w: read block %s: %v", faults.ErrDeviceUnavailable, dev.ID, err)
	}
	return data, nil
}

func (d *Driver) WriteBit(dev config.Device, byteOffset, bitOffset int, on bool) error {
	c, err := d.connect(dev)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrDeviceUnavailable, err)
	}

	reg := dev.BlockStart + uint16(byteOffset/2)
	data, err := c.client.ReadHoldingRegisters(reg, 1)
	if err != nil {
		d.drop(dev)
		return fmt.Errorf("%w: read register %d on %s: %v", faults.ErrDeviceUnavailable, reg, dev.ID, err)
	}

	// Bit index within the 16-bit register, high byte first on the wire.
	bit := uint(bitOffset)
	if byteOffset%2 == 0 {
		bit += 8
	}
	word := binary.BigEndian.Uint16(data)
	if on {
		word |= 1 << bit
	} else {
		word &^= 1 << bit
	}

	if _, err := c.client.WriteSingleRegister(reg, word); err != nil {
		d.drop(dev)
		return fmt.Errorf("%w: write register %d on %s: %v", faults.ErrDeviceUnavailable, reg, dev.ID, err)
	}

	log.Debug().Str("device", dev.ID).Int("byte", byteOffset).Int("bit", bitOffset).Bool("on", on).Msg("Wrote bit")
	return nil
}

func (d *Driver) WriteWord(dev config.Device, byteOffset int, dt model.DataType, value float64) error {
	c, err := d.connect(dev)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrDeviceUnavailable, err)
	}

	reg := dev.BlockStart + uint16(byteOffset/2)

	var wireErr error
	switch dt {
	case model.TypeBool:
		var word uint16
		if value != 0 {
			word = 1
		}
		_, wireErr = c.client.WriteSingleRegister(reg, word)
	case model.TypeInt16:
		_, wireErr = c.client.WriteSingleRegister(reg, uint16(int16(value)))
	case model.TypeUint16:
		_, wireErr = c.client.WriteSingleRegister(reg, uint16(value))
	case model.TypeInt32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(value)))
		_, wireErr = c.client.WriteMultipleRegisters(reg, 2, buf)
	case model.TypeUint32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(value))
		_, wireErr = c.client.WriteMultipleRegisters(reg, 2, buf)
	case model.TypeFloat32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(value)))
		_, wireErr = c.client.WriteMultipleRegisters(reg, 2, buf)
	default:
		return fmt.Errorf("unsupported data type: %s", dt)
	}

	if wireErr != nil {
		d.drop(dev)
		return fmt.Errorf("%w: write register %d on %s: %v", faults.ErrDeviceUnavailable, reg, dev.ID, wireErr)
	}

	log.Debug().Str("device", dev.ID).Int("byte", byteOffset).Str("type", string(dt)).Float64("value", value).Msg("Wrote word")
	return nil
}
