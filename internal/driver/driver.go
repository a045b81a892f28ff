// Package driver defines the field-device collaborator boundary. The core
// never speaks a wire protocol directly; it reads whole blocks and writes
// bits or words through this interface, keyed by byte offset within the
// device's configured block.
package driver

import (
	"scada-core/internal/config"
	"scada-core/internal/model"
)

type Driver interface {
	// ReadBlock fetches the device's configured register block as raw bytes.
	ReadBlock(dev config.Device) ([]byte, error)

	// WriteBit sets or clears a single bit within the block.
	WriteBit(dev config.Device, byteOffset, bitOffset int, on bool) error

	// WriteWord encodes value per the data type at the byte offset.
	WriteWord(dev config.Device, byteOffset int, dt model.DataType, value float64) error
}
