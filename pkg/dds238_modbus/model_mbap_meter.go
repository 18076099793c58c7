package dds238_modbus

import "errors"

const (
	// energy counter block: total energy, high word first
	REG_ENERGY_BLOCK_START = 0x0000
	REG_ENERGY_BLOCK_SIZE  = 2
	// instantaneous quantities block: exported/imported energy, V, A, W, reserved, PF, Hz
	REG_QUANTITY_BLOCK_START = 0x0008
	REG_QUANTITY_BLOCK_SIZE  = 10
	// high byte: slave address, low byte: baud rate code
	REG_ADDRESS_BAUD = 0x0015

	MIN_SLAVE_ADDRESS = 1
	MAX_SLAVE_ADDRESS = 247
)

var ErrShortRegisterBlock = errors.New("dds238: short register block")

type RegisterBlocks struct {
	Energy     []uint16
	Quantities []uint16
}

type MeterReading struct {
	// Grid voltage in V
	Voltage float64
	// Line current in A
	Current float64
	// Active power register as read from the meter
	RawPower uint16
	// Active power. Positive = import. Negative = export
	Power int32
	// Current import power in W
	PowerImported uint32
	// Current export power in W
	PowerExported uint32
	// Grid frequency in Hz
	Frequency float64
	// Power factor in %
	PowerFactor float64
	// Lifetime energy counters in Wh
	EnergyTotal    uint64
	EnergyImported uint64
	EnergyExported uint64
	// Imported minus exported energy in Wh
	EnergyNet int64
}

// MeterConnection is a transport bound to a single slave address.
type MeterConnection interface {
	ReadRegisters(start uint16, count uint16) ([]uint16, error)
	WriteRegisters(start uint16, values []uint16) error
	Close() error
}

type MeterConnector interface {
	Connect(address uint8) (MeterConnection, error)
}
