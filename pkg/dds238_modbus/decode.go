package dds238_modbus

import "fmt"

func DecodeRegisters(blocks RegisterBlocks) (*MeterReading, error) {
	if len(blocks.Energy) < REG_ENERGY_BLOCK_SIZE {
		return nil, fmt.Errorf("%w: energy block has %d words", ErrShortRegisterBlock, len(blocks.Energy))
	}
	if len(blocks.Quantities) < REG_QUANTITY_BLOCK_SIZE {
		return nil, fmt.Errorf("%w: quantity block has %d words", ErrShortRegisterBlock, len(blocks.Quantities))
	}
	q := blocks.Quantities

	reading := MeterReading{
		Voltage:        float64(q[4]) / 10,
		Current:        float64(q[5]) / 100,
		RawPower:       q[6],
		Frequency:      float64(q[9]) / 100,
		PowerFactor:    float64(q[8]) / 10,
		EnergyTotal:    energyWh(blocks.Energy[0], blocks.Energy[1]),
		EnergyImported: energyWh(q[2], q[3]),
		EnergyExported: energyWh(q[0], q[1]),
	}
	reading.Power, reading.PowerImported, reading.PowerExported = DerivePowerFlow(reading.RawPower)
	reading.EnergyNet = NetEnergy(reading.EnergyImported, reading.EnergyExported)
	return &reading, nil
}

// DerivePowerFlow splits the signed active power register into import and export.
// Only one of imported/exported is non-zero.
func DerivePowerFlow(rawPower uint16) (power int32, imported uint32, exported uint32) {
	if rawPower >= 32768 {
		power = int32(rawPower) - 65536
		return power, 0, uint32(-power)
	}
	power = int32(rawPower)
	return power, uint32(power), 0
}

func NetEnergy(imported, exported uint64) int64 {
	return int64(imported) - int64(exported)
}

// energy counters are 32 bit, high word first, in units of 10Wh
func energyWh(high, low uint16) uint64 {
	return (uint64(low) + uint64(high)<<16) * 10
}

func BaudRateCode(baudRate uint) uint16 {
	switch baudRate {
	case 4800:
		return 2
	case 2400:
		return 3
	case 1200:
		return 4
	default:
		return 1
	}
}

func AddressRegisterValue(address uint8, baudRate uint) uint16 {
	return uint16(address)*256 + BaudRateCode(baudRate)
}

func ReadMeterRegisters(conn MeterConnection) (*RegisterBlocks, error) {
	energy, err := conn.ReadRegisters(REG_ENERGY_BLOCK_START, REG_ENERGY_BLOCK_SIZE)
	if err != nil {
		return nil, err
	}
	quantities, err := conn.ReadRegisters(REG_QUANTITY_BLOCK_START, REG_QUANTITY_BLOCK_SIZE)
	if err != nil {
		return nil, err
	}
	return &RegisterBlocks{
		Energy:     energy,
		Quantities: quantities,
	}, nil
}

func WriteSlaveAddress(conn MeterConnection, address uint8, baudRate uint) error {
	if address < MIN_SLAVE_ADDRESS || address > MAX_SLAVE_ADDRESS {
		return fmt.Errorf("dds238: invalid slave address %d", address)
	}
	return conn.WriteRegisters(REG_ADDRESS_BAUD, []uint16{AddressRegisterValue(address, baudRate)})
}
