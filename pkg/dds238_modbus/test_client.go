package dds238_modbus

import (
	"errors"
	"sync"
	"time"
)

var ErrTestMeterUnreachable = errors.New("dds238: test meter unreachable")

type TestRegisterWrite struct {
	Address uint8
	Start   uint16
	Values  []uint16
}

// TestMeterConnector answers every slave address with the same canned registers
// unless overridden with SetBlocks or FailAddress.
type TestMeterConnector struct {
	mu       sync.Mutex
	defaults RegisterBlocks
	blocks   map[uint8]RegisterBlocks
	failing  map[uint8]bool
	delay    time.Duration
	connects []uint8
	writes   []TestRegisterWrite
	open     int
}

type TestMeterConnection struct {
	connector *TestMeterConnector
	address   uint8
}

func CreateTestMeterConnector() *TestMeterConnector {
	return &TestMeterConnector{
		defaults: TestRegisterBlocks(),
		blocks:   map[uint8]RegisterBlocks{},
		failing:  map[uint8]bool{},
	}
}

// TestRegisterBlocks: 230.0V 1.50A 50W import, 50.00Hz, PF 99.5%,
// total 1000kWh, imported 500kWh, exported 10kWh
func TestRegisterBlocks() RegisterBlocks {
	return RegisterBlocks{
		Energy:     []uint16{0x0001, 0x86A0},
		Quantities: []uint16{0, 1000, 0, 50000, 2300, 150, 50, 0, 995, 5000},
	}
}

func (c *TestMeterConnector) SetBlocks(address uint8, blocks RegisterBlocks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[address] = blocks
}

func (c *TestMeterConnector) FailAddress(address uint8, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[address] = fail
}

// SetReadDelay makes every register read take d, like a meter timing out.
func (c *TestMeterConnector) SetReadDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

func (c *TestMeterConnector) Connects() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint8(nil), c.connects...)
}

func (c *TestMeterConnector) Writes() []TestRegisterWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TestRegisterWrite(nil), c.writes...)
}

// OpenConnections returns the number of connections not closed yet.
func (c *TestMeterConnector) OpenConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *TestMeterConnector) Connect(address uint8) (MeterConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = append(c.connects, address)
	c.open++
	return &TestMeterConnection{connector: c, address: address}, nil
}

func (conn *TestMeterConnection) ReadRegisters(start uint16, count uint16) ([]uint16, error) {
	c := conn.connector
	c.mu.Lock()
	delay := c.delay
	c.mu.Unlock()
	time.Sleep(delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing[conn.address] {
		return nil, ErrTestMeterUnreachable
	}
	blocks, ok := c.blocks[conn.address]
	if !ok {
		blocks = c.defaults
	}
	switch start {
	case REG_ENERGY_BLOCK_START:
		return truncate(blocks.Energy, count), nil
	case REG_QUANTITY_BLOCK_START:
		return truncate(blocks.Quantities, count), nil
	}
	return make([]uint16, count), nil
}

func (conn *TestMeterConnection) WriteRegisters(start uint16, values []uint16) error {
	c := conn.connector
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing[conn.address] {
		return ErrTestMeterUnreachable
	}
	c.writes = append(c.writes, TestRegisterWrite{
		Address: conn.address,
		Start:   start,
		Values:  append([]uint16(nil), values...),
	})
	return nil
}

func (conn *TestMeterConnection) Close() error {
	c := conn.connector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open--
	return nil
}

func truncate(words []uint16, count uint16) []uint16 {
	if int(count) < len(words) {
		return append([]uint16(nil), words[:count]...)
	}
	return append([]uint16(nil), words...)
}

// ensure interface compliance
var _ MeterConnector = (*TestMeterConnector)(nil)
