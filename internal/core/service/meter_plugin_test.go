package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/pkg/dds238_modbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type unitRef struct {
	key  domain.DeviceKey
	unit uint8
}

type testRegistry struct {
	mu           sync.Mutex
	units        map[unitRef]domain.MeterUnit
	descriptions map[unitRef]string
	values       map[unitRef]string
	publishes    int
	failEnsure   bool
}

func newTestRegistry() *testRegistry {
	return &testRegistry{
		units:        map[unitRef]domain.MeterUnit{},
		descriptions: map[unitRef]string{},
		values:       map[unitRef]string{},
	}
}

func (r *testRegistry) EnsureExists(key domain.DeviceKey, unit domain.MeterUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failEnsure {
		return errors.New("registry unavailable")
	}
	ref := unitRef{key, unit.Number}
	if _, ok := r.units[ref]; !ok {
		r.units[ref] = unit
		r.descriptions[ref] = unit.Description
	}
	return nil
}

func (r *testRegistry) Publish(key domain.DeviceKey, unit uint8, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishes++
	r.values[unitRef{key, unit}] = value
	return nil
}

func (r *testRegistry) ReadDescription(key domain.DeviceKey, unit uint8) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptions[unitRef{key, unit}]
	if !ok {
		return "", fmt.Errorf("unknown unit %s/%d", key, unit)
	}
	return d, nil
}

func (r *testRegistry) WriteDescription(key domain.DeviceKey, unit uint8, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptions[unitRef{key, unit}] = text
	return nil
}

type testMetrics struct {
	reads     map[domain.MeterAddress][]bool
	readings  map[domain.MeterAddress]*dds238_modbus.MeterReading
	heartbeat time.Duration
}

func (m *testMetrics) RecordReading(address domain.MeterAddress, reading *dds238_modbus.MeterReading) {
	m.readings[address] = reading
}

func (m *testMetrics) RecordMeterRead(address domain.MeterAddress, ok bool) {
	m.reads[address] = append(m.reads[address], ok)
}

func (m *testMetrics) SetHeartbeat(interval time.Duration) {
	m.heartbeat = interval
}

func testPlugin(t *testing.T, addresses ...domain.MeterAddress) (*MeterPlugin, *dds238_modbus.TestMeterConnector, *testRegistry) {
	connector := dds238_modbus.CreateTestMeterConnector()
	registry := newTestRegistry()
	plugin := NewMeterPlugin(MeterPluginConfig{
		DevicePrefix: "dds238",
		Addresses:    addresses,
		BaudRate:     9600,
		PollInterval: 5 * time.Second,
		Locale:       "en",
	}, connector, registry, nil, zap.NewNop())
	plugin.WithJitter(func() int { return 3 })
	require.NoError(t, plugin.OnStart())
	return plugin, connector, registry
}

func key(address domain.MeterAddress) domain.DeviceKey {
	return domain.DeviceKey{Prefix: "dds238", Address: address}
}

func TestOnStartRegistersUnits(t *testing.T) {
	_, _, registry := testPlugin(t, 2, 3, 4)

	assert.Len(t, registry.units, 1+3*8)
	changeMe, ok := registry.units[unitRef{key(1), domain.UNIT_POWER_FACTOR}]
	require.True(t, ok)
	assert.Equal(t, domain.UNIT_KIND_ADDRESS_CHANGE, changeMe.Kind)
	assert.Equal(t, "Meter Addr=1, ADDR=1", changeMe.Description)
	for _, address := range []domain.MeterAddress{2, 3, 4} {
		for _, n := range domain.MeterUnitNumbers {
			_, ok := registry.units[unitRef{key(address), n}]
			assert.True(t, ok, "missing unit %d of meter %d", n, address)
		}
	}
	assert.Equal(t, "Meter Addr=3, Power Factor, ADDR=3", registry.descriptions[unitRef{key(3), domain.UNIT_POWER_FACTOR}])
}

func TestOnStartTwiceKeepsRecords(t *testing.T) {
	plugin, _, registry := testPlugin(t, 2)
	registry.descriptions[unitRef{key(2), domain.UNIT_VOLTAGE}] = "kitchen"

	require.NoError(t, plugin.OnStart())
	assert.Len(t, registry.units, 9)
	assert.Equal(t, "kitchen", registry.descriptions[unitRef{key(2), domain.UNIT_VOLTAGE}])
}

func TestOnStartUnknownLocaleFallsBack(t *testing.T) {
	registry := newTestRegistry()
	plugin := NewMeterPlugin(MeterPluginConfig{
		DevicePrefix: "dds238",
		Addresses:    []domain.MeterAddress{2},
		PollInterval: 5 * time.Second,
		Locale:       "xx",
	}, dds238_modbus.CreateTestMeterConnector(), registry, nil, zap.NewNop())

	require.NoError(t, plugin.OnStart())
	en, _ := domain.LocaleNames(domain.DEFAULT_LOCALE)
	assert.Equal(t, en.Voltage, registry.units[unitRef{key(2), domain.UNIT_VOLTAGE}].Name)
}

func TestOnStartReportsRegistryErrors(t *testing.T) {
	registry := newTestRegistry()
	registry.failEnsure = true
	plugin := NewMeterPlugin(MeterPluginConfig{
		DevicePrefix: "dds238",
		Addresses:    []domain.MeterAddress{2},
		PollInterval: 5 * time.Second,
	}, dds238_modbus.CreateTestMeterConnector(), registry, nil, zap.NewNop())

	assert.Error(t, plugin.OnStart())
}

func TestOnTickPublishesReading(t *testing.T) {
	plugin, connector, registry := testPlugin(t, 2)

	result := plugin.OnTick()
	assert.Equal(t, []domain.MeterAddress{2}, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 5*time.Second, result.NextInterval)

	expected := map[uint8]string{
		domain.UNIT_TOTAL:        "50;1000000",
		domain.UNIT_IMPORTED:     "50;500000",
		domain.UNIT_EXPORTED:     "0;10000",
		domain.UNIT_VOLTAGE:      "230.0",
		domain.UNIT_CURRENT:      "1.50",
		domain.UNIT_FREQUENCY:    "50.00",
		domain.UNIT_POWER_FACTOR: "99.5",
		domain.UNIT_NET:          "50;490000",
	}
	for unit, value := range expected {
		assert.Equal(t, value, registry.values[unitRef{key(2), unit}], "unit %d", unit)
	}
	assert.Equal(t, 8, registry.publishes)
	assert.Equal(t, 0, connector.OpenConnections())
}

func TestOnTickExportingMeter(t *testing.T) {
	plugin, connector, registry := testPlugin(t, 2)
	blocks := dds238_modbus.TestRegisterBlocks()
	blocks.Quantities[6] = 65486
	connector.SetBlocks(2, blocks)

	plugin.OnTick()
	assert.Equal(t, "-50;1000000", registry.values[unitRef{key(2), domain.UNIT_TOTAL}])
	assert.Equal(t, "0;500000", registry.values[unitRef{key(2), domain.UNIT_IMPORTED}])
	assert.Equal(t, "50;10000", registry.values[unitRef{key(2), domain.UNIT_EXPORTED}])
	assert.Equal(t, "-50;490000", registry.values[unitRef{key(2), domain.UNIT_NET}])
}

func TestOnTickIsolatesFailingMeter(t *testing.T) {
	plugin, connector, registry := testPlugin(t, 2, 3, 4)
	connector.FailAddress(3, true)

	result := plugin.OnTick()
	assert.Equal(t, []domain.MeterAddress{2, 4}, result.Succeeded)
	assert.Equal(t, []domain.MeterAddress{3}, result.Failed)
	assert.Equal(t, 8*time.Second, result.NextInterval)
	assert.Equal(t, 16, registry.publishes)
	_, published := registry.values[unitRef{key(3), domain.UNIT_TOTAL}]
	assert.False(t, published)
	assert.Equal(t, []uint8{2, 3, 4}, connector.Connects())
	assert.Equal(t, 0, connector.OpenConnections())
}

func TestOnTickHeartbeatRecovers(t *testing.T) {
	plugin, connector, _ := testPlugin(t, 2)
	connector.FailAddress(2, true)

	assert.Equal(t, 8*time.Second, plugin.OnTick().NextInterval)
	// backoff is not cumulative
	assert.Equal(t, 8*time.Second, plugin.OnTick().NextInterval)

	connector.FailAddress(2, false)
	assert.Equal(t, 5*time.Second, plugin.OnTick().NextInterval)
	assert.Equal(t, 5*time.Second, plugin.Heartbeat())
}

func TestOnTickAbortedBacksOff(t *testing.T) {
	plugin, connector, _ := testPlugin(t, 2)

	result := plugin.OnTickAborted(errors.New("decoder bug"))
	assert.Equal(t, 8*time.Second, result.NextInterval)
	assert.Equal(t, 8*time.Second, plugin.Heartbeat())
	assert.Empty(t, connector.Connects())

	// a clean cycle restores the base interval
	assert.Equal(t, 5*time.Second, plugin.OnTick().NextInterval)
}

func TestOnTickRecordsMetrics(t *testing.T) {
	metrics := &testMetrics{
		reads:    map[domain.MeterAddress][]bool{},
		readings: map[domain.MeterAddress]*dds238_modbus.MeterReading{},
	}
	connector := dds238_modbus.CreateTestMeterConnector()
	connector.FailAddress(3, true)
	plugin := NewMeterPlugin(MeterPluginConfig{
		DevicePrefix: "dds238",
		Addresses:    []domain.MeterAddress{2, 3},
		PollInterval: 2 * time.Second,
	}, connector, newTestRegistry(), metrics, zap.NewNop()).WithJitter(func() int { return 1 })
	require.NoError(t, plugin.OnStart())

	plugin.OnTick()
	assert.Equal(t, []bool{true}, metrics.reads[2])
	assert.Equal(t, []bool{false}, metrics.reads[3])
	require.NotNil(t, metrics.readings[2])
	assert.Equal(t, int32(50), metrics.readings[2].Power)
	assert.Nil(t, metrics.readings[3])
	assert.Equal(t, 3*time.Second, metrics.heartbeat)
}

func TestOnTickEmptyAddressList(t *testing.T) {
	plugin, connector, registry := testPlugin(t)

	result := plugin.OnTick()
	assert.Empty(t, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Empty(t, connector.Connects())
	assert.Zero(t, registry.publishes)
}

func TestOnModifiedReprogramsAddress(t *testing.T) {
	plugin, connector, registry := testPlugin(t, 2)
	ref := unitRef{key(2), domain.UNIT_POWER_FACTOR}
	registry.descriptions[ref] = "Power Factor, addr=12"

	plugin.OnModified(key(2), domain.UNIT_POWER_FACTOR)

	writes := connector.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, uint8(2), writes[0].Address)
	assert.Equal(t, uint16(dds238_modbus.REG_ADDRESS_BAUD), writes[0].Start)
	assert.Equal(t, []uint16{12*256 + 1}, writes[0].Values)
	assert.Equal(t, "Power Factor,ADDR=2", registry.descriptions[ref])
	assert.Equal(t, 0, connector.OpenConnections())
}

func TestOnModifiedFactoryMeter(t *testing.T) {
	plugin, connector, registry := testPlugin(t, 2)
	ref := unitRef{key(1), domain.UNIT_POWER_FACTOR}
	registry.descriptions[ref] = "Meter Addr=1, ADDR=5"

	plugin.OnModified(key(1), domain.UNIT_POWER_FACTOR)

	writes := connector.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, uint8(1), writes[0].Address)
	assert.Equal(t, []uint16{5*256 + 1}, writes[0].Values)
}

func TestOnModifiedIgnoresInvalidRequests(t *testing.T) {
	for _, description := range []string{
		"Power Factor, ADDR=2",
		"Power Factor, ADDR=0",
		"Power Factor, ADDR=248",
		"Power Factor, ADDR=abc",
		"Power Factor",
		"",
	} {
		t.Run(description, func(t *testing.T) {
			plugin, connector, registry := testPlugin(t, 2)
			ref := unitRef{key(2), domain.UNIT_POWER_FACTOR}
			registry.descriptions[ref] = description

			plugin.OnModified(key(2), domain.UNIT_POWER_FACTOR)
			assert.Empty(t, connector.Writes())
			assert.Equal(t, description, registry.descriptions[ref])
		})
	}
}

func TestOnModifiedIgnoresOtherUnits(t *testing.T) {
	plugin, connector, registry := testPlugin(t, 2)
	registry.descriptions[unitRef{key(2), domain.UNIT_VOLTAGE}] = "ADDR=9"

	plugin.OnModified(key(2), domain.UNIT_VOLTAGE)
	assert.Empty(t, connector.Writes())
	assert.Empty(t, connector.Connects())
}

func TestOnModifiedWriteFailureKeepsDescription(t *testing.T) {
	plugin, connector, registry := testPlugin(t, 2)
	connector.FailAddress(2, true)
	ref := unitRef{key(2), domain.UNIT_POWER_FACTOR}
	registry.descriptions[ref] = "ADDR=9"

	plugin.OnModified(key(2), domain.UNIT_POWER_FACTOR)
	assert.Empty(t, connector.Writes())
	assert.Equal(t, "ADDR=9", registry.descriptions[ref])
	assert.Equal(t, 0, connector.OpenConnections())
}
