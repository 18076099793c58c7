package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/core/port"
	"github.com/berfenger/dds238mqtt/pkg/dds238_modbus"

	"go.uber.org/zap"
)

type MeterPluginConfig struct {
	DevicePrefix string
	Addresses    []domain.MeterAddress
	BaudRate     uint
	PollInterval time.Duration
	Locale       string
}

// MeterPlugin polls every configured meter on the shared bus once per tick and
// publishes its eight units. It is not safe for concurrent use; the meter actor
// serialises all calls.
type MeterPlugin struct {
	config    MeterPluginConfig
	transport port.MeterTransport
	registry  port.DeviceRegistry
	metrics   port.MeterMetrics
	heartbeat *Heartbeat
	names     domain.ChannelNames
	logger    *zap.Logger
}

func NewMeterPlugin(config MeterPluginConfig, transport port.MeterTransport, registry port.DeviceRegistry,
	metrics port.MeterMetrics, logger *zap.Logger) *MeterPlugin {
	if metrics == nil {
		metrics = noopMeterMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeterPlugin{
		config:    config,
		transport: transport,
		registry:  registry,
		metrics:   metrics,
		heartbeat: NewHeartbeat(config.PollInterval),
		logger:    logger,
	}
}

// WithJitter replaces the random backoff source.
func (p *MeterPlugin) WithJitter(jitter func() int) *MeterPlugin {
	p.heartbeat.jitter = jitter
	return p
}

func (p *MeterPlugin) Heartbeat() time.Duration {
	return p.heartbeat.Current()
}

func (p *MeterPlugin) DeviceKey(address domain.MeterAddress) domain.DeviceKey {
	return domain.DeviceKey{
		Prefix:  p.config.DevicePrefix,
		Address: address,
	}
}

func (p *MeterPlugin) OnStart() error {
	names, ok := domain.LocaleNames(p.config.Locale)
	if !ok {
		p.logger.Warn("unknown language, falling back to default",
			zap.String("language", p.config.Locale), zap.String("default", domain.DEFAULT_LOCALE))
	}
	p.names = names
	p.heartbeat.Succeeded()
	p.metrics.SetHeartbeat(p.heartbeat.Current())

	var errs []error
	changeMe := p.DeviceKey(domain.FACTORY_METER_ADDRESS)
	if err := p.registry.EnsureExists(changeMe, domain.AddressChangeUnit(names)); err != nil {
		errs = append(errs, fmt.Errorf("device %s: %w", changeMe, err))
	}
	for _, address := range p.config.Addresses {
		key := p.DeviceKey(address)
		for _, unit := range domain.MeterUnits(address, names) {
			if err := p.registry.EnsureExists(key, unit); err != nil {
				errs = append(errs, fmt.Errorf("device %s unit %d: %w", key, unit.Number, err))
			}
		}
	}
	p.logger.Info("meters registered",
		zap.Int("meters", len(p.config.Addresses)),
		zap.String("language", p.config.Locale),
		zap.Duration("poll_interval", p.heartbeat.Base()))
	return errors.Join(errs...)
}

func (p *MeterPlugin) OnTick() port.PollCycleResult {
	var result port.PollCycleResult
	for _, address := range p.config.Addresses {
		reading, err := p.pollMeter(address)
		if err != nil {
			p.logger.Error("meter read failed", zap.Uint8("slave", uint8(address)), zap.Error(err))
			p.metrics.RecordMeterRead(address, false)
			result.Failed = append(result.Failed, address)
			continue
		}
		p.metrics.RecordMeterRead(address, true)
		p.metrics.RecordReading(address, reading)
		result.Succeeded = append(result.Succeeded, address)
		p.publishReading(p.DeviceKey(address), reading)
		p.logger.Info("meter reading",
			zap.Uint8("slave", uint8(address)),
			zap.Int32("power_w", reading.Power),
			zap.Float64("energy_kwh", float64(reading.EnergyTotal)/1000),
			zap.Float64("voltage_v", reading.Voltage),
			zap.Float64("current_a", reading.Current),
			zap.Float64("frequency_hz", reading.Frequency),
			zap.Float64("power_factor_pct", reading.PowerFactor))
	}
	if len(result.Failed) > 0 {
		result.NextInterval = p.heartbeat.Failed()
		p.logger.Debug("heartbeat backoff", zap.Duration("interval", result.NextInterval))
	} else {
		result.NextInterval = p.heartbeat.Succeeded()
	}
	p.metrics.SetHeartbeat(result.NextInterval)
	return result
}

// OnTickAborted handles a cycle that did not complete. It counts as a failed cycle, so
// the heartbeat backs off as for a failing meter.
func (p *MeterPlugin) OnTickAborted(err error) port.PollCycleResult {
	p.logger.Error("poll cycle aborted", zap.Error(err))
	result := port.PollCycleResult{NextInterval: p.heartbeat.Failed()}
	p.metrics.SetHeartbeat(result.NextInterval)
	return result
}

func (p *MeterPlugin) pollMeter(address domain.MeterAddress) (*dds238_modbus.MeterReading, error) {
	conn, err := p.transport.Connect(uint8(address))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	blocks, err := dds238_modbus.ReadMeterRegisters(conn)
	if closeErr := conn.Close(); closeErr != nil {
		p.logger.Debug("close failed", zap.Uint8("slave", uint8(address)), zap.Error(closeErr))
	}
	if err != nil {
		return nil, err
	}
	return dds238_modbus.DecodeRegisters(*blocks)
}

func (p *MeterPlugin) publishReading(key domain.DeviceKey, reading *dds238_modbus.MeterReading) {
	values := FormatUnitValues(reading)
	for _, unit := range domain.MeterUnitNumbers {
		if err := p.registry.Publish(key, unit, values[unit]); err != nil {
			p.logger.Error("publish failed", zap.Stringer("device", key), zap.Uint8("unit", unit), zap.Error(err))
		}
	}
}

// OnModified reprograms the slave address when the power factor description of
// a meter carries a new ADDR= token.
func (p *MeterPlugin) OnModified(key domain.DeviceKey, unit uint8) {
	p.logger.Debug("device modified", zap.Stringer("device", key), zap.Uint8("unit", unit))
	if unit != domain.UNIT_POWER_FACTOR {
		return
	}
	description, err := p.registry.ReadDescription(key, unit)
	if err != nil {
		p.logger.Error("cannot read description", zap.Stringer("device", key), zap.Error(err))
		return
	}
	req, ok := NewReprogramRequest(description, key.Address)
	if !ok {
		p.logger.Debug("no address change requested", zap.Stringer("device", key), zap.String("description", description))
		return
	}
	if err := p.reprogram(req); err != nil {
		p.logger.Error("address change failed",
			zap.Uint8("from", uint8(req.Current)), zap.Uint8("to", uint8(req.Target)), zap.Error(err))
		return
	}
	p.logger.Info("meter address changed", zap.Uint8("from", uint8(req.Current)), zap.Uint8("to", uint8(req.Target)))
	// the record still refers to the old address until the configuration is updated
	if err := p.registry.WriteDescription(key, unit, fmt.Sprintf("Power Factor,ADDR=%d", req.Current)); err != nil {
		p.logger.Error("cannot reset description", zap.Stringer("device", key), zap.Error(err))
	}
}

func (p *MeterPlugin) reprogram(req *ReprogramRequest) error {
	conn, err := p.transport.Connect(uint8(req.Current))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	return dds238_modbus.WriteSlaveAddress(conn, uint8(req.Target), p.config.BaudRate)
}

func (p *MeterPlugin) OnStop() {
	p.logger.Info("meter polling stopped")
}

// FormatUnitValues renders the state of each unit. Power/energy units carry
// "<power W>;<energy Wh>".
func FormatUnitValues(r *dds238_modbus.MeterReading) map[uint8]string {
	return map[uint8]string{
		domain.UNIT_TOTAL:        fmt.Sprintf("%d;%d", r.Power, r.EnergyTotal),
		domain.UNIT_IMPORTED:     fmt.Sprintf("%d;%d", r.PowerImported, r.EnergyImported),
		domain.UNIT_EXPORTED:     fmt.Sprintf("%d;%d", r.PowerExported, r.EnergyExported),
		domain.UNIT_VOLTAGE:      strconv.FormatFloat(r.Voltage, 'f', 1, 64),
		domain.UNIT_CURRENT:      strconv.FormatFloat(r.Current, 'f', 2, 64),
		domain.UNIT_FREQUENCY:    strconv.FormatFloat(r.Frequency, 'f', 2, 64),
		domain.UNIT_POWER_FACTOR: strconv.FormatFloat(r.PowerFactor, 'f', 1, 64),
		domain.UNIT_NET:          fmt.Sprintf("%d;%d", r.Power, r.EnergyNet),
	}
}

type noopMeterMetrics struct{}

func (noopMeterMetrics) RecordMeterRead(domain.MeterAddress, bool)                      {}
func (noopMeterMetrics) RecordReading(domain.MeterAddress, *dds238_modbus.MeterReading) {}
func (noopMeterMetrics) SetHeartbeat(time.Duration)                                     {}

var _ port.MeterPlugin = (*MeterPlugin)(nil)
