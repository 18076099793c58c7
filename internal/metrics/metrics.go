package metrics

import (
	"strconv"
	"time"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/core/port"
	"github.com/berfenger/dds238mqtt/pkg/dds238_modbus"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dds238"

type Collector interface {
	port.MeterMetrics
	ModbusInstrument() *dds238_modbus.ModbusInstrument
}

type PrometheusCollector struct {
	registry     *prometheus.Registry
	modbusCalls  *prometheus.HistogramVec
	meterReads   *prometheus.CounterVec
	heartbeat    prometheus.Gauge
	power        *prometheus.GaugeVec
	voltage      *prometheus.GaugeVec
	current      *prometheus.GaugeVec
	frequency    *prometheus.GaugeVec
	powerFactor  *prometheus.GaugeVec
	energyTotal  *prometheus.GaugeVec
	energyImport *prometheus.GaugeVec
	energyExport *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"address"})
	}
	c := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
		modbusCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "modbus_call_duration_seconds",
			Help:      "Duration of Modbus RTU calls",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"call"}),
		meterReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meter_reads_total",
			Help:      "Meter poll attempts by outcome",
		}, []string{"address", "result"}),
		heartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Current poll interval including backoff",
		}),
		power:        gauge("power_watts", "Active power, negative when exporting"),
		voltage:      gauge("voltage_volts", "Line voltage"),
		current:      gauge("current_amperes", "Line current"),
		frequency:    gauge("frequency_hertz", "Line frequency"),
		powerFactor:  gauge("power_factor_percent", "Power factor"),
		energyTotal:  gauge("energy_total_watthours", "Total energy counter"),
		energyImport: gauge("energy_imported_watthours", "Imported energy counter"),
		energyExport: gauge("energy_exported_watthours", "Exported energy counter"),
	}
	c.registry.MustRegister(c.modbusCalls, c.meterReads, c.heartbeat,
		c.power, c.voltage, c.current, c.frequency, c.powerFactor,
		c.energyTotal, c.energyImport, c.energyExport)
	return c
}

func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PrometheusCollector) ModbusInstrument() *dds238_modbus.ModbusInstrument {
	return &dds238_modbus.ModbusInstrument{
		RecordTime: func(name string, d time.Duration) {
			c.modbusCalls.WithLabelValues(name).Observe(d.Seconds())
		},
	}
}

func (c *PrometheusCollector) RecordMeterRead(address domain.MeterAddress, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.meterReads.WithLabelValues(addressLabel(address), result).Inc()
}

func (c *PrometheusCollector) RecordReading(address domain.MeterAddress, r *dds238_modbus.MeterReading) {
	label := addressLabel(address)
	c.power.WithLabelValues(label).Set(float64(r.Power))
	c.voltage.WithLabelValues(label).Set(r.Voltage)
	c.current.WithLabelValues(label).Set(r.Current)
	c.frequency.WithLabelValues(label).Set(r.Frequency)
	c.powerFactor.WithLabelValues(label).Set(r.PowerFactor)
	c.energyTotal.WithLabelValues(label).Set(float64(r.EnergyTotal))
	c.energyImport.WithLabelValues(label).Set(float64(r.EnergyImported))
	c.energyExport.WithLabelValues(label).Set(float64(r.EnergyExported))
}

func (c *PrometheusCollector) SetHeartbeat(interval time.Duration) {
	c.heartbeat.Set(interval.Seconds())
}

func addressLabel(address domain.MeterAddress) string {
	return strconv.Itoa(int(address))
}

// NullCollector is used when metrics are disabled.
type NullCollector struct{}

func (NullCollector) ModbusInstrument() *dds238_modbus.ModbusInstrument {
	return nil
}

func (NullCollector) RecordMeterRead(domain.MeterAddress, bool) {}

func (NullCollector) RecordReading(domain.MeterAddress, *dds238_modbus.MeterReading) {}

func (NullCollector) SetHeartbeat(time.Duration) {}

var (
	_ Collector = (*PrometheusCollector)(nil)
	_ Collector = NullCollector{}
)
