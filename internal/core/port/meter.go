package port

import (
	"time"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/pkg/dds238_modbus"
)

// MeterTransport opens the shared bus for one slave address at a time.
type MeterTransport interface {
	Connect(address uint8) (dds238_modbus.MeterConnection, error)
}

type DeviceRegistry interface {
	EnsureExists(key domain.DeviceKey, unit domain.MeterUnit) error
	Publish(key domain.DeviceKey, unit uint8, value string) error
	ReadDescription(key domain.DeviceKey, unit uint8) (string, error)
	WriteDescription(key domain.DeviceKey, unit uint8, text string) error
}

type PollCycleResult struct {
	Succeeded []domain.MeterAddress
	Failed    []domain.MeterAddress
	// interval until the next tick, including backoff
	NextInterval time.Duration
}

// MeterPlugin is the set of callbacks driven by the scheduler.
type MeterPlugin interface {
	OnStart() error
	OnTick() PollCycleResult
	// OnTickAborted is called instead of a result when OnTick panicked.
	OnTickAborted(err error) PollCycleResult
	OnModified(key domain.DeviceKey, unit uint8)
	OnStop()
}

type MeterMetrics interface {
	RecordMeterRead(address domain.MeterAddress, ok bool)
	RecordReading(address domain.MeterAddress, reading *dds238_modbus.MeterReading)
	SetHeartbeat(interval time.Duration)
}
