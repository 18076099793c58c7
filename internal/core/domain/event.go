package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// MeterUnitStateUpdateEvent carries the formatted value of a meter unit.
// Id is the serialized DeviceKey.
type MeterUnitStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Unit  uint8
	Value string
}

type MeterUnitDescriptionUpdateEvent struct {
	SensorUpdateEventMixIn
	Unit  uint8
	Value string
}
