package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL            = "total"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_POWER_FACTOR    = "power_factor"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"

	// power/energy units publish "power;energy"
	VALUE_TEMPLATE_POWER  = "{{ value.split(';')[0] }}"
	VALUE_TEMPLATE_ENERGY = "{{ value.split(';')[1] }}"

	METER_MANUFACTURER = "Hiking"
	METER_MODEL        = "DDS238 ZN/S"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("dds238_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "CreasolTech",
		Model:        "dds238mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("DDS238 bridge %s", md5HashShort(baseTopic)),
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_BRIDGE_STATE,
			SensorType:     SENSOR_TYPE_BINARY,
			Name:           "Connection state",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
		},
	}
}

func MeterDevice(key DeviceKey, bridgeId string) Device {
	name := fmt.Sprintf("DDS238 meter %d", key.Address)
	if key.Address == FACTORY_METER_ADDRESS {
		name = "DDS238 unconfigured meter"
	}
	return Device{
		Id:           key.String(),
		Manufacturer: METER_MANUFACTURER,
		Model:        METER_MODEL,
		Name:         name,
		ViaDevice:    bridgeId,
	}
}

// MeterUnitSensors returns the sensors reading the state of a meter unit. Power/energy units
// are split in two sensors sharing the same state topic.
func MeterUnitSensors(device Device, unit MeterUnit) []GenericSensor {
	ref := &MeterUnitRef{DeviceId: device.Id, Unit: unit.Number}
	base := fmt.Sprintf("unit%d", unit.Number)

	sensor := func(suffix, name, deviceClass, stateClass, uom, template string) GenericSensor {
		id := base
		if suffix != "" {
			id = fmt.Sprintf("%s_%s", base, suffix)
		}
		return GenericSensor{
			Device:            device,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			DeviceClass:       deviceClass,
			StateClass:        stateClass,
			UnitOfMeasurement: uom,
			ValueTemplate:     template,
			UniqueId:          uniqueId(device.Id, id),
			MeterUnit:         ref,
		}
	}

	switch unit.Kind {
	case UNIT_KIND_POWER_ENERGY:
		energyStateClass := STATE_CLASS_TOTAL_INCREASING
		if unit.Number == UNIT_NET {
			// net energy can decrease
			energyStateClass = STATE_CLASS_TOTAL
		}
		return []GenericSensor{
			sensor("power", unit.Name, DEVICE_CLASS_POWER, STATE_CLASS_MEASUREMENT, "W", VALUE_TEMPLATE_POWER),
			sensor("energy", unit.Name, DEVICE_CLASS_ENERGY, energyStateClass, "Wh", VALUE_TEMPLATE_ENERGY),
		}
	case UNIT_KIND_VOLTAGE:
		return []GenericSensor{sensor("", unit.Name, DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT, "V", "")}
	case UNIT_KIND_CURRENT:
		return []GenericSensor{sensor("", unit.Name, DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT, "A", "")}
	case UNIT_KIND_FREQUENCY:
		return []GenericSensor{sensor("", unit.Name, DEVICE_CLASS_FREQUENCY, STATE_CLASS_MEASUREMENT, "Hz", "")}
	case UNIT_KIND_POWER_FACTOR:
		return []GenericSensor{sensor("", unit.Name, DEVICE_CLASS_POWER_FACTOR, STATE_CLASS_MEASUREMENT, "%", "")}
	}
	return nil
}

// MeterUnitTexts returns the editable description entity of a unit, if any.
// Only the power factor unit carries the ADDR= reprogramming field.
func MeterUnitTexts(device Device, unit MeterUnit) []GenericText {
	if unit.Kind != UNIT_KIND_POWER_FACTOR && unit.Kind != UNIT_KIND_ADDRESS_CHANGE {
		return nil
	}
	id := fmt.Sprintf("unit%d_description", unit.Number)
	name := fmt.Sprintf("%s description", unit.Name)
	if unit.Kind == UNIT_KIND_ADDRESS_CHANGE {
		name = unit.Name
	}
	return []GenericText{
		{
			Device:         device,
			Id:             id,
			Name:           name,
			UniqueId:       uniqueId(device.Id, id),
			Icon:           "mdi:pencil",
			EntityCategory: ENTITY_CLASS_CONFIG,
			Max:            255,
			MeterUnit:      MeterUnitRef{DeviceId: device.Id, Unit: unit.Number},
		},
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
