package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

// MeterUnitRef points an entity at the state of a meter unit.
type MeterUnitRef struct {
	DeviceId string
	Unit     uint8
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total, total_increasing
	DeviceClass       string // voltage, current, power, energy, frequency, power_factor
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	ValueTemplate     string
	MeterUnit         *MeterUnitRef
}

// GenericText is an editable text entity bound to a meter unit description.
type GenericText struct {
	Device         Device
	Id             string
	Name           string
	UniqueId       string
	Icon           string
	EntityCategory string
	Max            int
	MeterUnit      MeterUnitRef
}
