package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type MeterAddress uint8

const (
	// factory default address of a new meter, never polled
	FACTORY_METER_ADDRESS MeterAddress = 1
	MIN_METER_ADDRESS     MeterAddress = 2
	MAX_METER_ADDRESS     MeterAddress = 247
)

func (a MeterAddress) Pollable() bool {
	return a >= MIN_METER_ADDRESS && a <= MAX_METER_ADDRESS
}

var ErrInvalidMeterAddressList = errors.New("invalid meter address list")

// ParseMeterAddresses parses a comma separated address list keeping the configured order.
// The order maps to device identity, so out of range and duplicated entries are
// skipped instead of reordered; they are returned in skipped.
func ParseMeterAddresses(list string) (addresses []MeterAddress, skipped []string, err error) {
	seen := map[MeterAddress]bool{}
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		value, err := strconv.Atoi(token)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %q is not a number", ErrInvalidMeterAddressList, token)
		}
		if value < 0 || value > int(MAX_METER_ADDRESS) || !MeterAddress(value).Pollable() {
			skipped = append(skipped, token)
			continue
		}
		address := MeterAddress(value)
		if seen[address] {
			skipped = append(skipped, token)
			continue
		}
		seen[address] = true
		addresses = append(addresses, address)
	}
	return addresses, skipped, nil
}

// DeviceKey identifies the device record of a meter in the device tree.
type DeviceKey struct {
	Prefix  string
	Address MeterAddress
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%s_%d", k.Prefix, k.Address)
}

func ParseDeviceKey(prefix, deviceId string) (DeviceKey, error) {
	rest, found := strings.CutPrefix(deviceId, prefix+"_")
	if !found {
		return DeviceKey{}, fmt.Errorf("device %q does not belong to prefix %q", deviceId, prefix)
	}
	value, err := strconv.ParseUint(rest, 10, 8)
	if err != nil || value < 1 || value > uint64(MAX_METER_ADDRESS) {
		return DeviceKey{}, fmt.Errorf("device %q has an invalid meter address", deviceId)
	}
	return DeviceKey{
		Prefix:  prefix,
		Address: MeterAddress(value),
	}, nil
}

const (
	UNIT_TOTAL        uint8 = 1
	UNIT_IMPORTED     uint8 = 2
	UNIT_EXPORTED     uint8 = 3
	UNIT_VOLTAGE      uint8 = 4
	UNIT_CURRENT      uint8 = 5
	UNIT_FREQUENCY    uint8 = 6
	UNIT_POWER_FACTOR uint8 = 7
	UNIT_NET          uint8 = 8
)

var MeterUnitNumbers = []uint8{
	UNIT_TOTAL, UNIT_IMPORTED, UNIT_EXPORTED, UNIT_VOLTAGE,
	UNIT_CURRENT, UNIT_FREQUENCY, UNIT_POWER_FACTOR, UNIT_NET,
}

type UnitKind int

const (
	UNIT_KIND_POWER_ENERGY UnitKind = iota
	UNIT_KIND_VOLTAGE
	UNIT_KIND_CURRENT
	UNIT_KIND_FREQUENCY
	UNIT_KIND_POWER_FACTOR
	// text only unit used to reprogram meters still on the factory address
	UNIT_KIND_ADDRESS_CHANGE
)

func UnitKindOf(unit uint8) UnitKind {
	switch unit {
	case UNIT_VOLTAGE:
		return UNIT_KIND_VOLTAGE
	case UNIT_CURRENT:
		return UNIT_KIND_CURRENT
	case UNIT_FREQUENCY:
		return UNIT_KIND_FREQUENCY
	case UNIT_POWER_FACTOR:
		return UNIT_KIND_POWER_FACTOR
	default:
		return UNIT_KIND_POWER_ENERGY
	}
}

type MeterUnit struct {
	Number      uint8
	Kind        UnitKind
	Name        string
	Description string
}

func MeterUnits(address MeterAddress, names ChannelNames) []MeterUnit {
	units := make([]MeterUnit, 0, len(MeterUnitNumbers))
	for _, n := range MeterUnitNumbers {
		units = append(units, MeterUnit{
			Number:      n,
			Kind:        UnitKindOf(n),
			Name:        names.Name(n),
			Description: DefaultUnitDescription(address, n),
		})
	}
	return units
}

func AddressChangeUnit(names ChannelNames) MeterUnit {
	return MeterUnit{
		Number:      UNIT_POWER_FACTOR,
		Kind:        UNIT_KIND_ADDRESS_CHANGE,
		Name:        names.AddressChange,
		Description: fmt.Sprintf("Meter Addr=%d, ADDR=%d", FACTORY_METER_ADDRESS, FACTORY_METER_ADDRESS),
	}
}

func DefaultUnitDescription(address MeterAddress, unit uint8) string {
	switch unit {
	case UNIT_TOTAL:
		return fmt.Sprintf("Meter Addr=%d, Total power = imported + exported", address)
	case UNIT_POWER_FACTOR:
		return fmt.Sprintf("Meter Addr=%d, Power Factor, ADDR=%d", address, address)
	case UNIT_NET:
		return fmt.Sprintf("Meter Addr=%d, Net power = imported - exported", address)
	default:
		return fmt.Sprintf("Meter Addr=%d", address)
	}
}
