package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/pkg/dds238_modbus"
)

const ADDRESS_TOKEN_PREFIX = "ADDR="

type ReprogramRequest struct {
	Target  domain.MeterAddress
	Current domain.MeterAddress
}

// ParseAddressToken looks for the first "ADDR=<n>" token in a comma separated description.
// The number is truncated, so "ADDR=12.0" is 12.
func ParseAddressToken(description string) (int, bool) {
	for _, token := range strings.Split(description, ",") {
		token = strings.ToUpper(strings.TrimSpace(token))
		value, found := strings.CutPrefix(token, ADDRESS_TOKEN_PREFIX)
		if !found {
			continue
		}
		number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
			return 0, false
		}
		number = math.Trunc(number)
		if number < math.MinInt32 || number > math.MaxInt32 {
			return 0, false
		}
		return int(number), true
	}
	return 0, false
}

// NewReprogramRequest returns false when the description holds no valid address change
// for the meter at current.
func NewReprogramRequest(description string, current domain.MeterAddress) (*ReprogramRequest, bool) {
	target, ok := ParseAddressToken(description)
	if !ok {
		return nil, false
	}
	if target < dds238_modbus.MIN_SLAVE_ADDRESS || target > dds238_modbus.MAX_SLAVE_ADDRESS {
		return nil, false
	}
	if domain.MeterAddress(target) == current {
		return nil, false
	}
	return &ReprogramRequest{
		Target:  domain.MeterAddress(target),
		Current: current,
	}, true
}
