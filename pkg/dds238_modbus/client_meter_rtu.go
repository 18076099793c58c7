package dds238_modbus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type MeterRTUConnector struct {
	url        string
	speed      uint
	timeout    time.Duration
	instrument []ModbusInstrument
	logger     *zap.Logger
}

type MeterRTUConnection struct {
	ModbusClient
	address uint8
}

func CreateMeterRTUConnector(port string, speed uint, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (*MeterRTUConnector, error) {
	if port == "" {
		return nil, errors.New("dds238: serial port is required")
	}
	if speed == 0 {
		return nil, errors.New("dds238: baud rate must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "dds238")))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &MeterRTUConnector{
		url:        SerialURL(port),
		speed:      speed,
		timeout:    timeout,
		instrument: inst,
		logger:     logger,
	}, nil
}

// SerialURL accepts either a bare device path or a full modbus URL
// (rtu://, rtuovertcp://, tcp://).
func SerialURL(port string) string {
	if strings.Contains(port, "://") {
		return port
	}
	return fmt.Sprintf("rtu://%s", port)
}

// Connect opens the bus for a single slave. The port is held until Close, so callers
// must close it before talking to the next meter.
func (c *MeterRTUConnector) Connect(address uint8) (MeterConnection, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      c.url,
		Speed:    c.speed,
		DataBits: 8,
		Parity:   modbus.PARITY_NONE,
		StopBits: 1,
		Timeout:  c.timeout,
	})
	if err != nil {
		return nil, err
	}
	err = client.SetUnitId(address)
	if err != nil {
		return nil, err
	}
	if err = client.Open(); err != nil {
		return nil, err
	}
	return &MeterRTUConnection{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: c.instrument,
		},
		address: address,
	}, nil
}

func (conn *MeterRTUConnection) ReadRegisters(start uint16, count uint16) ([]uint16, error) {
	return conn.readRegisters(start, count, modbus.HOLDING_REGISTER)
}

func (conn *MeterRTUConnection) WriteRegisters(start uint16, values []uint16) error {
	return conn.writeRegisters(start, values)
}

func (conn *MeterRTUConnection) Close() error {
	return conn.close()
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus call", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

// ensure interface compliance
var _ MeterConnector = (*MeterRTUConnector)(nil)
var _ MeterConnection = (*MeterRTUConnection)(nil)
