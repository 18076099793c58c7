package util

import (
	"github.com/berfenger/dds238mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Modbus: config.ModbusConfig{
			Port:          "/dev/null",
			BaudRate:      9600,
			TimeoutMillis: 500,
		},
		Meters: config.MetersConfig{
			Addresses:           "2,3",
			PollIntervalSeconds: 2,
			DevicePrefix:        "dds238",
			Language:            "en",
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "dds238",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
