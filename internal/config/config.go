package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel      zapcore.Level
	Modbus        ModbusConfig `mapstructure:"modbus"`
	Meters        MetersConfig `mapstructure:"meters"`
	MQTT          MQTTConfig   `mapstructure:"mqtt"`
	MetricsEnable bool         `mapstructure:"metrics_enable"`
	Port          uint         `mapstructure:"port"`
	HttpLog       bool         `mapstructure:"http_log"`
}

type ModbusConfig struct {
	// serial device path or full rtu://, rtuovertcp:// or tcp:// URL
	Port          string
	BaudRate      uint `mapstructure:"baud_rate"`
	TimeoutMillis uint `mapstructure:"timeout_millis"`
}

type MetersConfig struct {
	Addresses           string
	PollIntervalSeconds uint   `mapstructure:"poll_interval_seconds"`
	DevicePrefix        string `mapstructure:"device_prefix"`
	Language            string
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

var PollIntervalsSeconds = []uint{2, 3, 4, 5, 10, 20, 30}

func (c MetersConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c ModbusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func CheckPollInterval(seconds uint) error {
	if !slices.Contains(PollIntervalsSeconds, seconds) {
		return fmt.Errorf("invalid poll interval %ds. allowed values are %v", seconds, PollIntervalsSeconds)
	}
	return nil
}

// CheckDevicePrefix also lowercases the prefix, it becomes part of MQTT topics.
func CheckDevicePrefix(prefix string) (string, error) {
	prefix, err := CheckMQTTTopic(prefix)
	if err != nil {
		return "", errors.New("invalid device prefix. can only contain letters, numbers and underscores")
	}
	return prefix, nil
}
