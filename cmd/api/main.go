package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/dds238mqtt/internal/adapter/actor"
	"github.com/berfenger/dds238mqtt/internal/config"
	"github.com/berfenger/dds238mqtt/internal/core/actor"
	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/core/service"
	"github.com/berfenger/dds238mqtt/internal/metrics"
	"github.com/berfenger/dds238mqtt/internal/server"
	"github.com/berfenger/dds238mqtt/internal/util/actorutil"
	"github.com/berfenger/dds238mqtt/pkg/dds238_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, addresses, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	if len(addresses) == 0 {
		logger.Warn("no pollable meter addresses configured, only the address change record will be created")
	}

	// metrics
	var collector metrics.Collector = metrics.NullCollector{}
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnable {
		prom := metrics.NewPrometheusCollector()
		collector = prom
		gatherer = prom.Registry()
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	registry := adactor.NewMQTTDeviceRegistry(cfg, logger)

	meterProv, err := meterActorProvider(cfg, addresses, registry, collector, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, registry, mqttActorProvider(cfg, logger), meterProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, gatherer)
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, []domain.MeterAddress, error) {

	// alias PORT => DDS238_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("DDS238_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("dds238")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	devicePrefix, err := config.CheckDevicePrefix(cfg.Meters.DevicePrefix)
	if err != nil {
		return nil, nil, err
	}
	cfg.Meters.DevicePrefix = devicePrefix

	// check bounds
	if err := config.CheckPollInterval(cfg.Meters.PollIntervalSeconds); err != nil {
		return nil, nil, err
	}
	if cfg.Modbus.BaudRate == 0 {
		return nil, nil, errors.New("config param modbus.baud_rate should be > 0")
	}

	addresses, skipped, err := domain.ParseMeterAddresses(cfg.Meters.Addresses)
	if err != nil {
		return nil, nil, err
	}
	if len(skipped) > 0 {
		slog.Warn("skipping meter addresses", "addresses", skipped)
	}

	return &cfg, addresses, nil
}

func meterActorProvider(cfg *config.Config, addresses []domain.MeterAddress, registry *adactor.MQTTDeviceRegistry,
	collector metrics.Collector, logger *zap.Logger) (actor.MeterActorProvider, error) {

	connector, err := dds238_modbus.CreateMeterRTUConnector(cfg.Modbus.Port, cfg.Modbus.BaudRate,
		cfg.Modbus.Timeout(), logger, collector.ModbusInstrument())
	if err != nil {
		return nil, err
	}

	pluginConfig := service.MeterPluginConfig{
		DevicePrefix: cfg.Meters.DevicePrefix,
		Addresses:    addresses,
		BaudRate:     cfg.Modbus.BaudRate,
		PollInterval: cfg.Meters.PollInterval(),
		Locale:       cfg.Meters.Language,
	}

	// a restarted meter actor gets a fresh plugin so the heartbeat starts from base
	return func() *actor.MeterActor {
		plugin := service.NewMeterPlugin(pluginConfig, connector, registry, collector, logger)
		return actor.NewMeterActor(plugin, registry, cfg.Meters.DevicePrefix, cfg.Meters.PollInterval(), logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func() *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("modbus.port", "/dev/ttyUSB0")
	viper.SetDefault("modbus.baud_rate", 9600)
	viper.SetDefault("modbus.timeout_millis", 500)
	viper.SetDefault("meters.addresses", "2,3,4")
	viper.SetDefault("meters.poll_interval_seconds", 5)
	viper.SetDefault("meters.device_prefix", "dds238")
	viper.SetDefault("meters.language", "en")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "dds238")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("metrics_enable", false)
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
