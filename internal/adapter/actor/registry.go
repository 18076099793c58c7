package actor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/berfenger/dds238mqtt/internal/config"
	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

var (
	ErrRegistryUnbound = errors.New("device registry is not bound to an mqtt actor")
	ErrUnknownUnit     = errors.New("unknown meter unit")
)

type unitKey struct {
	deviceId string
	unit     uint8
}

type registeredUnit struct {
	key         domain.DeviceKey
	unit        domain.MeterUnit
	description string
	// discovery and description reached the MQTT actor
	announced bool
}

// MQTTDeviceRegistry keeps the unit table of every meter device and mirrors it to MQTT
// through the MQTT actor. Descriptions live in memory and are published retained.
type MQTTDeviceRegistry struct {
	mu        sync.RWMutex
	config    *config.Config
	bridgeId  string
	units     map[unitKey]*registeredUnit
	sender    actor.SenderContext
	mqttActor *actor.PID
	logger    *zap.Logger
}

func NewMQTTDeviceRegistry(config *config.Config, logger *zap.Logger) *MQTTDeviceRegistry {
	return &MQTTDeviceRegistry{
		config:   config,
		bridgeId: domain.BridgeDevice(config.MQTT.BaseTopic).Id,
		units:    map[unitKey]*registeredUnit{},
		logger:   logger.With(zap.String("component", "registry")),
	}
}

// Bind sets the MQTT actor every update is sent to. It is called again when the
// actor is respawned.
func (r *MQTTDeviceRegistry) Bind(sender actor.SenderContext, mqttActor *actor.PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = sender
	r.mqttActor = mqttActor
}

// EnsureExists registers a unit and announces it. A unit whose announcement could not be
// sent is announced again on the next call.
func (r *MQTTDeviceRegistry) EnsureExists(key domain.DeviceKey, unit domain.MeterUnit) error {
	k := unitKey{deviceId: key.String(), unit: unit.Number}
	r.mu.Lock()
	u, ok := r.units[k]
	if !ok {
		u = &registeredUnit{
			key:         key,
			unit:        unit,
			description: unit.Description,
		}
		r.units[k] = u
		r.logger.Debug("unit registered", zap.Stringer("device", key), zap.Uint8("unit", unit.Number), zap.String("name", unit.Name))
	}
	announced, description := u.announced, u.description
	r.mu.Unlock()

	if announced {
		return nil
	}
	return r.announce(k, key, unit, description)
}

// RepublishAll announces every registered unit again with its current description.
// Messages queued by an MQTT actor that failed to connect are lost with it, so this
// runs every time the actor reports MQTTReady.
func (r *MQTTDeviceRegistry) RepublishAll() error {
	r.mu.Lock()
	type pending struct {
		k           unitKey
		key         domain.DeviceKey
		unit        domain.MeterUnit
		description string
	}
	all := make([]pending, 0, len(r.units))
	for k, u := range r.units {
		all = append(all, pending{k: k, key: u.key, unit: u.unit, description: u.description})
	}
	r.mu.Unlock()

	r.logger.Debug("republishing units", zap.Int("units", len(all)))
	var errs []error
	for _, p := range all {
		if err := r.announce(p.k, p.key, p.unit, p.description); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *MQTTDeviceRegistry) announce(k unitKey, key domain.DeviceKey, unit domain.MeterUnit, description string) error {
	if r.config.MQTT.HADiscoveryEnable {
		device := domain.MeterDevice(key, r.bridgeId)
		err := r.send(domain.PublishDiscoveryRequest{
			Sensors: domain.MeterUnitSensors(device, unit),
			Texts:   domain.MeterUnitTexts(device, unit),
		})
		if err != nil {
			return err
		}
	}
	if err := r.publishDescription(key, unit.Number, description); err != nil {
		return err
	}
	r.mu.Lock()
	if u, ok := r.units[k]; ok {
		u.announced = true
	}
	r.mu.Unlock()
	return nil
}

func (r *MQTTDeviceRegistry) Publish(key domain.DeviceKey, unit uint8, value string) error {
	if !r.exists(key, unit) {
		return fmt.Errorf("%w: %s/%d", ErrUnknownUnit, key, unit)
	}
	return r.send(domain.PublishSensorUpdateRequest{
		Event: domain.MeterUnitStateUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: key.String()},
			Unit:                   unit,
			Value:                  value,
		},
	})
}

func (r *MQTTDeviceRegistry) ReadDescription(key domain.DeviceKey, unit uint8) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[unitKey{deviceId: key.String(), unit: unit}]
	if !ok {
		return "", fmt.Errorf("%w: %s/%d", ErrUnknownUnit, key, unit)
	}
	return u.description, nil
}

func (r *MQTTDeviceRegistry) WriteDescription(key domain.DeviceKey, unit uint8, text string) error {
	r.mu.Lock()
	u, ok := r.units[unitKey{deviceId: key.String(), unit: unit}]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%d", ErrUnknownUnit, key, unit)
	}
	u.description = text
	r.mu.Unlock()
	return r.publishDescription(key, unit, text)
}

// Units returns the number of registered units.
func (r *MQTTDeviceRegistry) Units() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

func (r *MQTTDeviceRegistry) exists(key domain.DeviceKey, unit uint8) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.units[unitKey{deviceId: key.String(), unit: unit}]
	return ok
}

func (r *MQTTDeviceRegistry) publishDescription(key domain.DeviceKey, unit uint8, text string) error {
	return r.send(domain.PublishSensorUpdateRequest{
		Retain: true,
		Event: domain.MeterUnitDescriptionUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: key.String()},
			Unit:                   unit,
			Value:                  text,
		},
	})
}

func (r *MQTTDeviceRegistry) send(msg any) error {
	r.mu.RLock()
	sender, pid := r.sender, r.mqttActor
	r.mu.RUnlock()
	if sender == nil || pid == nil {
		return ErrRegistryUnbound
	}
	sender.Send(pid, msg)
	return nil
}

var _ port.DeviceRegistry = (*MQTTDeviceRegistry)(nil)
