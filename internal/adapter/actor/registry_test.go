package actor

import (
	"testing"
	"time"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func probeActor(ch chan any) actor.Actor {
	return actor.ReceiveFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case domain.PublishSensorUpdateRequest, domain.PublishDiscoveryRequest:
			ch <- msg
		}
	})
}

func receive(t *testing.T, ch chan any) any {
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestRegistryUnbound(t *testing.T) {
	cfg := util.LoadTestConfig()
	registry := NewMQTTDeviceRegistry(&cfg, zap.NewNop())
	names, _ := domain.LocaleNames("en")

	err := registry.EnsureExists(domain.DeviceKey{Prefix: "dds238", Address: 2}, domain.MeterUnits(2, names)[0])
	assert.ErrorIs(t, err, ErrRegistryUnbound)
}

func TestRegistryPublishesToMQTTActor(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	logger := zap.Must(zap.NewDevelopment())

	as := actor.NewActorSystem()
	defer as.Shutdown()
	ch := make(chan any, 16)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return probeActor(ch) }))

	registry := NewMQTTDeviceRegistry(&cfg, logger)
	registry.Bind(as.Root, pid)

	key := domain.DeviceKey{Prefix: "dds238", Address: 2}
	names, _ := domain.LocaleNames("en")
	pf := domain.MeterUnits(2, names)[domain.UNIT_POWER_FACTOR-1]
	require.NoError(t, registry.EnsureExists(key, pf))
	// second registration is a no-op
	require.NoError(t, registry.EnsureExists(key, pf))
	assert.Equal(t, 1, registry.Units())

	discovery, ok := receive(t, ch).(domain.PublishDiscoveryRequest)
	require.True(t, ok)
	assert.Len(t, discovery.Sensors, 1)
	assert.Len(t, discovery.Texts, 1)

	description, ok := receive(t, ch).(domain.PublishSensorUpdateRequest)
	require.True(t, ok)
	assert.True(t, description.Retain)
	assert.Equal(t, domain.MeterUnitDescriptionUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "dds238_2"},
		Unit:                   domain.UNIT_POWER_FACTOR,
		Value:                  "Meter Addr=2, Power Factor, ADDR=2",
	}, description.Event)

	require.NoError(t, registry.Publish(key, domain.UNIT_POWER_FACTOR, "99.5"))
	state, ok := receive(t, ch).(domain.PublishSensorUpdateRequest)
	require.True(t, ok)
	assert.Equal(t, domain.MeterUnitStateUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "dds238_2"},
		Unit:                   domain.UNIT_POWER_FACTOR,
		Value:                  "99.5",
	}, state.Event)

	require.NoError(t, registry.WriteDescription(key, domain.UNIT_POWER_FACTOR, "Power Factor,ADDR=2"))
	text, err := registry.ReadDescription(key, domain.UNIT_POWER_FACTOR)
	require.NoError(t, err)
	assert.Equal(t, "Power Factor,ADDR=2", text)
	receive(t, ch)

	assert.ErrorIs(t, registry.Publish(key, domain.UNIT_VOLTAGE, "230.0"), ErrUnknownUnit)
	_, err = registry.ReadDescription(key, domain.UNIT_VOLTAGE)
	assert.ErrorIs(t, err, ErrUnknownUnit)
	assert.ErrorIs(t, registry.WriteDescription(key, domain.UNIT_VOLTAGE, "x"), ErrUnknownUnit)
}

func TestRegistryAnnouncesAfterFailedSend(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true

	as := actor.NewActorSystem()
	defer as.Shutdown()
	ch := make(chan any, 16)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return probeActor(ch) }))

	registry := NewMQTTDeviceRegistry(&cfg, zap.NewNop())
	key := domain.DeviceKey{Prefix: "dds238", Address: 2}
	names, _ := domain.LocaleNames("en")
	voltage := domain.MeterUnits(2, names)[domain.UNIT_VOLTAGE-1]

	require.ErrorIs(t, registry.EnsureExists(key, voltage), ErrRegistryUnbound)
	assert.Equal(t, 1, registry.Units())

	// the unit was never announced, so the next call must publish it
	registry.Bind(as.Root, pid)
	require.NoError(t, registry.EnsureExists(key, voltage))
	_, ok := receive(t, ch).(domain.PublishDiscoveryRequest)
	assert.True(t, ok, "discovery")
	description, ok := receive(t, ch).(domain.PublishSensorUpdateRequest)
	require.True(t, ok, "description")
	assert.Equal(t, "Meter Addr=2", description.Event.(domain.MeterUnitDescriptionUpdateEvent).Value)

	// once announced it is not published again
	require.NoError(t, registry.EnsureExists(key, voltage))
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %T", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRegistryRepublishAll(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true

	as := actor.NewActorSystem()
	defer as.Shutdown()
	ch := make(chan any, 32)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return probeActor(ch) }))

	registry := NewMQTTDeviceRegistry(&cfg, zap.NewNop())
	assert.NoError(t, registry.RepublishAll(), "nothing registered")

	registry.Bind(as.Root, pid)
	names, _ := domain.LocaleNames("en")
	meter := domain.DeviceKey{Prefix: "dds238", Address: 3}
	changeMe := domain.DeviceKey{Prefix: "dds238", Address: domain.FACTORY_METER_ADDRESS}
	require.NoError(t, registry.EnsureExists(meter, domain.MeterUnits(3, names)[domain.UNIT_POWER_FACTOR-1]))
	require.NoError(t, registry.EnsureExists(changeMe, domain.AddressChangeUnit(names)))
	require.NoError(t, registry.WriteDescription(meter, domain.UNIT_POWER_FACTOR, "Power Factor,ADDR=3"))
	// 2 discovery + 2 descriptions + 1 description edit
	for i := 0; i < 5; i++ {
		receive(t, ch)
	}

	// a reconnected MQTT actor gets the whole tree again, with the current descriptions
	require.NoError(t, registry.RepublishAll())
	discoveries := 0
	descriptions := map[string]string{}
	for i := 0; i < 4; i++ {
		switch msg := receive(t, ch).(type) {
		case domain.PublishDiscoveryRequest:
			discoveries++
		case domain.PublishSensorUpdateRequest:
			event := msg.Event.(domain.MeterUnitDescriptionUpdateEvent)
			assert.True(t, msg.Retain)
			descriptions[event.Id] = event.Value
		}
	}
	assert.Equal(t, 2, discoveries)
	assert.Equal(t, map[string]string{
		"dds238_3": "Power Factor,ADDR=3",
		"dds238_1": "Meter Addr=1, ADDR=1",
	}, descriptions)
}
