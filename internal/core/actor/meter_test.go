package actor

import (
	"errors"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/dds238mqtt/internal/adapter/actor"
	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/core/port"
	"github.com/berfenger/dds238mqtt/internal/core/service"
	"github.com/berfenger/dds238mqtt/internal/util"
	"github.com/berfenger/dds238mqtt/pkg/dds238_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type meterFixture struct {
	system    *actor.ActorSystem
	connector *dds238_modbus.TestMeterConnector
	registry  *adactor.MQTTDeviceRegistry
	meter     *actor.PID
}

func newMeterFixture(t *testing.T) *meterFixture {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())

	as := actor.NewActorSystem()
	mqttPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActor(&cfg, logger)
	}))
	registry := adactor.NewMQTTDeviceRegistry(&cfg, logger)
	registry.Bind(as.Root, mqttPID)

	connector := dds238_modbus.CreateTestMeterConnector()
	plugin := service.NewMeterPlugin(service.MeterPluginConfig{
		DevicePrefix: cfg.Meters.DevicePrefix,
		Addresses:    []domain.MeterAddress{2, 3},
		BaudRate:     cfg.Modbus.BaudRate,
		PollInterval: cfg.Meters.PollInterval(),
		Locale:       cfg.Meters.Language,
	}, connector, registry, nil, logger)

	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(plugin, registry, cfg.Meters.DevicePrefix, cfg.Meters.PollInterval(), logger)
	}))

	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return &meterFixture{
		system:    as,
		connector: connector,
		registry:  registry,
		meter:     pid,
	}
}

func TestMeterActorPollsOnStart(t *testing.T) {
	f := newMeterFixture(t)

	// first cycle is not delayed by the poll interval
	assert.Eventually(t, func() bool {
		return len(f.connector.Connects()) >= 2
	}, 1*time.Second, 20*time.Millisecond)
	assert.Equal(t, []uint8{2, 3}, f.connector.Connects()[:2])
	// change-me record plus 8 units per meter
	assert.Equal(t, 1+2*8, f.registry.Units())

	res, err := f.system.Root.RequestFuture(f.meter, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, health.Healthy)
	assert.Equal(t, domain.ACTOR_ID_METER, health.Id)
}

func TestMeterActorReschedules(t *testing.T) {
	f := newMeterFixture(t)

	// poll interval is 2s in the test config
	assert.Eventually(t, func() bool {
		return len(f.connector.Connects()) >= 4
	}, 4*time.Second, 50*time.Millisecond)
	assert.Equal(t, 0, f.connector.OpenConnections())
}

func TestMeterActorReprogramsOnDescriptionEdit(t *testing.T) {
	f := newMeterFixture(t)

	res, err := f.system.Root.RequestFuture(f.meter, domain.DescriptionModifiedRequest{
		DeviceId:    "dds238_3",
		Unit:        domain.UNIT_POWER_FACTOR,
		Description: "Power Factor, ADDR=40",
	}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.DescriptionModifiedResponse)
	require.True(t, ok)
	assert.False(t, resp.HasResponseError())

	writes := f.connector.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, uint8(3), writes[0].Address)
	assert.Equal(t, []uint16{40*256 + 1}, writes[0].Values)

	key := domain.DeviceKey{Prefix: "dds238", Address: 3}
	description, err := f.registry.ReadDescription(key, domain.UNIT_POWER_FACTOR)
	require.NoError(t, err)
	assert.Equal(t, "Power Factor,ADDR=3", description)
}

func TestMeterActorRejectsUnknownDevice(t *testing.T) {
	f := newMeterFixture(t)

	res, err := f.system.Root.RequestFuture(f.meter, domain.DescriptionModifiedRequest{
		DeviceId:    "dds238_9",
		Unit:        domain.UNIT_POWER_FACTOR,
		Description: "ADDR=40",
	}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.DescriptionModifiedResponse)
	require.True(t, ok)
	assert.ErrorIs(t, resp.GetResponseError(), adactor.ErrUnknownUnit)
	assert.Empty(t, f.connector.Writes())

	res, err = f.system.Root.RequestFuture(f.meter, domain.DescriptionModifiedRequest{
		DeviceId: "other_3",
		Unit:     domain.UNIT_POWER_FACTOR,
	}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.DescriptionModifiedResponse).HasResponseError())
}

func TestMeterActorAnswersHealthWhilePolling(t *testing.T) {
	f := newMeterFixture(t)
	// two meters, two reads each: the cycle takes about 4s
	f.connector.SetReadDelay(1 * time.Second)

	assert.Eventually(t, func() bool {
		return len(f.connector.Connects()) >= 1
	}, 1*time.Second, 10*time.Millisecond)

	res, err := f.system.Root.RequestFuture(f.meter, domain.ActorHealthRequest{}, 300*time.Millisecond).Result()
	require.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, health.Healthy)
	assert.Equal(t, "polling", health.State)
}

type panickingPlugin struct {
	mu      sync.Mutex
	ticks   int
	aborted []error
}

func (p *panickingPlugin) OnStart() error { return nil }

func (p *panickingPlugin) OnTick() port.PollCycleResult {
	p.mu.Lock()
	p.ticks++
	p.mu.Unlock()
	panic(errors.New("decoder bug"))
}

func (p *panickingPlugin) OnTickAborted(err error) port.PollCycleResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = append(p.aborted, err)
	return port.PollCycleResult{NextInterval: 100 * time.Millisecond}
}

func (p *panickingPlugin) OnModified(domain.DeviceKey, uint8) {}

func (p *panickingPlugin) OnStop() {}

func (p *panickingPlugin) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks, len(p.aborted)
}

func TestMeterActorAbortedCycleUsesPluginBackoff(t *testing.T) {
	cfg := util.LoadTestConfig()
	as := actor.NewActorSystem()
	defer as.Shutdown()

	plugin := &panickingPlugin{}
	registry := adactor.NewMQTTDeviceRegistry(&cfg, zap.NewNop())
	// poll interval is 2s: more than one tick within a second means the plugin interval was used
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(plugin, registry, cfg.Meters.DevicePrefix, cfg.Meters.PollInterval(), zap.NewNop())
	}))
	defer as.Root.Stop(pid)

	assert.Eventually(t, func() bool {
		ticks, aborted := plugin.counts()
		return ticks >= 3 && aborted >= 3
	}, 1*time.Second, 20*time.Millisecond)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 1*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ActorHealthResponse).Healthy)
}
