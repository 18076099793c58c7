package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
	Texts   []GenericText
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// DescriptionModifiedRequest is sent when a user edits the description of a meter unit.
type DescriptionModifiedRequest struct {
	ActorRequestMixIn
	DeviceId    string
	Unit        uint8
	Description string
}

type DescriptionModifiedResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
