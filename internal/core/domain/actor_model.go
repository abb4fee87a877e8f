package domain

import (
	"errors"

	"github.com/berfenger/wisun2metrics/pkg/wisun"

	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// ActorRef lets a request name the actor that should get the answer when
// it is not the sender
type ActorRef actor.PID

type ActorRequest interface {
	ReplyTo() *ActorRef
}

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

// NotJoined is true when the request failed only because the meter link
// is not up, which clears once the handshake completes
func (r ActorResponseMixIn) NotJoined() bool {
	return errors.Is(r.ResponseError, wisun.ErrNotJoined)
}

// RequestReadingsRequest asks the meter actor to send one Get request for
// the meter properties. Answers arrive asynchronously as sensor events.
type RequestReadingsRequest struct {
	ActorRequestMixIn
}

type GetMeterInfoRequest struct {
	ActorRequestMixIn
}

type GetMeterInfoResponse struct {
	ActorResponseMixIn
	Link wisun.Link
}

// MeterLinkFailed is sent by the meter actor to its parent when the modem
// link cannot be established or is lost
type MeterLinkFailed struct {
	Error error
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

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
}

type PublishDiscoveryResponse struct {
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
