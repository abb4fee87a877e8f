package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type FrameResult string

const (
	FRAME_RESULT_DECODED   FrameResult = "decoded"
	FRAME_RESULT_FOREIGN   FrameResult = "foreign"
	FRAME_RESULT_MALFORMED FrameResult = "malformed"
)

// FrameReceivedEvent is published once per ERXUDP notification handled by
// the meter actor
type FrameReceivedEvent struct {
	Result FrameResult
}
