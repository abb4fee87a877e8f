package events

import (
	. "github.com/berfenger/wisun2metrics/internal/core/domain"
	"github.com/berfenger/wisun2metrics/pkg/meter"
	"github.com/berfenger/wisun2metrics/pkg/wisun"
)

// MeasurementToUpdateEvents emits one event per available value. Values the
// interpreter could not produce are skipped, never zero filled.
func MeasurementToUpdateEvents(m meter.Measurement) []any {
	var events []any

	// Cumulative energy
	if m.CumulativeKWh != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_CUMULATIVE_ENERGY,
			},
			Value:    *m.CumulativeKWh,
			Decimals: 4,
		})
	}
	// Instantaneous power
	if m.Watts != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_INSTANTANEOUS_WATT,
			},
			Value:    float64(*m.Watts),
			Decimals: 0,
		})
	}
	// Phase currents
	decimals := uint(1)
	if m.CurrentUnit == meter.Milliamperes {
		decimals = 0
	}
	if m.CurrentR != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_CURRENT_R,
			},
			Value:    *m.CurrentR,
			Decimals: decimals,
		})
	}
	if m.CurrentT != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_CURRENT_T,
			},
			Value:    *m.CurrentT,
			Decimals: decimals,
		})
	}

	return events
}

func LinkToUpdateEvents(link wisun.Link) []any {
	var events []any

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LINK_RSSI,
		},
		Value:    link.RSSI,
		Decimals: 2,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LINK_LQI,
		},
		Value: float64(link.LQI),
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LINK_CHANNEL,
		},
		Value: link.Channel,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LINK_PAN_ID,
		},
		Value: link.PanID,
	})

	return events
}
