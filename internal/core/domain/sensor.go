package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/wisun2metrics/pkg/wisun"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_CUMULATIVE_ENERGY  = "cumulative_energy"
	SENSOR_ID_INSTANTANEOUS_WATT = "instantaneous_power"
	SENSOR_ID_CURRENT_R          = "current_r"
	SENSOR_ID_CURRENT_T          = "current_t"
	SENSOR_ID_LINK_RSSI          = "link_rssi"
	SENSOR_ID_LINK_LQI           = "link_lqi"
	SENSOR_ID_LINK_CHANNEL       = "link_channel"
	SENSOR_ID_LINK_PAN_ID        = "link_pan_id"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_SIGNAL_STRENGTH = "signal_strength"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("wisun_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "wisun2metrics",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Wi-SUN bridge %s", md5HashShort(baseTopic)),
	}
}

// MeterDevice identifies the meter by the MAC address found while scanning
func MeterDevice(link wisun.Link) Device {
	return Device{
		Id:           fmt.Sprintf("smartmeter_%s", md5HashShort(link.MACAddr)),
		Version:      link.Version,
		Manufacturer: "ECHONET Lite",
		Model:        "Low voltage smart electric energy meter",
		Name:         fmt.Sprintf("Smart meter %s", md5HashShort(link.MACAddr)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func MeterSensors(meterDevice Device, currentUnit string) []GenericSensor {

	var sensors []GenericSensor

	// Cumulative energy
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_CUMULATIVE_ENERGY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Cumulative energy",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "kWh",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_CUMULATIVE_ENERGY),
	})

	// Instantaneous power
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_INSTANTANEOUS_WATT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Instantaneous power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_INSTANTANEOUS_WATT),
	})

	// Phase currents
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_CURRENT_R,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Current R phase",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: currentUnit,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_CURRENT_R),
	})
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_CURRENT_T,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Current T phase",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: currentUnit,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_CURRENT_T),
	})

	// Link quality
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_LINK_RSSI,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Link RSSI",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_SIGNAL_STRENGTH,
		UnitOfMeasurement: "dBm",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_LINK_RSSI),
	})
	sensors = append(sensors, GenericSensor{
		Device:           meterDevice,
		Id:               SENSOR_ID_LINK_LQI,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Link quality indicator",
		StateClass:       STATE_CLASS_MEASUREMENT,
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(meterDevice.Id, SENSOR_ID_LINK_LQI),
	})
	sensors = append(sensors, GenericSensor{
		Device:           meterDevice,
		Id:               SENSOR_ID_LINK_CHANNEL,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Link channel",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		Icon:             "mdi:radio-tower",
		UniqueId:         uniqueId(meterDevice.Id, SENSOR_ID_LINK_CHANNEL),
	})
	sensors = append(sensors, GenericSensor{
		Device:           meterDevice,
		Id:               SENSOR_ID_LINK_PAN_ID,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Link PAN ID",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(meterDevice.Id, SENSOR_ID_LINK_PAN_ID),
	})

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
