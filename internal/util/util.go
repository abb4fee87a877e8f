package util

import (
	"github.com/berfenger/wisun2metrics/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		SmartMeter: config.SmartMeterConfig{
			Id:                 "0123456789ABCDEF0123456789ABCDEF",
			Password:           "PASSWORD1234",
			Device:             "/dev/null",
			BaudRate:           115200,
			PollIntervalMillis: 1000,
			CurrentUnit:        "A",
			Scan: config.ScanConfig{
				MinDuration: 4,
				MaxDuration: 10,
			},
		},
		MQTT: config.MQTTConfig{
			Enable:            true,
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "wisun",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Port: 8080,
	}
}
