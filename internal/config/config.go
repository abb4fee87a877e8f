package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/wisun2metrics/pkg/meter"
	"github.com/berfenger/wisun2metrics/pkg/wisun"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel   zapcore.Level
	SmartMeter SmartMeterConfig `mapstructure:"smartmeter"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Port       uint             `mapstructure:"port"`
	HttpLog    bool             `mapstructure:"http_log"`
}

type SmartMeterConfig struct {
	// route-B authentication id, 32 characters
	Id       string
	Password string
	Device   string
	BaudRate int `mapstructure:"baud_rate"`

	PollIntervalMillis uint32     `mapstructure:"poll_interval_millis"`
	CurrentUnit        string     `mapstructure:"current_unit"`
	Scan               ScanConfig `mapstructure:"scan"`

	ReadTimeoutMillis uint32 `mapstructure:"read_timeout_millis"`
	BlankReadLimit    int    `mapstructure:"blank_read_limit"`
	MaxResends        int    `mapstructure:"max_resends"`
	QuietPeriodMillis uint32 `mapstructure:"quiet_period_millis"`
}

type ScanConfig struct {
	MinDuration int `mapstructure:"min_duration"`
	MaxDuration int `mapstructure:"max_duration"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c SmartMeterConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// ConnectionOptions maps the modem settings onto the handshake options
func (c SmartMeterConfig) ConnectionOptions() wisun.Options {
	opts := wisun.DefaultOptions()
	opts.RouteBID = c.Id
	opts.Password = c.Password
	if c.Scan.MinDuration > 0 {
		opts.ScanMinDuration = c.Scan.MinDuration
	}
	if c.Scan.MaxDuration > 0 {
		opts.ScanMaxDuration = c.Scan.MaxDuration
	}
	if c.ReadTimeoutMillis > 0 {
		opts.ReadTimeout = time.Duration(c.ReadTimeoutMillis) * time.Millisecond
	}
	if c.BlankReadLimit > 0 {
		opts.BlankReadLimit = c.BlankReadLimit
	}
	if c.MaxResends > 0 {
		opts.MaxResends = c.MaxResends
	}
	if c.QuietPeriodMillis > 0 {
		opts.QuietPeriod = time.Duration(c.QuietPeriodMillis) * time.Millisecond
	}
	return opts
}

// Validate checks bounds and normalizes topics in place
func (c *Config) Validate() error {
	if c.SmartMeter.Id == "" {
		return errors.New("config param smartmeter.id is required")
	}
	if c.SmartMeter.Password == "" {
		return errors.New("config param smartmeter.password is required")
	}
	if c.SmartMeter.Device == "" {
		return errors.New("config param smartmeter.device is required")
	}
	if c.SmartMeter.PollIntervalMillis < 1000 {
		return errors.New("config param smartmeter.poll_interval_millis should be >= 1000")
	}
	if c.SmartMeter.Scan.MinDuration < 4 {
		return errors.New("config param smartmeter.scan.min_duration should be >= 4")
	}
	if c.SmartMeter.Scan.MaxDuration > 14 {
		return errors.New("config param smartmeter.scan.max_duration should be <= 14")
	}
	if c.SmartMeter.Scan.MaxDuration <= c.SmartMeter.Scan.MinDuration {
		return fmt.Errorf("config param smartmeter.scan: empty duration range [%d, %d)",
			c.SmartMeter.Scan.MinDuration, c.SmartMeter.Scan.MaxDuration)
	}
	if _, err := meter.ParseCurrentUnit(c.SmartMeter.CurrentUnit); err != nil {
		return fmt.Errorf("config param smartmeter.current_unit: %w", err)
	}

	if !c.MQTT.Enable {
		return nil
	}
	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.HADiscoveryTopic = hadBaseTopic
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
