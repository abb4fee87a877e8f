package mqtt

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/berfenger/wisun2metrics/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"

	defaultHADiscoveryTopic = "homeassistant"
)

var ErrTimeout = errors.New("mqtt: operation timed out")

// OptsFromConfig builds the paho options. Reconnection is left to the
// supervisor of the MQTT actor, so paho never retries on its own.
func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("wisun_%s_%d", cfg.MQTT.BaseTopic, rand.Intn(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetWill(bridgeStateTopic(cfg.MQTT.BaseTopic), MQTT_PAYLOAD_OFFLINE, 0, true)

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client: mqtt.NewClient(opts),
		cfg:    cfg.MQTT,
	}
}

type MQTTClient struct {
	client mqtt.Client
	cfg    config.MQTTConfig
}

func (c *MQTTClient) discoveryTopic() string {
	if c.cfg.HADiscoveryTopic == "" {
		return defaultHADiscoveryTopic
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.cfg.BaseTopic)
}

// SensorStateTopic is where the readings of one meter sensor are published
func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.cfg.BaseTopic, sensorId)
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	await(c.client.Publish(topic, qos, retain, payload), "publish "+topic, timeout, continuation)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	await(c.client.Connect(), "connect", timeout, continuation)
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

// await calls continuation from its own goroutine once the token settles
func await(token mqtt.Token, op string, timeout time.Duration, continuation func(error)) {
	go func() {
		if !token.WaitTimeout(timeout) {
			continuation(fmt.Errorf("%s: %w", op, ErrTimeout))
			return
		}
		continuation(token.Error())
	}()
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
