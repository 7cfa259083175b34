// Package mqtt bridges the agent to an MQTT broker: authoring requests come in
// on command topics, run and telemetry state goes out.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finch-controller/internal/config"
	"finch-controller/internal/core"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Subscribed topics, relative to the prefix.
const (
	TopicProgramAppend = "program/append"
	TopicProgramParams = "program/params"
	TopicProgramClear  = "program/clear"
	TopicProgramRun    = "program/run"
	TopicProgramStop   = "program/stop"
	TopicRoutineRun    = "routine/run"
)

// Published topics, relative to the prefix.
const (
	TopicAvailability    = "availability"
	TopicRunState        = "run/state"
	TopicCommandExecuted = "command/executed"
	TopicTemperature     = "temperature/state"
	TopicConnection      = "connection"
	TopicTelemetry       = "telemetry"
)

type Client struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	bus      *core.EventBus
	sub      core.Subscriber
	requests core.RequestChannel
	prefix   string
	quit     chan struct{}
}

var publishedEvents = []core.EventType{
	core.RunStateChangedEvent,
	core.CommandExecutedEvent,
	core.TemperatureReadEvent,
	core.DeviceConnectedEvent,
	core.TelemetrySnapshotEvent,
}

// NewClient returns nil when MQTT is disabled.
func NewClient(cfg config.MQTTConfig, bus *core.EventBus, requests core.RequestChannel) *Client {
	if !cfg.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	// keep retrying at startup while the broker comes up
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetWill(prefix+"/"+TopicAvailability, "offline", 1, true)

	c := &Client{
		cfg:      cfg,
		bus:      bus,
		requests: requests,
		prefix:   prefix,
		quit:     make(chan struct{}),
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warnf("[MQTT] Connection lost: %v. Retrying in background...", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		log.Println("[MQTT] Attempting to reconnect...")
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect starts the connection and event publishing.
func (c *Client) Connect() error {
	if c.client == nil {
		return nil
	}
	log.Printf("[MQTT] Starting connection loop to %s...", c.cfg.Broker)

	c.sub = c.bus.Subscribe(publishedEvents...)
	go c.publishEvents(c.sub)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		log.Errorf("[MQTT] Initial connection error: %v", token.Error())
		return token.Error()
	}
	return nil
}

// Disconnect publishes offline, then closes the connection.
func (c *Client) Disconnect() {
	select {
	case <-c.quit:
		return
	default:
		close(c.quit)
	}
	if c.sub != nil {
		c.bus.Unsubscribe(c.sub, publishedEvents...)
	}
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	log.Println("[MQTT] Disconnecting...")
	token := c.client.Publish(c.topic(TopicAvailability), 0, true, "offline")
	if token.WaitTimeout(2 * time.Second) {
		if token.Error() != nil {
			log.Warnf("[MQTT] Failed to publish offline status: %v", token.Error())
		}
	} else {
		log.Warn("[MQTT] Timed out publishing offline status")
	}
	c.client.Disconnect(250)
	log.Println("[MQTT] Disconnected.")
}

func (c *Client) topic(subtopic string) string {
	return fmt.Sprintf("%s/%s", c.prefix, subtopic)
}

// Publish sends payload to prefix/subtopic without blocking the caller.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	topic := c.topic(subtopic)
	token := c.client.Publish(topic, 0, retained, fmt.Sprintf("%v", payload))
	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				log.Warnf("[MQTT] Publish error to %s: %v", topic, token.Error())
			}
		} else {
			log.Warnf("[MQTT] Timeout publishing to %s", topic)
		}
	}()
}

func (c *Client) publishEvents(sub core.Subscriber) {
	for {
		select {
		case <-c.quit:
			return
		case ev := <-sub:
			if p, ok := publicationFor(ev); ok {
				c.Publish(p.subtopic, p.payload, p.retained)
			}
		}
	}
}

// onConnect runs on paho's event goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	log.Println("[MQTT] Connected to broker.")

	for _, sub := range []string{
		TopicProgramAppend,
		TopicProgramParams,
		TopicProgramClear,
		TopicProgramRun,
		TopicProgramStop,
		TopicRoutineRun,
	} {
		topic := c.topic(sub)
		if token := client.Subscribe(topic, 1, c.handleMessage(sub)); token.Wait() && token.Error() != nil {
			log.Errorf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		} else {
			log.Printf("[MQTT] Subscribed to %s", topic)
		}
	}

	go func() {
		c.Publish(TopicAvailability, "online", true)
		if c.cfg.HADiscoveryEnabled {
			c.PublishHADiscovery()
		}
	}()
}

func (c *Client) handleMessage(subtopic string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		req, err := requestFor(subtopic, msg.Payload())
		if err != nil {
			log.Warnf("[MQTT] Ignoring message on %s: %v", msg.Topic(), err)
			return
		}
		select {
		case c.requests <- req:
		default:
			log.Warnf("[MQTT] Request queue full, dropping '%s'", req.Type)
		}
	}
}

// PublishHADiscovery announces the temperature sensor and run state to Home Assistant.
func (c *Client) PublishHADiscovery() {
	// let subscriptions settle
	time.Sleep(1 * time.Second)

	safeID := safeIdentifier(c.cfg.ClientID)
	device := map[string]interface{}{
		"identifiers":  []string{safeID},
		"name":         "Finch Robot",
		"manufacturer": "BirdBrain Technologies",
		"model":        "Finch",
	}
	availability := []map[string]string{
		{
			"topic":                 c.topic(TopicAvailability),
			"payload_available":     "online",
			"payload_not_available": "offline",
		},
	}

	configs := map[string]map[string]interface{}{
		fmt.Sprintf("%s/sensor/%s/temperature/config", c.cfg.HADiscoveryPrefix, safeID): {
			"name":                "Temperature",
			"unique_id":           safeID + "_temperature",
			"device_class":        "temperature",
			"unit_of_measurement": "°C",
			"state_topic":         c.topic(TopicTemperature),
			"availability":        availability,
			"device":              device,
		},
		fmt.Sprintf("%s/binary_sensor/%s/connection/config", c.cfg.HADiscoveryPrefix, safeID): {
			"name":         "Connection",
			"unique_id":    safeID + "_connection",
			"device_class": "connectivity",
			"state_topic":  c.topic(TopicConnection),
			"payload_on":   "connected",
			"payload_off":  "disconnected",
			"availability": availability,
			"device":       device,
		},
	}

	for topic, payload := range configs {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Errorf("[MQTT] Could not encode discovery for %s: %v", topic, err)
			continue
		}
		c.client.Publish(topic, 0, true, data)
		log.Printf("[MQTT] HA Discovery sent to %s", topic)
	}
}

func safeIdentifier(id string) string {
	id = strings.ReplaceAll(id, " ", "_")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, id)
}
