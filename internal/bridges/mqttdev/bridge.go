package mqttdev

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthlight/hearth-core/internal/engine"
	"github.com/hearthlight/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthlight/hearth-core/internal/rules"
)

// MQTTClient is the narrow view of the MQTT client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// EventHandler receives parsed device events. Implemented by
// engine.Dispatcher.
type EventHandler interface {
	OnDeviceEvent(ctx context.Context, evt rules.DeviceEvent)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// eventMessage is the wire format for device events on hearth/event/+.
// The device ID comes from the topic; a device_id field in the payload
// wins when present.
type eventMessage struct {
	DeviceID      string `json:"device_id,omitempty"`
	DeviceName    string `json:"device_name,omitempty"`
	Attribute     string `json:"attribute"`
	Value         any    `json:"value"`
	PreviousValue any    `json:"previous_value,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// commandMessage is the wire format for commands on hearth/command/{id}.
type commandMessage struct {
	ID         string `json:"id"`
	Capability string `json:"capability"`
	Command    string `json:"command"`
	Arguments  []any  `json:"arguments"`
	Timestamp  string `json:"timestamp"`
}

// capabilityForAttribute maps reported attributes to the capability they
// belong to when building device status snapshots.
var capabilityForAttribute = map[string]string{
	"switch":           "switch",
	"level":            "switchLevel",
	"hue":              "colorControl",
	"saturation":       "colorControl",
	"color":            "colorControl",
	"colorTemperature": "colorTemperature",
	"motion":           "motionSensor",
	"contact":          "contactSensor",
	"presence":         "presenceSensor",
	"temperature":      "temperatureMeasurement",
	"humidity":         "relativeHumidityMeasurement",
	"illuminance":      "illuminanceMeasurement",
	"battery":          "battery",
	"lock":             "lock",
	"door":             "doorControl",
	"thermostatMode":   "thermostat",
	"heatingSetpoint":  "thermostat",
	"coolingSetpoint":  "thermostat",
	"power":            "powerMeter",
	"energy":           "energyMeter",
	"volume":           "audioVolume",
	"playbackStatus":   "mediaPlayback",
}

// Bridge connects the rules engine to devices over MQTT.
//
// Inbound, it subscribes to device event topics, maintains a state cache
// from the reported values, and forwards each event to the registered
// handler. Outbound, it implements engine.DeviceController by publishing
// command messages and answering status queries from the cache.
//
// The cache is last-writer-wins per device attribute. A device that has
// never reported is unknown; GetDeviceStatus returns an error for it
// rather than an empty status.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	client  MQTTClient
	handler EventHandler
	logger  Logger
	qos     byte

	mu    sync.RWMutex
	state map[string]map[string]any

	baseCtx context.Context
}

// New creates a device bridge. The handler may be nil; events then only
// update the state cache.
func New(client MQTTClient, qos byte, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		client: client,
		logger: logger,
		qos:    qos,
		state:  make(map[string]map[string]any),
	}
}

// SetHandler wires the event consumer. Must be called before Start.
func (b *Bridge) SetHandler(h EventHandler) {
	b.handler = h
}

// Start subscribes to the device event and retained state topics. ctx is
// retained as the base context for handler invocations.
func (b *Bridge) Start(ctx context.Context) error {
	b.baseCtx = ctx

	topics := mqtt.Topics{}
	if err := b.client.Subscribe(topics.AllDeviceEvents(), b.qos, b.onEventMessage); err != nil {
		return fmt.Errorf("mqttdev: subscribing to device events: %w", err)
	}

	// Retained state snapshots warm the cache on startup so conditions
	// can evaluate before every device has re-reported.
	if err := b.client.Subscribe(topics.AllDeviceStates(), b.qos, b.onStateMessage); err != nil {
		return fmt.Errorf("mqttdev: subscribing to device states: %w", err)
	}

	b.logger.Info("device bridge started")
	return nil
}

// Stop unsubscribes from the device topics.
func (b *Bridge) Stop() {
	topics := mqtt.Topics{}
	if err := b.client.Unsubscribe(topics.AllDeviceEvents()); err != nil {
		b.logger.Warn("unsubscribe failed", "topic", topics.AllDeviceEvents(), "error", err)
	}
	if err := b.client.Unsubscribe(topics.AllDeviceStates()); err != nil {
		b.logger.Warn("unsubscribe failed", "topic", topics.AllDeviceStates(), "error", err)
	}
}

// ExecuteCommand publishes a command message to the device's command
// topic. Delivery is fire-and-forget beyond the broker acknowledgement;
// the device's resulting state change comes back as a normal event.
//
// Implements engine.DeviceController.
func (b *Bridge) ExecuteCommand(_ context.Context, deviceID, capability, command string, args []any) error {
	if deviceID == "" {
		return fmt.Errorf("mqttdev: device id is required")
	}
	if args == nil {
		args = []any{}
	}

	msg := commandMessage{
		ID:         "cmd-" + uuid.NewString()[:8],
		Capability: capability,
		Command:    command,
		Arguments:  args,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqttdev: marshalling command: %w", err)
	}

	topic := mqtt.Topics{}.DeviceCommand(deviceID)
	if err := b.client.Publish(topic, payload, b.qos, false); err != nil {
		return fmt.Errorf("mqttdev: publishing command to %s: %w", deviceID, err)
	}

	b.logger.Debug("command published",
		"device_id", deviceID,
		"capability", capability,
		"command", command,
		"command_id", msg.ID,
	)
	return nil
}

// GetDeviceStatus returns the cached state of a device grouped by
// capability. Implements engine.DeviceController.
func (b *Bridge) GetDeviceStatus(_ context.Context, deviceID string) (engine.DeviceStatus, error) {
	b.mu.RLock()
	attrs, ok := b.state[deviceID]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mqttdev: device %s has not reported state", deviceID)
	}

	status := make(engine.DeviceStatus)
	b.mu.RLock()
	for attr, value := range attrs {
		capability := capabilityForAttribute[attr]
		if capability == "" {
			capability = "generic"
		}
		if status[capability] == nil {
			status[capability] = make(map[string]any)
		}
		status[capability][attr] = value
	}
	b.mu.RUnlock()

	return status, nil
}

// KnownDevices returns the IDs of all devices present in the cache.
func (b *Bridge) KnownDevices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.state))
	for id := range b.state {
		out = append(out, id)
	}
	return out
}

// onEventMessage parses an event payload and forwards it.
func (b *Bridge) onEventMessage(topic string, payload []byte) error {
	evt, err := b.parseEvent(topic, payload)
	if err != nil {
		return err
	}

	b.updateCache(evt.DeviceID, evt.Attribute, evt.Value)

	if b.handler != nil {
		ctx := b.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		b.handler.OnDeviceEvent(ctx, evt)
	}
	return nil
}

// onStateMessage absorbs a retained state snapshot into the cache
// without dispatching rules. Payload is a flat attribute→value object.
func (b *Bridge) onStateMessage(topic string, payload []byte) error {
	deviceID := lastTopicSegment(topic)
	if deviceID == "" {
		return fmt.Errorf("mqttdev: state topic %q has no device id", topic)
	}

	var attrs map[string]any
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return fmt.Errorf("mqttdev: parsing state for %s: %w", deviceID, err)
	}

	for attr, value := range attrs {
		b.updateCache(deviceID, attr, value)
	}
	return nil
}

// parseEvent builds a DeviceEvent from topic and payload.
func (b *Bridge) parseEvent(topic string, payload []byte) (rules.DeviceEvent, error) {
	var msg eventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return rules.DeviceEvent{}, fmt.Errorf("mqttdev: parsing event on %s: %w", topic, err)
	}

	deviceID := msg.DeviceID
	if deviceID == "" {
		deviceID = lastTopicSegment(topic)
	}
	if deviceID == "" {
		return rules.DeviceEvent{}, fmt.Errorf("mqttdev: event on %s has no device id", topic)
	}
	if msg.Attribute == "" {
		return rules.DeviceEvent{}, fmt.Errorf("mqttdev: event from %s has no attribute", deviceID)
	}

	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ts = parsed
		}
	}

	return rules.DeviceEvent{
		DeviceID:      deviceID,
		DeviceName:    msg.DeviceName,
		Attribute:     msg.Attribute,
		Value:         msg.Value,
		PreviousValue: msg.PreviousValue,
		Timestamp:     ts,
	}, nil
}

// updateCache records one attribute value.
func (b *Bridge) updateCache(deviceID, attribute string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attrs, ok := b.state[deviceID]
	if !ok {
		attrs = make(map[string]any)
		b.state[deviceID] = attrs
	}
	attrs[attribute] = value
}

// lastTopicSegment returns the final segment of a topic path.
func lastTopicSegment(topic string) string {
	idx := strings.LastIndexByte(topic, '/')
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
