// Package mqttdev bridges the rules engine onto the MQTT device bus.
//
// Device adapters publish state-change events on hearth/event/{device_id}
// and retained state snapshots on hearth/state/{device_id}; the bridge
// maintains a device state cache from both and forwards each event to
// the engine's dispatcher. Commands from the action executor are
// published to hearth/command/{device_id} and acknowledged only at the
// broker level: the device's real response arrives later as an ordinary
// state event.
package mqttdev
