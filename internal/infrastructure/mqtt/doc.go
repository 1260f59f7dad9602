// Package mqtt provides MQTT client connectivity for Hearth Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Hearth uses MQTT as the device bus: hubs and device adapters publish
// state-change events on hearth/event/{device_id} and accept commands on
// hearth/command/{device_id}. The broker decouples the rules engine from
// device-specific integrations.
//
//	Hearth Core ↔ MQTT Broker ↔ Device adapters
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device events
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish command
//	topic := mqtt.Topics{}.DeviceCommand("light-living-main")
//	client.Publish(topic, []byte(`{"command":"on"}`), 1, false)
package mqtt
