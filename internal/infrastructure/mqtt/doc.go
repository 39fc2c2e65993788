// Package mqtt provides MQTT client connectivity for PowerWatch Core.
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
// PowerWatch uses MQTT as its outward-facing event surface. The daemon
// publishes group status, outlet state, and monitoring events, and
// accepts manual control commands on a per-group command topic.
//
//	PowerWatch Core ↔ MQTT Broker ↔ Dashboards / Automations
//
// MQTT is optional: when disabled in configuration the daemon runs
// fully self-contained and monitoring events stay local.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Accept manual control commands for all groups
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a monitoring event
//	topic := mqtt.Topics{}.Event("power_cycle")
//	client.Publish(topic, []byte(`{"group":"lan"}`), 1, false)
package mqtt
