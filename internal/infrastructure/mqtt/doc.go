// Package mqtt announces device lifecycle events over MQTT.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Retained per-device state topics and lifecycle event topics
//
// # Topics
//
// All topics are scoped by node ID:
//
//	cdp/{node}/device/{minor}/state   retained device Info, cleared on removal
//	cdp/{node}/event/{created|removed} lifecycle events
//	cdp/{node}/system/status          retained online/offline status (LWT)
//
// # Security Considerations
//
//   - TLS should be enabled outside local development (cfg.Broker.TLS=true)
//   - Payloads carry device names and numbers only, no credentials
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Node.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	manager.AddPublisher(mqtt.NewAnnouncer(client, client.Topics(), client.QoS()))
package mqtt
