// Package mqtt connects the myQ bridge to the Gray Logic message bus.
//
// Gray Logic uses MQTT as the internal bus between Core and protocol
// bridges. This bridge subscribes to its command and request topics and
// publishes device state, command acks, health, and discovery results.
//
//	Gray Logic Core ↔ MQTT Broker ↔ myQ bridge ↔ myQ cloud
//
// # Reliability
//
//   - Auto-reconnect with backoff; subscriptions are restored on reconnect
//   - Last Will on the bridge health topic marks the bridge offline on a crash
//   - Handler panics are recovered and logged, never crash the bridge
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
