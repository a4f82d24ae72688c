// Package mqtt provides the broker connection for victron-ble2mqtt.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Retained availability on <base>/status, backed by a Last Will
//   - Classification of publish errors for the delivery engine
//
// # Topics
//
//	<base>/<device_type>/<device_name>   telemetry sample (JSON, not retained)
//	<base>/status                        "online" / "offline" (retained)
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on the local host (mqtt.tls=true)
//   - Credentials are only sent when both username and password are set
//
// # Usage
//
//	client := mqtt.NewClient(cfg.MQTT)
//	client.SetOnConnect(func() { go forwarder.ForwardAll(ctx) })
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Device("victron", "solar", "roof1")
//	err := client.Publish(topic, payload, 0, false)
//	switch mqtt.Classify(err) { ... }
package mqtt
