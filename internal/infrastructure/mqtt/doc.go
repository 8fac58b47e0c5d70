// Package mqtt connects the controller to an MQTT broker.
//
// The broker carries the remote console: commands in, acknowledgements,
// retained state and health out. This package owns the connection, a
// Last Will on the health topic, subscription restore after reconnect and
// handler panic recovery. Message formats live in the bridge package.
//
// Topic layout, with the default prefix:
//
//	racelights/command/{action}    commands from remote consoles
//	racelights/ack/{action}        acknowledgements
//	racelights/state/session       relay session state (retained)
//	racelights/state/sequence      sequence snapshot (retained)
//	racelights/state/countdown     countdown phase (retained)
//	racelights/health              controller health (retained, LWT)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1, func(topic string, payload []byte) error {
//	    return handle(topic, payload)
//	})
//
// Use TLS (broker.tls: true) whenever the broker is off the boat's LAN.
package mqtt
