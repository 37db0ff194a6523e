// Package mqtt connects reolinkd to an MQTT broker.
//
// The broker is how home-automation peers see camera state and drive
// camera actions without speaking the REST API:
//
//	reolinkd ─ state/ack/health ─▶ broker ─▶ subscribers
//	reolinkd ◀─ command ────────── broker ◀─ publishers
//
// Command state is published retained so a late subscriber sees the last
// known value. The client reconnects on its own and restores every
// subscription it tracked; a Last Will on reolink/system/status marks the
// daemon offline if it dies without a clean Close.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handleCommand)
//	client.PublishRetained(mqtt.Topics{}.State("cam-1", "SetIrLightsState"), payload)
package mqtt
