// Package mqtt provides the MQTT client used by the bus bridge.
//
// Connect dials the broker and keeps reconnecting with the configured
// backoff. Subscriptions are replayed after each reconnect. The retained
// status topic carries the will, so subscribers see the bridge go offline
// even when the process dies.
//
// # Topics
//
// All topics sit under a configurable prefix (default "knxnetip"). KNX
// group addresses contain slashes, so the address level is path-escaped:
//
//	knxnetip/telegram/1%2F2%2F3   observed telegrams
//	knxnetip/command/1%2F2%2F3    commands for the bridge
//	knxnetip/ack/1%2F2%2F3        command results
//	knxnetip/health               retained health
//	knxnetip/status               retained online/offline, also the LWT
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllCommands(), 1, handler)
package mqtt
