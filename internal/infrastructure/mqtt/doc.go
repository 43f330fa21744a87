// Package mqtt connects the engine to an MQTT broker for remote control and
// run telemetry.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Publishing with QoS validation and a payload size cap
//   - Last Will and Testament so subscribers see the engine go offline
//   - The autotouch/ topic tree (see Topics)
//
// # Topic tree
//
//	autotouch/runs/{run_id}/state     run lifecycle events (published)
//	autotouch/command/execute         {"action": "...", "device_id": "..."} (subscribed)
//	autotouch/command/stop            any payload (subscribed)
//	autotouch/system/status           online/offline, retained
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.CommandStop(), 1,
//	    func(topic string, payload []byte) error {
//	        sup.CancelActive()
//	        return nil
//	    })
package mqtt
