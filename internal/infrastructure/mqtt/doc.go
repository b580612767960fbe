// Package mqtt provides the MQTT client used by the SenseME bridge.
//
// The bridge publishes canonical fan state and change events to the
// broker, takes commands from it and reports health. This package wraps
// paho.mqtt.golang with:
//   - Auto-reconnect with backoff and subscription restore
//   - Last Will and Testament on senseme/status
//   - Input validation on publish and subscribe
//   - Topic builders for the senseme/... hierarchy (see Topics)
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
//	        fanID, _ := mqtt.FanIDFromTopic(topic)
//	        return handle(fanID, payload)
//	    })
package mqtt
