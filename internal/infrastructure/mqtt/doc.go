// Package mqtt connects the Dobiss bridge to the Gray Logic MQTT broker.
//
// It wraps paho.mqtt.golang with auto-reconnect, subscription tracking
// (restored after a reconnect), handler panic recovery, and a Last Will
// that marks the bridge offline on graylogic/health/dobiss when the
// process dies without a clean disconnect.
//
// # Usage
//
//	lwt, _ := health.GetLWTPayload()
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{Topic: dobiss.HealthTopic(), Payload: lwt})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/dobiss/+", 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside a trusted LAN
//   - Set the password through DOBISS_MQTT_PASSWORD
package mqtt
