// Package mqtt provides the MQTT transport bridge for the swap-station core.
//
// This package manages:
//   - Connection to the station broker with auto-reconnect
//   - Subscribe, publish and unsubscribe calls that report broker acknowledgements
//   - A single inbound-message slot per name (last registration wins)
//   - Manual acknowledgement of every delivered message
//   - Last Will and Testament (LWT) for kiosk offline detection
//
// # Architecture
//
// The kiosk talks to the back office exclusively over MQTT. Requests are
// published on call/emit topics and the answers arrive, correlated only by an
// id in the payload, on echo/rtrn topics:
//
//	Kiosk ↔ MQTT Broker ↔ Back-office services
//
// The client deliberately routes every subscription into one inbound slot.
// Which consumer handles a message is decided by the arbiter package, not by
// per-subscription callbacks.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.RegisterInboundHandler(transport.InboundSlot, func(msg transport.Message) {
//	    defer msg.Ack()
//	    log.Printf("Received: %s = %s", msg.Topic, msg.Payload)
//	})
//
//	err = client.Subscribe(mqtt.Topics{}.AllEcho(), 1)
//	err = client.Publish(mqtt.Topics{}.Call("attendant", "kiosk", "P1", "identify_customer"), 1, payload)
package mqtt
