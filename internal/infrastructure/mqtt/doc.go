// Package mqtt provides the MQTT session used to reach the cloud hub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Credentials re-evaluated on every connect (short-lived SAS tokens)
//   - Message publishing bounded by context and timeout
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last-will and online/offline status messages
//
// Handlers are delivered unordered, so a handler may issue a request and
// wait for its response on another subscription without dead-locking the
// delivery goroutine.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, mqtt.Options{
//	    BrokerURL:   "ssl://myhub.azure-devices.net:8883",
//	    ClientID:    "device-1",
//	    Credentials: sas.Credentials,
//	    QoS:         1,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(ctx, "$iothub/methods/POST/#", 0,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
package mqtt
