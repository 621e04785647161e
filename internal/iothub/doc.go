// Package iothub implements the device side of the Azure IoT Hub MQTT
// protocol on top of the mqtt infrastructure package.
//
// A Client represents one device identity. It sends device-to-cloud events,
// reads and patches the device twin, and dispatches direct methods and
// desired-property notifications to registered handlers.
//
// # Protocol
//
//	devices/{id}/messages/events/{property-bag}     device-to-cloud events
//	$iothub/methods/POST/{name}/?$rid={rid}         direct method requests
//	$iothub/methods/res/{status}/?$rid={rid}        direct method responses
//	$iothub/twin/GET/?$rid={rid}                    twin read
//	$iothub/twin/PATCH/properties/reported/?$rid=   reported-property patch
//	$iothub/twin/res/{status}/?$rid={rid}           twin responses
//	$iothub/twin/PATCH/properties/desired/?$version desired-property changes
//
// Authentication uses a SAS token derived from the device connection string.
// A new token is minted for every connection attempt.
//
// # Usage
//
//	hub, err := iothub.New(iothub.Config{ConnectionString: cs})
//	if err != nil {
//	    return err
//	}
//	hub.RegisterMethodHandler("EmergencyStop", stop)
//	if err := hub.Open(ctx); err != nil {
//	    return err
//	}
//	defer hub.Close()
//
//	err = hub.SendEvent(ctx, iothub.NewJSONMessage(body).WithProperty("MessageType", "Telemetry"))
package iothub
