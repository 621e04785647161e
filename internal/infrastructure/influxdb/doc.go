// Package influxdb mirrors bridge telemetry into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every telemetry
// snapshot the bridge sends to the cloud is also written as one point of
// the "telemetry" measurement, tagged with the device name.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("Device 1", map[string]any{"GoodCount": 10}, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval); their
// failures arrive asynchronously through SetOnError. Connection and health
// check errors are returned directly.
package influxdb
