// Package influxdb writes Dobiss bridge telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. The bridge records
// one point per completed output command (status, attempts, latency) and
// one point per health interval with the bus and driver counters.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	telemetry := dobiss.NewPointTelemetry(client)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Async write errors are delivered to SetOnError.
package influxdb
