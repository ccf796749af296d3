// Package influxdb mirrors stored sensor readings to InfluxDB.
//
// SQLite stays the system of record. When enabled, every reading the
// ingestor newly stores is also written as a point of the
// "sensor_reading" measurement, tagged with device_id, sensor_id, type
// and unit. Values that parse as decimals land in the numeric "value"
// field; the raw string is always kept in "raw".
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	ingestor.SetSink(client)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are delivered to the
// callback set with SetOnError.
package influxdb
