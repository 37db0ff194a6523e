// Package influxdb records camera telemetry in InfluxDB 2.x.
//
// Every numeric command value that changes during a refresh or action is
// written to the camera_metrics measurement, tagged by device and logical
// id, so CPU load, throughput, storage fill level and image settings can
// be graphed over time. Refresh cycle outcomes go to refresh_cycles.
//
// Writes are non-blocking and batched by the official client according to
// influxdb.batch_size and influxdb.flush_interval. Asynchronous write
// errors are delivered to the SetOnError callback.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCommandValue("cam-1", "SetCpuUsedState", 37, time.Now())
package influxdb
