// Package influxdb records automation telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//	run    tags: sequence, result, reason   fields: steps, interactions, duration_ms
//	match  tags: sequence, template         fields: step, attempt, confidence, found, elapsed_ms
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures are reported through SetOnError; connection
// and health check errors are returned directly.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRunMetric("pegar_bau", "succeeded", "", 4, 4, 3*time.Second)
package influxdb
