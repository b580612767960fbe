// Package influxdb records fan state history in InfluxDB v2.
//
// Every attribute the bridge reconciles becomes a point in the fan_state
// measurement, tagged by fan_id and attribute:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteFanState("bedroom", "fan_speed", "3", time.Now())
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller.
package influxdb
