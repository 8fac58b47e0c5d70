// Package influxdb writes the controller's telemetry to InfluxDB 2.x.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Points are written from the scheduler loop, so a write never waits on
// the network; batch errors surface through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry switched off
//	}
//	defer client.Close()
//
//	client.WritePoint("relay_packet", map[string]string{"prefix": "C"},
//	    map[string]any{"mask": 31}, time.Now())
//
// Every point carries a site tag so several clubs can share a bucket.
package influxdb
