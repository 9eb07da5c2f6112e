// Package influxdb records myQ device state history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every observed
// state change (door position, lamp power, availability) is written as a
// point in the "myq_device_state" measurement so door cycles can be
// charted and audited. Writes are non-blocking and batched; InfluxDB is
// optional and the bridge runs without it.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history disabled
//	}
//	defer client.Close()
//
//	client.WriteDeviceState(influxdb.DeviceState{
//	    Serial: "CG0812345678", Kind: "garagedoor",
//	    Values: map[string]any{"garagedoor_closed": true}, Available: true,
//	})
package influxdb
