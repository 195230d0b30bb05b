// Package influxdb provides InfluxDB connectivity for bus telemetry.
//
// Two measurements are written through influxdb-client-go's batching
// write API:
//
//	knx_telegram  tags apci, dest, src      fields size, value (hex)
//	knx_session   tags gateway, mode        fields connected and session counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelegram(influxdb.Telegram{Source: "1.1.5", Destination: "1/2/3", APCI: "GroupValue_Write", Data: []byte{1}})
//
// Writes are batched according to batch_size and flush_interval. A failed
// batch goes to the SetOnError hook and makes the next HealthCheck fail,
// which surfaces it in the bridge health message and GET /api/v1/status.
package influxdb
