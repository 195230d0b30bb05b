// Package bridge connects a KNXnet/IP session to MQTT, SQLite and InfluxDB.
//
// # Architecture
//
//	                 ┌──────────────┐  telegram/{addr}  ┌─────────────┐
//	 KNX gateway ◄──►│  Connection  │──────────────────►│             │
//	                 │  (client)    │◄──────────────────│ MQTT broker │
//	                 └──────┬───────┘  command/{addr}   │             │
//	                        │          ack/{addr}       └─────────────┘
//	                        ▼          health
//	                 ┌──────────────┐
//	                 │    Sinks     │ Recorder (SQLite), Telemetry (InfluxDB)
//	                 └──────────────┘
//
// # Commands
//
// A CommandMessage published to {prefix}/command/{address} is executed
// against the Connection and answered with an AckMessage on
// {prefix}/ack/{address}:
//
//	{"id": "c1", "action": "write", "value": 21.5, "dpt": "9.001"}
//	{"id": "c2", "action": "write", "data": "01"}
//	{"id": "c3", "action": "read"}
//
// A read's ack carries the response payload, decoded when a DPT is
// configured for the address.
//
// # Telegrams
//
// Every indication is published as a TelegramMessage and handed to each
// Sink. Writes and responses are retained so a late subscriber sees the
// last value of every group address.
//
// # Health
//
// HealthReporter publishes a retained HealthMessage on a ticker. The
// broker-side last will lives on the MQTT client's status topic.
package bridge
