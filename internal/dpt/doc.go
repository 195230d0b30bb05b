// Package dpt converts between KNX datapoint types and Go values.
//
// Each supported main type has a pair of typed functions (EncodeBool,
// DecodeFloat16, ...) and an entry in a registry keyed by datapoint ID, so
// callers that only know the ID string, such as the CLI and the MQTT
// bridge, can use Encode and Decode:
//
//	data, err := dpt.Encode("9.001", 21.5)
//	v, err := dpt.Decode("9.001", data) // float64(21.5)
//
// Types of six bits or less travel inside the APCI word; Short reports which.
package dpt
