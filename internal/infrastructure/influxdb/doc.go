// Package influxdb provides the optional time-series telemetry sink.
//
// When enabled in config, the bridge records channel levels, classified
// button events, and session state transitions to an InfluxDB v2
// instance. Writes are batched and non-blocking so a slow or absent
// InfluxDB never stalls event routing; the bridge runs identically with
// the sink disabled.
package influxdb
