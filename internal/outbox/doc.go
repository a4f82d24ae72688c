// Package outbox provides the durable store-and-forward directory for
// telemetry records that could not be delivered.
//
// Each entry is one file named by its record key. Entries are created by
// the sample pipeline after a failed live publish and removed by the
// delivery engine after a successful publish, live or replayed. The
// directory is the only state: there is no index and nothing is cached, so
// a fresh process sees exactly what earlier runs left behind.
//
// Layout:
//
//	store-and-forward/
//	  solar_roof1_1700000000000     serialized record
//	  .tmp-solar_roof1_...-123456   in-progress write, ignored
package outbox
