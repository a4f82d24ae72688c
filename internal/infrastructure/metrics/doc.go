// Package metrics counts publish attempts, outcomes and outbox activity
// with the Prometheus client library.
//
// The bridge is a short-lived process, so metrics are not served over
// HTTP. When metrics.textfile is set they are written once at shutdown for
// node_exporter's textfile collector:
//
//	metrics:
//	  textfile: "/var/lib/node_exporter/victron-roof1.prom"
package metrics
