// Package metrics exposes relay counters in the Prometheus exposition format.
//
// Registry implements relay.Observer; mount it as an http.Handler (default
// path /metrics). Families:
//
//	energytracker_relay_requests_total{outcome}   counter
//	energytracker_relay_duration_seconds          summary (sum/count only)
//	energytracker_relay_in_flight                 gauge
package metrics
