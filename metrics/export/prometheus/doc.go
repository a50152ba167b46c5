// Package prometheus exposes engine counters and latency histograms through a
// client_golang [Collector].
//
// Counter names follow authcore_*_total; histograms are
// authcore_login_latency_seconds and authcore_validate_latency_seconds.
// Nothing is registered globally; callers register the collector or mount
// [Handler].
package prometheus
