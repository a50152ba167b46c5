// Package otel binds engine metrics to OpenTelemetry observable instruments.
//
// [New] registers one counter per engine flow with an outcome attribute and
// one cumulative latency bucket counter; a single callback reads the engine
// snapshot on each collection. Callers that own a MeterProvider use New
// directly. [StartLogging] builds a provider with a periodic reader that
// logs through zap, for deployments without a collector.
package otel
