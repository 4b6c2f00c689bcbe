// Package telemetry provides Prometheus metrics and OpenTelemetry spans
// for render and viewer sessions.
package telemetry
