// Package metrics provides a small fluent factory for the dispatch core's
// OpenTelemetry instruments.
//
// The factory caches instruments by name and exposes builder-style counter
// and histogram recording with low-overhead attribute composition. The
// embedding process decides where the meter's measurements go; this package
// performs no export of its own.
package metrics
