// Package health probes inference backends on an interval and warms them
// back up after a failure.
//
// A probe is one lightweight generate round trip: healthy when a non-empty
// response arrives within the deadline, degraded when the response is empty
// or malformed, unhealthy on timeout, connection error, or a non-2xx status.
// An unhealthy backend is kept out of the dispatcher's candidate set until a
// warmup batch of trivial prompts passes.
//
// The monitor feeds the balancer's candidate set but never consults the
// circuit breaker: a backend can be circuit-open from live call failures
// independently of probe results.
package health
