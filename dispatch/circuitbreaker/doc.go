// Package circuitbreaker isolates failing backends behind a per-backend
// state machine.
//
// Each breaker moves CLOSED -> OPEN after a run of consecutive failures,
// OPEN -> HALF_OPEN after a cooldown, and HALF_OPEN -> CLOSED after enough
// consecutive trial successes. While OPEN, calls fail immediately with
// ErrOpen and the backend is never invoked. Breakers for different backends
// are fully independent; Manager owns one breaker per routing key.
package circuitbreaker
