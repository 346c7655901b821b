// Package admission bounds the number of concurrent backend calls and
// orders waiting work by priority.
//
// Submit is a synchronous, non-blocking admission decision: a full backlog
// rejects immediately so callers can apply their own backpressure upstream.
// Admitted jobs wait in a priority heap (FIFO within a priority class) until
// the background dispatch loop finds a free execution slot. Work that waits
// past its timeout expires without ever reaching a backend.
package admission
