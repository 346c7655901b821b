// Package retry re-attempts transient backend failures with exponential
// backoff and jitter.
//
// Execute only retries errors the policy classifies as retryable; fatal
// errors surface immediately. Backoff waits respect the caller's context so
// a job deadline cancels a pending retry instead of completing the wait.
package retry
