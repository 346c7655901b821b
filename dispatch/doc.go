// Package dispatch is the request-dispatch core that sits between
// chat/agent endpoints and a small pool of local model-inference backends.
//
// System wires the admission queue, load balancer, per-backend circuit
// breakers, retry coordinator, and health monitor into one unit:
//
//	caller -> Submit -> admission queue -> balancer.Select ->
//	breaker.Call(retry.Execute(backend call)) -> outcome recorded
//
// Lifecycle is owned by whichever process constructs the System; there are
// no package-level singletons. Queued work does not survive a restart;
// callers resubmit.
package dispatch
