// Package balancer picks the healthiest, least-loaded inference backend for
// each call.
//
// It keeps a per-backend rolling LoadSample (in-flight count, EWMA latency,
// success rate) fed synchronously by the dispatcher after every call, and
// scores candidates so that lower load, lower latency, and higher success
// rate win. Backends never seen before are preferred outright so every new
// backend receives traffic before scoring kicks in.
package balancer
