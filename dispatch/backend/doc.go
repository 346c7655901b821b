// Package backend describes local model-inference backends and the HTTP
// contract used to call them.
//
// A Descriptor identifies one backend. Request is a closed union of the
// request kinds a backend can serve (chat completion, embedding, health
// probe). Client performs the actual round trip and classifies failures as
// retryable or fatal for the retry coordinator.
package backend
