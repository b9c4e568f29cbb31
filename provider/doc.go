// Package provider defines the contract between the canonical client API
// and the per-backend adapters, plus everything shared across adapters:
// the stream chunk model, the error taxonomy, retry classification, and
// the capability-gated option translator.
//
// Design decisions:
//   - One adapter interface, many wire formats: each backend implements
//     Encode/BuildRequest/Decode, and optionally the streaming extension
//     with a pluggable frame protocol (SSE or binary event-stream).
//   - Stateful stream decoding: DecodeEvent threads a decoder state value
//     through the frame sequence so providers that accumulate a tool call
//     across frames stay pure; stateless providers ignore it.
//   - Asymmetric retries: transport errors retry immediately up to a
//     ceiling, HTTP errors never retry by default. See RetryPolicy.
//   - Explicit wiring: the registry and catalog are constructed at
//     startup and passed in; nothing lives in package-level globals.
package provider
