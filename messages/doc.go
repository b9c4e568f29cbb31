// Package messages defines the canonical, provider-agnostic conversation
// model: roles, multi-part message content, and the immutable Thread all
// adapters translate to and from.
//
// Two invariants hold for every well-formed conversation:
//   - only assistant messages carry tool calls
//   - only tool messages carry a tool-call id correlating a result to a
//     prior call
//
// Threads are built once per request and never mutated afterwards;
// appending a turn produces a new Thread sharing the existing backing
// messages.
package messages
