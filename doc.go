// Package patchbay is a provider-agnostic client for hosted language
// models. Conversations, generation options, responses and stream chunks
// have one canonical shape; per-provider adapters translate them to and
// from each backend's wire format, so application code never branches on
// which provider serves a request.
//
// The client core is a pipeline: resolve the model in a catalog, gate it
// through allow/deny rules, translate options against the model's
// capability flags, encode, send with retry, decode. Streaming responses
// run the same pipeline and then decode SSE or AWS event-stream frames
// into normalized chunks.
package patchbay
