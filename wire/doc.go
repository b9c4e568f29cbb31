// Package wire implements the frame codecs used by streaming providers.
//
// Two framings are supported: server-sent events (the text protocol most
// chat-completion APIs stream over) and the AWS binary event-stream
// protocol (length-prefixed, CRC-checked frames used by Bedrock).
//
// Both decoders share the same contract: they are resumable, hold any
// partial frame in an internal buffer, and emit zero or more complete
// frames per call to Feed. Neither ever requires the whole stream in
// memory, so they can be driven directly from network reads of arbitrary
// size.
package wire
