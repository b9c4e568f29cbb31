package slogx

import (
	"log/slog"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// ByteString creates a slog.Attr with the given key and a string
// representation of the byte slice value. Useful for logging raw
// provider payloads at debug level.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}
