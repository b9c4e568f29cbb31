package wire

import "fmt"

// FramingError reports malformed bytes on a streaming connection. It is
// terminal for the stream that produced it: the decoder that returned it
// refuses all further input rather than resynchronizing on corrupt data.
type FramingError struct {
	Protocol string
	Reason   string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%s framing error: %s", e.Protocol, e.Reason)
}

func framingErrf(protocol, format string, args ...any) *FramingError {
	return &FramingError{Protocol: protocol, Reason: fmt.Sprintf(format, args...)}
}
