package provider

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/patchbay-ai/patchbay/pkg/sigv4"
	"github.com/patchbay-ai/patchbay/wire"
)

// The error taxonomy every failure surfaces through:
//
//   - EncodingError: canonical options could not be translated. Local,
//     raised before any I/O, never retried.
//   - TransportError: connection-level failure (refused, reset, timeout).
//     Retryable under the default policy.
//   - APIResponseError: non-2xx HTTP status. Carries status, provider
//     error code and raw body; not retried by default because the body
//     usually names a non-transient cause.
//   - FramingError: malformed stream bytes. Terminal for that stream.
//   - SigningError: credential or signing precondition failed. Local,
//     immediate, fatal.
//
// FramingError and SigningError are defined where they originate and
// aliased here so callers work against one package.
type (
	FramingError = wire.FramingError
	SigningError = sigv4.SigningError
)

// EncodingError reports canonical options that cannot be expressed in the
// target provider's request schema.
type EncodingError struct {
	Provider string
	Reason   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: cannot encode request: %s", e.Provider, e.Reason)
}

// Encodingf builds an EncodingError.
func Encodingf(provider, format string, args ...any) *EncodingError {
	return &EncodingError{Provider: provider, Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps a connection-level failure: the request never
// produced an HTTP response.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIResponseError is a structured non-2xx HTTP response.
type APIResponseError struct {
	Provider   string
	StatusCode int
	// Code is the provider's machine-readable error identifier
	// ("invalid_request_error", "ThrottlingException", ...) when the body
	// carries one. Signature-expiry rejections show up here as their own
	// code rather than being folded into a generic failure.
	Code    string
	Message string
	Body    []byte
}

func (e *APIResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
}

// APIError builds an APIResponseError from a raw error body, extracting
// the code/message fields common to the supported providers.
func APIError(provider string, status int, body []byte) *APIResponseError {
	e := &APIResponseError{Provider: provider, StatusCode: status, Body: body}
	if !gjson.ValidBytes(body) {
		e.Message = string(body)
		return e
	}

	jv := gjson.ParseBytes(body)
	for _, key := range []string{"error.code", "error.type", "__type", "code"} {
		if v := jv.Get(key); v.Exists() {
			e.Code = v.String()
			break
		}
	}
	for _, key := range []string{"error.message", "message", "Message"} {
		if v := jv.Get(key); v.Exists() {
			e.Message = v.String()
			break
		}
	}
	if e.Message == "" {
		e.Message = string(body)
	}
	return e
}
