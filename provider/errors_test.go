package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_ExtractsCodeAndMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "openai shape",
			body:     `{"error":{"type":"invalid_request_error","message":"bad model"}}`,
			wantCode: "invalid_request_error",
			wantMsg:  "bad model",
		},
		{
			name:     "anthropic shape",
			body:     `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`,
			wantCode: "overloaded_error",
			wantMsg:  "busy",
		},
		{
			name:     "aws shape",
			body:     `{"__type":"ExpiredTokenException","message":"signature expired"}`,
			wantCode: "ExpiredTokenException",
			wantMsg:  "signature expired",
		},
		{
			name:    "non-json body",
			body:    `<html>bad gateway</html>`,
			wantMsg: `<html>bad gateway</html>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := APIError("p", 400, []byte(tt.body))
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantMsg, e.Message)
			assert.Equal(t, 400, e.StatusCode)
			assert.Equal(t, tt.body, string(e.Body))
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("request failed: %w", &TransportError{Provider: "p", Err: inner})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, inner)
}

func TestErrorStrings(t *testing.T) {
	assert.Contains(t, Encodingf("openai", "no %s", "luck").Error(), "openai: cannot encode request: no luck")
	assert.Contains(t, APIError("p", 503, nil).Error(), "http 503")

	withCode := APIError("p", 403, []byte(`{"__type":"InvalidSignatureException","message":"nope"}`))
	assert.Contains(t, withCode.Error(), "InvalidSignatureException")
}
