package provider

import (
	"github.com/go-openapi/strfmt"
	"github.com/tidwall/gjson"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/messages"
)

// FinishReason is the normalized reason a generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage counts the tokens a call consumed. Backends that omit a counter
// leave it zero rather than failing the decode.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	CachedTokens    int `json:"cached_tokens,omitempty"`
}

// Add accumulates counters, for callers totalling usage across turns.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:     u.InputTokens + other.InputTokens,
		OutputTokens:    u.OutputTokens + other.OutputTokens,
		ReasoningTokens: u.ReasoningTokens + other.ReasoningTokens,
		CachedTokens:    u.CachedTokens + other.CachedTokens,
	}
}

// Cost prices the usage against a model's cost table, in the table's
// currency per million tokens.
func (u Usage) Cost(m catalog.Model) float64 {
	in := float64(u.InputTokens) / 1e6 * m.Cost.InputPerMTok
	out := float64(u.OutputTokens+u.ReasoningTokens) / 1e6 * m.Cost.OutputPerMTok
	return in + out
}

// Meta is the stream-terminal metadata: usage plus finish reason. It is
// what the streaming pipeline's metadata future resolves to.
type Meta struct {
	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`

	// Timestamp records when the stream finished, set by the pipeline.
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

// Response is the canonical result of a completed call. It is created by
// the pipeline that decoded it and never mutated afterwards; appending
// the next turn derives a new Thread instead.
type Response struct {
	// Message is the assistant turn the model produced.
	Message messages.Message

	// Thread is the merged context: the request's thread plus Message.
	Thread *messages.Thread

	Usage        Usage
	FinishReason FinishReason

	// Raw holds the provider's response JSON for debugging. Never
	// consulted by the pipeline itself.
	Raw gjson.Result

	// Timestamp records when the response was decoded, set by the
	// pipeline.
	Timestamp strfmt.DateTime

	_ struct{}
}
