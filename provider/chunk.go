package provider

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StreamChunk is one normalized streaming event. The concrete variants
// are ContentDelta, ThinkingDelta, ToolCallDelta and MetaChunk. Chunks
// arrive in the exact order the frame codec emitted them; consumers must
// not assume any fixed chunk-to-token ratio.
type StreamChunk interface {
	streamChunk()
}

// ContentDelta is an increment of assistant text.
type ContentDelta struct {
	Text string `json:"text"`
}

func (ContentDelta) streamChunk() {}

// ThinkingDelta is an increment of the model's reasoning trace.
type ThinkingDelta struct {
	Text string `json:"text"`
}

func (ThinkingDelta) streamChunk() {}

// ToolCallDelta is a partial or complete function call. Providers that
// stream arguments emit several deltas per call, correlated by Index;
// Complete marks the call's argument JSON as fully accumulated.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Complete  bool   `json:"complete,omitempty"`
}

func (ToolCallDelta) streamChunk() {}

// MetaChunk notifies usage counters and the finish reason, typically as
// the last chunk of a stream.
type MetaChunk struct {
	Meta Meta `json:"meta"`
}

func (MetaChunk) streamChunk() {}

// MarshalChunk serializes a chunk with its type discriminator, the shape
// consumers re-emitting chunks over their own transports use.
func MarshalChunk(c StreamChunk) ([]byte, error) {
	var tag string
	switch c.(type) {
	case ContentDelta:
		tag = "content"
	case ThinkingDelta:
		tag = "thinking"
	case ToolCallDelta:
		tag = "tool_call"
	case MetaChunk:
		tag = "meta"
	default:
		return nil, fmt.Errorf("unknown chunk type %T", c)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(b, "type", tag)
}

// UnmarshalChunk decodes a chunk serialized by MarshalChunk.
func UnmarshalChunk(data []byte) (StreamChunk, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	jv := gjson.ParseBytes(data)
	switch tag := jv.Get("type").String(); tag {
	case "content":
		return ContentDelta{Text: jv.Get("text").String()}, nil
	case "thinking":
		return ThinkingDelta{Text: jv.Get("text").String()}, nil
	case "tool_call":
		return ToolCallDelta{
			Index:     int(jv.Get("index").Int()),
			ID:        jv.Get("id").String(),
			Name:      jv.Get("name").String(),
			Arguments: jv.Get("arguments").String(),
			Complete:  jv.Get("complete").Bool(),
		}, nil
	case "meta":
		var mc MetaChunk
		if err := json.Unmarshal(data, &mc); err != nil {
			return nil, err
		}
		return mc, nil
	default:
		return nil, fmt.Errorf("unknown chunk type %q", tag)
	}
}
