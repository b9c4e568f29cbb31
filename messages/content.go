package messages

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ContentPart is one element of a message body. The concrete types are
// TextPart, ImagePart, ToolCallPart and ToolResultPart; each serializes
// with a "type" discriminator so heterogeneous part lists round-trip.
type ContentPart interface {
	contentPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) contentPart() {}

// ImagePart references an image by URL (https or data URI).
type ImagePart struct {
	URL string `json:"url"`
	// Detail is a provider hint ("low", "high", "auto"); empty lets the
	// backend choose.
	Detail string `json:"detail,omitempty"`
}

func (ImagePart) contentPart() {}

// ToolCallPart is a function call requested by the assistant. Arguments
// holds the raw JSON argument object as produced by the model.
type ToolCallPart struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (ToolCallPart) contentPart() {}

// ToolResultPart carries the outcome of executing a prior tool call back
// to the model.
type ToolResultPart struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

func (ToolResultPart) contentPart() {}

// MarshalJSON adds the "text" type discriminator.
func (p TextPart) MarshalJSON() ([]byte, error) {
	return taggedJSON("text", struct {
		Text string `json:"text"`
	}{p.Text})
}

// MarshalJSON adds the "image" type discriminator.
func (p ImagePart) MarshalJSON() ([]byte, error) {
	return taggedJSON("image", struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	}{p.URL, p.Detail})
}

// MarshalJSON adds the "tool_call" type discriminator.
func (p ToolCallPart) MarshalJSON() ([]byte, error) {
	return taggedJSON("tool_call", struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}{p.ID, p.Name, p.Arguments})
}

// MarshalJSON adds the "tool_result" type discriminator.
func (p ToolResultPart) MarshalJSON() ([]byte, error) {
	return taggedJSON("tool_result", struct {
		ToolCallID string `json:"tool_call_id"`
		Name       string `json:"name,omitempty"`
		Content    string `json:"content"`
		IsError    bool   `json:"is_error,omitempty"`
	}{p.ToolCallID, p.Name, p.Content, p.IsError})
}

func taggedJSON(tag string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(b, "type", tag)
}

// UnmarshalParts decodes a JSON array of tagged content parts.
func UnmarshalParts(input []byte) ([]ContentPart, error) {
	if !gjson.ValidBytes(input) {
		return nil, fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)
	if !jv.IsArray() {
		return nil, fmt.Errorf("content parts must be an array, got %s", jv.Type)
	}

	items := jv.Array()
	parts := make([]ContentPart, len(items))
	for idx, item := range items {
		part, err := unmarshalPart(item)
		if err != nil {
			return nil, fmt.Errorf("content part at %d: %w", idx, err)
		}
		parts[idx] = part
	}
	return parts, nil
}

func unmarshalPart(item gjson.Result) (ContentPart, error) {
	switch tpe := item.Get("type").String(); tpe {
	case "text":
		return TextPart{Text: item.Get("text").String()}, nil
	case "image":
		return ImagePart{
			URL:    item.Get("url").String(),
			Detail: item.Get("detail").String(),
		}, nil
	case "tool_call":
		return ToolCallPart{
			ID:        item.Get("id").String(),
			Name:      item.Get("name").String(),
			Arguments: item.Get("arguments").String(),
		}, nil
	case "tool_result":
		return ToolResultPart{
			ToolCallID: item.Get("tool_call_id").String(),
			Name:       item.Get("name").String(),
			Content:    item.Get("content").String(),
			IsError:    item.Get("is_error").Bool(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown content part type %q", tpe)
	}
}

// Text concatenates all text parts of a part list.
func Text(parts []ContentPart) string {
	var out string
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolCalls returns all tool-call parts of a part list.
func ToolCalls(parts []ContentPart) []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}
