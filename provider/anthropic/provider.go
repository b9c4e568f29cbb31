// Package anthropic implements the adapter for the Anthropic Messages
// API: JSON request/response plus named SSE events for streaming.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/messages"
	"github.com/patchbay-ai/patchbay/provider"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// The API requires max_tokens on every request; this applies when
	// neither the caller nor the catalog supplies a ceiling.
	fallbackMaxTokens = 4096
)

// thinkingBudgets maps the canonical effort levels onto token budgets.
var thinkingBudgets = map[provider.ReasoningEffort]int{
	provider.ReasoningLow:    1024,
	provider.ReasoningMedium: 4096,
	provider.ReasoningHigh:   16384,
}

// Adapter speaks the Messages API. The zero value targets the public
// Anthropic endpoint.
type Adapter struct {
	BaseURL string
}

var (
	_ provider.Adapter          = (*Adapter)(nil)
	_ provider.StreamingAdapter = (*Adapter)(nil)
)

// New returns an adapter targeting the public Anthropic endpoint.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) Table() provider.Table {
	return provider.Table{
		Provider:                          a.Name(),
		MaxTokens:                         "max_tokens",
		Temperature:                       "temperature",
		TopP:                              "top_p",
		Stop:                              "stop_sequences",
		ReasoningEffort:                   "thinking",
		TemperatureConflictsWithReasoning: true,
		ReasoningRender: func(effort provider.ReasoningEffort) any {
			return map[string]any{
				"type":          "enabled",
				"budget_tokens": thinkingBudgets[effort],
			}
		},
	}
}

func (a *Adapter) Encode(model catalog.Model, thread *messages.Thread, params provider.Params, stream bool) ([]byte, error) {
	if err := thread.Validate(); err != nil {
		return nil, provider.Encodingf(a.Name(), "invalid thread: %v", err)
	}
	if params.ResponseSchema != nil {
		return nil, provider.Encodingf(a.Name(), "backend has no native JSON schema output")
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = model.Limits.MaxOutput
		if params.MaxTokens == 0 {
			params.MaxTokens = fallbackMaxTokens
		}
	}

	translated, _, err := a.Table().Translate(provider.TranslateInput{
		Model:     model,
		Params:    params,
		Streaming: stream,
		HasTools:  len(thread.Tools()) > 0,
	})
	if err != nil {
		return nil, err
	}

	system, rest := thread.SplitSystem()
	msgs, err := encodeMessages(rest)
	if err != nil {
		return nil, provider.Encodingf(a.Name(), "%v", err)
	}

	payload := map[string]any{
		"model":    model.ID,
		"messages": msgs,
	}
	if system != "" {
		payload["system"] = system
	}
	if tools := thread.Tools(); len(tools) > 0 {
		encoded := make([]map[string]any, len(tools))
		for i, t := range tools {
			schema, err := t.SchemaMap()
			if err != nil {
				return nil, provider.Encodingf(a.Name(), "tool %s: %v", t.Name, err)
			}
			encoded[i] = map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schema,
			}
		}
		payload["tools"] = encoded
	}
	if stream {
		payload["stream"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, provider.Encodingf(a.Name(), "marshal: %v", err)
	}
	for pair := translated.Oldest(); pair != nil; pair = pair.Next() {
		if body, err = sjson.SetBytes(body, pair.Key, pair.Value); err != nil {
			return nil, provider.Encodingf(a.Name(), "set %s: %v", pair.Key, err)
		}
	}
	return body, nil
}

// encodeMessages maps the canonical roles onto the two the Messages API
// accepts: tool results travel as user-role tool_result blocks, and tool
// calls as assistant-role tool_use blocks.
func encodeMessages(msgs []messages.Message) ([]any, error) {
	var out []any
	for _, m := range msgs {
		switch m.Role {
		case messages.RoleUser, messages.RoleTool:
			blocks, err := contentBlocks(m.Parts)
			if err != nil {
				return nil, err
			}
			out = append(out, map[string]any{"role": "user", "content": blocks})
		case messages.RoleAssistant:
			blocks, err := contentBlocks(m.Parts)
			if err != nil {
				return nil, err
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})
		default:
			return nil, fmt.Errorf("unmappable role %q", m.Role)
		}
	}
	return out, nil
}

func contentBlocks(parts []messages.ContentPart) ([]map[string]any, error) {
	var blocks []map[string]any
	for _, p := range parts {
		switch part := p.(type) {
		case messages.TextPart:
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})
		case messages.ImagePart:
			block, err := imageBlock(part)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		case messages.ToolCallPart:
			input := map[string]any{}
			if part.Arguments != "" {
				if err := json.Unmarshal([]byte(part.Arguments), &input); err != nil {
					return nil, fmt.Errorf("tool call %s: arguments are not a JSON object: %w", part.ID, err)
				}
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    part.ID,
				"name":  part.Name,
				"input": input,
			})
		case messages.ToolResultPart:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": part.ToolCallID,
				"content":     part.Content,
			}
			if part.IsError {
				block["is_error"] = true
			}
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

// imageBlock renders an image reference. Data URIs become inline base64
// sources; anything else is passed as a URL source.
func imageBlock(part messages.ImagePart) (map[string]any, error) {
	if strings.HasPrefix(part.URL, "data:") {
		meta, data, ok := strings.Cut(strings.TrimPrefix(part.URL, "data:"), ",")
		mediaType, encoding, _ := strings.Cut(meta, ";")
		if !ok || encoding != "base64" {
			return nil, fmt.Errorf("image data URI must be base64 encoded")
		}
		return map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": mediaType,
				"data":       data,
			},
		}, nil
	}
	return map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "url", "url": part.URL},
	}, nil
}

func (a *Adapter) BuildRequest(ctx context.Context, model catalog.Model, body []byte, creds provider.Credentials, stream bool) (*http.Request, error) {
	if creds.APIKey == "" {
		return nil, &provider.SigningError{Reason: "missing api key for " + a.Name()}
	}

	base := a.BaseURL
	if model.Endpoint != "" {
		base = model.Endpoint
	}
	if base == "" {
		base = defaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", a.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", creds.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (a *Adapter) Decode(model catalog.Model, thread *messages.Thread, resp *http.Response) (*provider.Response, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.TransportError{Provider: a.Name(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, provider.APIError(a.Name(), resp.StatusCode, body)
	}

	jv := gjson.ParseBytes(body)

	var parts []messages.ContentPart
	for _, block := range jv.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, messages.TextPart{Text: block.Get("text").String()})
		case "tool_use":
			parts = append(parts, messages.ToolCallPart{
				ID:        block.Get("id").String(),
				Name:      block.Get("name").String(),
				Arguments: block.Get("input").Raw,
			})
		}
	}

	assistant := messages.AssistantParts(parts...)
	return &provider.Response{
		Message:      assistant,
		Thread:       thread.With(assistant),
		Usage:        decodeUsage(jv.Get("usage")),
		FinishReason: finishReason(jv.Get("stop_reason").String()),
		Raw:          jv,
	}, nil
}

func decodeUsage(usage gjson.Result) provider.Usage {
	return provider.Usage{
		InputTokens:  int(usage.Get("input_tokens").Int()),
		OutputTokens: int(usage.Get("output_tokens").Int()),
		CachedTokens: int(usage.Get("cache_read_input_tokens").Int()),
	}
}

func finishReason(raw string) provider.FinishReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return provider.FinishStop
	case "max_tokens":
		return provider.FinishLength
	case "tool_use":
		return provider.FinishToolCalls
	case "refusal":
		return provider.FinishContentFilter
	default:
		return provider.FinishReason(raw)
	}
}

func (a *Adapter) FrameProtocol() provider.FrameProtocol { return provider.FrameSSE }

// toolAccum gathers one tool call's argument JSON, which the stream
// spreads over input_json_delta fragments between content_block_start
// and content_block_stop.
type toolAccum struct {
	id   string
	name string
	args strings.Builder
}

type decoderState struct {
	blocks map[int]*toolAccum
}

// DecodeEvent interprets one named SSE event. Tool-call arguments are
// accumulated per content-block index; each fragment is surfaced as an
// incremental ToolCallDelta and content_block_stop emits the assembled
// arguments with Complete set.
func (a *Adapter) DecodeEvent(frame provider.Frame, state provider.DecoderState) ([]provider.StreamChunk, provider.DecoderState, error) {
	st, ok := state.(*decoderState)
	if !ok {
		st = &decoderState{blocks: map[int]*toolAccum{}}
	}
	jv := gjson.ParseBytes(frame.Data)

	switch frame.Event {
	case "error":
		return nil, st, provider.APIError(a.Name(), http.StatusOK, frame.Data)

	case "message_start":
		return []provider.StreamChunk{provider.MetaChunk{Meta: provider.Meta{
			Usage: decodeUsage(jv.Get("message.usage")),
		}}}, st, nil

	case "content_block_start":
		block := jv.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil, st, nil
		}
		index := int(jv.Get("index").Int())
		accum := &toolAccum{
			id:   block.Get("id").String(),
			name: block.Get("name").String(),
		}
		st.blocks[index] = accum
		return []provider.StreamChunk{provider.ToolCallDelta{
			Index: index,
			ID:    accum.id,
			Name:  accum.name,
		}}, st, nil

	case "content_block_delta":
		delta := jv.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return []provider.StreamChunk{provider.ContentDelta{Text: delta.Get("text").String()}}, st, nil
		case "thinking_delta":
			return []provider.StreamChunk{provider.ThinkingDelta{Text: delta.Get("thinking").String()}}, st, nil
		case "input_json_delta":
			index := int(jv.Get("index").Int())
			fragment := delta.Get("partial_json").String()
			accum, ok := st.blocks[index]
			if !ok {
				return nil, st, provider.Encodingf(a.Name(), "input_json_delta for unknown content block %d", index)
			}
			accum.args.WriteString(fragment)
			return []provider.StreamChunk{provider.ToolCallDelta{
				Index:     index,
				ID:        accum.id,
				Name:      accum.name,
				Arguments: fragment,
			}}, st, nil
		}
		return nil, st, nil

	case "content_block_stop":
		index := int(jv.Get("index").Int())
		accum, ok := st.blocks[index]
		if !ok {
			return nil, st, nil
		}
		delete(st.blocks, index)
		args := accum.args.String()
		if args == "" {
			args = "{}"
		}
		return []provider.StreamChunk{provider.ToolCallDelta{
			Index:     index,
			ID:        accum.id,
			Name:      accum.name,
			Arguments: args,
			Complete:  true,
		}}, st, nil

	case "message_delta":
		meta := provider.Meta{FinishReason: finishReason(jv.Get("delta.stop_reason").String())}
		meta.Usage.OutputTokens = int(jv.Get("usage.output_tokens").Int())
		return []provider.StreamChunk{provider.MetaChunk{Meta: meta}}, st, nil

	case "message_stop", "ping":
		return nil, st, nil
	}

	// Unknown event names are forward-compatibility noise.
	return nil, st, nil
}
