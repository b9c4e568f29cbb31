// Package openai implements the adapter for OpenAI-compatible
// chat-completion backends: JSON request/response plus SSE streaming
// terminated by the [DONE] sentinel.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/messages"
	"github.com/patchbay-ai/patchbay/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Adapter speaks the chat-completions wire format. The zero value targets
// the OpenAI API; BaseURL retargets any compatible backend.
type Adapter struct {
	BaseURL string
}

var (
	_ provider.Adapter          = (*Adapter)(nil)
	_ provider.StreamingAdapter = (*Adapter)(nil)
)

// New returns an adapter targeting the public OpenAI endpoint.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Table() provider.Table {
	return provider.Table{
		Provider:                          a.Name(),
		MaxTokens:                         "max_completion_tokens",
		Temperature:                       "temperature",
		TopP:                              "top_p",
		Stop:                              "stop",
		ReasoningEffort:                   "reasoning_effort",
		TemperatureConflictsWithReasoning: true,
	}
}

func (a *Adapter) Encode(model catalog.Model, thread *messages.Thread, params provider.Params, stream bool) ([]byte, error) {
	if err := thread.Validate(); err != nil {
		return nil, provider.Encodingf(a.Name(), "invalid thread: %v", err)
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

	msgs, err := encodeMessages(thread)
	if err != nil {
		return nil, provider.Encodingf(a.Name(), "%v", err)
	}

	payload := map[string]any{
		"model":    model.ID,
		"messages": msgs,
	}
	if tools := thread.Tools(); len(tools) > 0 {
		encoded := make([]map[string]any, len(tools))
		for i, t := range tools {
			schema, err := t.SchemaMap()
			if err != nil {
				return nil, provider.Encodingf(a.Name(), "tool %s: %v", t.Name, err)
			}
			encoded[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  schema,
				},
			}
		}
		payload["tools"] = encoded
	}
	if so := params.ResponseSchema; so != nil {
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":        so.Name,
				"description": so.Description,
				"schema":      so.Schema,
				"strict":      true,
			},
		}
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]any{"include_usage": true}
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

func encodeMessages(thread *messages.Thread) ([]any, error) {
	var out []any
	for _, m := range thread.Messages() {
		switch m.Role {
		case messages.RoleSystem:
			out = append(out, map[string]any{"role": "system", "content": m.Text()})
		case messages.RoleUser:
			out = append(out, map[string]any{"role": "user", "content": userContent(m)})
		case messages.RoleAssistant:
			msg := map[string]any{"role": "assistant"}
			if text := m.Text(); text != "" {
				msg["content"] = text
			}
			if calls := m.ToolCalls(); len(calls) > 0 {
				tc := make([]map[string]any, len(calls))
				for i, c := range calls {
					tc[i] = map[string]any{
						"id":   c.ID,
						"type": "function",
						"function": map[string]any{
							"name":      c.Name,
							"arguments": c.Arguments,
						},
					}
				}
				msg["tool_calls"] = tc
			}
			out = append(out, msg)
		case messages.RoleTool:
			for _, part := range m.Parts {
				result, ok := part.(messages.ToolResultPart)
				if !ok {
					continue
				}
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": result.ToolCallID,
					"content":      result.Content,
				})
			}
		default:
			return nil, fmt.Errorf("unmappable role %q", m.Role)
		}
	}
	return out, nil
}

// userContent renders a user message as a plain string when it is pure
// text, or as a content-part array when it mixes media.
func userContent(m messages.Message) any {
	onlyText := true
	for _, p := range m.Parts {
		if _, ok := p.(messages.TextPart); !ok {
			onlyText = false
			break
		}
	}
	if onlyText {
		return m.Text()
	}

	var parts []map[string]any
	for _, p := range m.Parts {
		switch part := p.(type) {
		case messages.TextPart:
			parts = append(parts, map[string]any{"type": "text", "text": part.Text})
		case messages.ImagePart:
			img := map[string]any{"url": part.URL}
			if part.Detail != "" {
				img["detail"] = part.Detail
			}
			parts = append(parts, map[string]any{"type": "image_url", "image_url": img})
		}
	}
	return parts
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", a.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
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
	msg := jv.Get("choices.0.message")

	var parts []messages.ContentPart
	if text := msg.Get("content"); text.Exists() && text.String() != "" {
		parts = append(parts, messages.TextPart{Text: text.String()})
	}
	for _, tc := range msg.Get("tool_calls").Array() {
		parts = append(parts, messages.ToolCallPart{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
	}

	assistant := messages.AssistantParts(parts...)
	return &provider.Response{
		Message:      assistant,
		Thread:       thread.With(assistant),
		Usage:        decodeUsage(jv.Get("usage")),
		FinishReason: finishReason(jv.Get("choices.0.finish_reason").String()),
		Raw:          jv,
	}, nil
}

// decodeUsage tolerates both the prompt/completion and the input/output
// counter spellings; missing counters stay zero.
func decodeUsage(usage gjson.Result) provider.Usage {
	pick := func(keys ...string) int {
		for _, k := range keys {
			if v := usage.Get(k); v.Exists() {
				return int(v.Int())
			}
		}
		return 0
	}
	return provider.Usage{
		InputTokens:     pick("prompt_tokens", "input_tokens"),
		OutputTokens:    pick("completion_tokens", "output_tokens"),
		ReasoningTokens: pick("completion_tokens_details.reasoning_tokens"),
		CachedTokens:    pick("prompt_tokens_details.cached_tokens"),
	}
}

func finishReason(raw string) provider.FinishReason {
	switch raw {
	case "stop":
		return provider.FinishStop
	case "length":
		return provider.FinishLength
	case "tool_calls", "function_call":
		return provider.FinishToolCalls
	case "content_filter":
		return provider.FinishContentFilter
	default:
		return provider.FinishReason(raw)
	}
}

func (a *Adapter) FrameProtocol() provider.FrameProtocol { return provider.FrameSSE }

// DecodeEvent interprets one SSE record. The chat-completions stream is
// stateless: tool-call argument fragments are emitted as-is with their
// call index, and the final usage record (sent with an empty choice list
// under stream_options.include_usage) becomes a MetaChunk.
func (a *Adapter) DecodeEvent(frame provider.Frame, state provider.DecoderState) ([]provider.StreamChunk, provider.DecoderState, error) {
	jv := gjson.ParseBytes(frame.Data)

	if errObj := jv.Get("error"); errObj.Exists() {
		return nil, state, provider.APIError(a.Name(), resp200, frame.Data)
	}

	var chunks []provider.StreamChunk
	delta := jv.Get("choices.0.delta")

	if text := delta.Get("content"); text.Exists() && text.String() != "" {
		chunks = append(chunks, provider.ContentDelta{Text: text.String()})
	}
	if think := delta.Get("reasoning_content"); think.Exists() && think.String() != "" {
		chunks = append(chunks, provider.ThinkingDelta{Text: think.String()})
	}
	for _, tc := range delta.Get("tool_calls").Array() {
		chunks = append(chunks, provider.ToolCallDelta{
			Index:     int(tc.Get("index").Int()),
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
	}

	if reason := jv.Get("choices.0.finish_reason"); reason.Exists() && reason.String() != "" {
		chunks = append(chunks, provider.MetaChunk{Meta: provider.Meta{
			FinishReason: finishReason(reason.String()),
		}})
	}
	if usage := jv.Get("usage"); usage.Exists() && usage.IsObject() {
		chunks = append(chunks, provider.MetaChunk{Meta: provider.Meta{
			Usage: decodeUsage(usage),
		}})
	}
	return chunks, state, nil
}

// resp200: a provider-sent error frame arrives on an already-accepted
// stream, so the HTTP status it carries is the stream's own.
const resp200 = http.StatusOK
