// Package bedrock implements the adapter for the Amazon Bedrock Converse
// API: SigV4-signed JSON requests, with streaming responses carried over
// the AWS binary event-stream framing.
package bedrock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/messages"
	"github.com/patchbay-ai/patchbay/pkg/sigv4"
	"github.com/patchbay-ai/patchbay/provider"
)

const signingService = "bedrock"

var thinkingBudgets = map[provider.ReasoningEffort]int{
	provider.ReasoningLow:    1024,
	provider.ReasoningMedium: 4096,
	provider.ReasoningHigh:   16384,
}

// Adapter speaks the Converse and ConverseStream operations of the
// bedrock-runtime service. Requests are signed per attempt, so retried
// attempts never reuse a stale signature.
type Adapter struct {
	// Endpoint overrides the regional bedrock-runtime endpoint, for tests
	// and private gateways.
	Endpoint string
}

var (
	_ provider.Adapter          = (*Adapter)(nil)
	_ provider.StreamingAdapter = (*Adapter)(nil)
)

// New returns an adapter targeting the regional AWS endpoint derived
// from the resolved credentials.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "bedrock" }

func (a *Adapter) Table() provider.Table {
	return provider.Table{
		Provider:        a.Name(),
		MaxTokens:       "inferenceConfig.maxTokens",
		Temperature:     "inferenceConfig.temperature",
		TopP:            "inferenceConfig.topP",
		Stop:            "inferenceConfig.stopSequences",
		ReasoningEffort: "additionalModelRequestFields.thinking",
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

	payload := map[string]any{"messages": msgs}
	if system != "" {
		payload["system"] = []map[string]any{{"text": system}}
	}
	if tools := thread.Tools(); len(tools) > 0 {
		encoded := make([]map[string]any, len(tools))
		for i, t := range tools {
			schema, err := t.SchemaMap()
			if err != nil {
				return nil, provider.Encodingf(a.Name(), "tool %s: %v", t.Name, err)
			}
			encoded[i] = map[string]any{
				"toolSpec": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"inputSchema": map[string]any{"json": schema},
				},
			}
		}
		payload["toolConfig"] = map[string]any{"tools": encoded}
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

func encodeMessages(msgs []messages.Message) ([]any, error) {
	var out []any
	for _, m := range msgs {
		role := "user"
		if m.Role == messages.RoleAssistant {
			role = "assistant"
		} else if m.Role != messages.RoleUser && m.Role != messages.RoleTool {
			return nil, fmt.Errorf("unmappable role %q", m.Role)
		}
		blocks, err := contentBlocks(m.Parts)
		if err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"role": role, "content": blocks})
	}
	return out, nil
}

func contentBlocks(parts []messages.ContentPart) ([]map[string]any, error) {
	var blocks []map[string]any
	for _, p := range parts {
		switch part := p.(type) {
		case messages.TextPart:
			blocks = append(blocks, map[string]any{"text": part.Text})
		case messages.ToolCallPart:
			input := map[string]any{}
			if part.Arguments != "" {
				if err := json.Unmarshal([]byte(part.Arguments), &input); err != nil {
					return nil, fmt.Errorf("tool call %s: arguments are not a JSON object: %w", part.ID, err)
				}
			}
			blocks = append(blocks, map[string]any{
				"toolUse": map[string]any{
					"toolUseId": part.ID,
					"name":      part.Name,
					"input":     input,
				},
			})
		case messages.ToolResultPart:
			result := map[string]any{
				"toolUseId": part.ToolCallID,
				"content":   []map[string]any{{"text": part.Content}},
			}
			if part.IsError {
				result["status"] = "error"
			}
			blocks = append(blocks, map[string]any{"toolResult": result})
		case messages.ImagePart:
			return nil, fmt.Errorf("image content requires inline bytes, which URL references do not carry")
		}
	}
	return blocks, nil
}

func (a *Adapter) BuildRequest(ctx context.Context, model catalog.Model, body []byte, creds provider.Credentials, stream bool) (*http.Request, error) {
	if creds.Region == "" {
		return nil, &provider.SigningError{Reason: "missing region for " + a.Name()}
	}

	base := a.Endpoint
	if model.Endpoint != "" {
		base = model.Endpoint
	}
	if base == "" {
		base = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", creds.Region)
	}

	operation := "converse"
	if stream {
		operation = "converse-stream"
	}
	endpoint := fmt.Sprintf("%s/model/%s/%s", base, url.PathEscape(model.ID), operation)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", a.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/vnd.amazon.eventstream")
	}

	signer := &sigv4.Signer{Region: creds.Region, Service: signingService}
	err = signer.Sign(req, sigv4.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}, body)
	if err != nil {
		return nil, err
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
	for _, block := range jv.Get("output.message.content").Array() {
		if text := block.Get("text"); text.Exists() {
			parts = append(parts, messages.TextPart{Text: text.String()})
			continue
		}
		if tu := block.Get("toolUse"); tu.Exists() {
			parts = append(parts, messages.ToolCallPart{
				ID:        tu.Get("toolUseId").String(),
				Name:      tu.Get("name").String(),
				Arguments: tu.Get("input").Raw,
			})
		}
	}

	assistant := messages.AssistantParts(parts...)
	return &provider.Response{
		Message:      assistant,
		Thread:       thread.With(assistant),
		Usage:        decodeUsage(jv.Get("usage")),
		FinishReason: finishReason(jv.Get("stopReason").String()),
		Raw:          jv,
	}, nil
}

func decodeUsage(usage gjson.Result) provider.Usage {
	return provider.Usage{
		InputTokens:  int(usage.Get("inputTokens").Int()),
		OutputTokens: int(usage.Get("outputTokens").Int()),
		CachedTokens: int(usage.Get("cacheReadInputTokens").Int()),
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
	case "content_filtered", "guardrail_intervened":
		return provider.FinishContentFilter
	default:
		return provider.FinishReason(raw)
	}
}

func (a *Adapter) FrameProtocol() provider.FrameProtocol { return provider.FrameEventStream }

type toolAccum struct {
	id   string
	name string
	args strings.Builder
}

type decoderState struct {
	blocks map[int]*toolAccum
}

// DecodeEvent interprets one event-stream message by its :event-type
// header. Tool-use input fragments are accumulated per content-block
// index and completed on contentBlockStop, mirroring the SSE adapters.
// Exception frames never reach this method; the stream pipeline converts
// them into API errors from the frame headers.
func (a *Adapter) DecodeEvent(frame provider.Frame, state provider.DecoderState) ([]provider.StreamChunk, provider.DecoderState, error) {
	st, ok := state.(*decoderState)
	if !ok {
		st = &decoderState{blocks: map[int]*toolAccum{}}
	}
	jv := gjson.ParseBytes(frame.Data)

	switch frame.Event {
	case "messageStart":
		return nil, st, nil

	case "contentBlockStart":
		tu := jv.Get("start.toolUse")
		if !tu.Exists() {
			return nil, st, nil
		}
		index := int(jv.Get("contentBlockIndex").Int())
		accum := &toolAccum{
			id:   tu.Get("toolUseId").String(),
			name: tu.Get("name").String(),
		}
		st.blocks[index] = accum
		return []provider.StreamChunk{provider.ToolCallDelta{
			Index: index,
			ID:    accum.id,
			Name:  accum.name,
		}}, st, nil

	case "contentBlockDelta":
		delta := jv.Get("delta")
		if text := delta.Get("text"); text.Exists() {
			return []provider.StreamChunk{provider.ContentDelta{Text: text.String()}}, st, nil
		}
		if think := delta.Get("reasoningContent.text"); think.Exists() {
			return []provider.StreamChunk{provider.ThinkingDelta{Text: think.String()}}, st, nil
		}
		if input := delta.Get("toolUse.input"); input.Exists() {
			index := int(jv.Get("contentBlockIndex").Int())
			accum, ok := st.blocks[index]
			if !ok {
				return nil, st, provider.Encodingf(a.Name(), "toolUse delta for unknown content block %d", index)
			}
			fragment := input.String()
			accum.args.WriteString(fragment)
			return []provider.StreamChunk{provider.ToolCallDelta{
				Index:     index,
				ID:        accum.id,
				Name:      accum.name,
				Arguments: fragment,
			}}, st, nil
		}
		return nil, st, nil

	case "contentBlockStop":
		index := int(jv.Get("contentBlockIndex").Int())
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

	case "messageStop":
		return []provider.StreamChunk{provider.MetaChunk{Meta: provider.Meta{
			FinishReason: finishReason(jv.Get("stopReason").String()),
		}}}, st, nil

	case "metadata":
		return []provider.StreamChunk{provider.MetaChunk{Meta: provider.Meta{
			Usage: decodeUsage(jv.Get("usage")),
		}}}, st, nil
	}

	return nil, st, nil
}
