package openai

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-openapi/swag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/messages"
	"github.com/patchbay-ai/patchbay/provider"
	"github.com/patchbay-ai/patchbay/tool"
)

func testModel() catalog.Model {
	return catalog.Model{
		Provider: "openai",
		ID:       "gpt-4o-mini",
		Capabilities: catalog.Capabilities{
			Reasoning:     true,
			ToolCalls:     true,
			ToolStreaming: true,
			JSONSchema:    true,
			StreamingText: true,
		},
		Limits: catalog.Limits{ContextWindow: 128000, MaxOutput: 16384},
	}
}

type weatherArgs struct {
	Location string `json:"location"`
}

func TestEncode(t *testing.T) {
	thread := messages.NewThread(
		messages.System("be terse"),
		messages.User("hi"),
	)

	body, err := New().Encode(testModel(), thread, provider.Params{
		MaxTokens:   100,
		Temperature: swag.Float64(0.2),
	}, false)
	require.NoError(t, err)

	jv := gjson.ParseBytes(body)
	assert.Equal(t, "gpt-4o-mini", jv.Get("model").String())
	assert.Equal(t, "system", jv.Get("messages.0.role").String())
	assert.Equal(t, "be terse", jv.Get("messages.0.content").String())
	assert.Equal(t, "user", jv.Get("messages.1.role").String())
	assert.Equal(t, "hi", jv.Get("messages.1.content").String())
	assert.Equal(t, int64(100), jv.Get("max_completion_tokens").Int())
	assert.Equal(t, 0.2, jv.Get("temperature").Float())
	assert.False(t, jv.Get("stream").Exists())
}

func TestEncode_ToolsAndStreaming(t *testing.T) {
	thread := messages.NewThread(messages.User("weather in rome?")).
		WithTools(tool.New[weatherArgs]("get_weather", "look up current weather"))

	body, err := New().Encode(testModel(), thread, provider.Params{}, true)
	require.NoError(t, err)

	jv := gjson.ParseBytes(body)
	assert.True(t, jv.Get("stream").Bool())
	assert.True(t, jv.Get("stream_options.include_usage").Bool())
	assert.Equal(t, "function", jv.Get("tools.0.type").String())
	assert.Equal(t, "get_weather", jv.Get("tools.0.function.name").String())
	assert.Equal(t, "object", jv.Get("tools.0.function.parameters.type").String())
	assert.True(t, jv.Get("tools.0.function.parameters.properties.location").Exists())
}

func TestEncode_ToolHistory(t *testing.T) {
	thread := messages.NewThread(
		messages.User("weather in rome?"),
		messages.AssistantParts(messages.ToolCallPart{
			ID:        "call_1",
			Name:      "get_weather",
			Arguments: `{"location":"rome"}`,
		}),
		messages.ToolResult("call_1", "get_weather", "18C, sunny"),
	)

	body, err := New().Encode(testModel(), thread, provider.Params{}, false)
	require.NoError(t, err)

	jv := gjson.ParseBytes(body)
	assert.Equal(t, "call_1", jv.Get("messages.1.tool_calls.0.id").String())
	assert.Equal(t, "get_weather", jv.Get("messages.1.tool_calls.0.function.name").String())
	assert.Equal(t, "tool", jv.Get("messages.2.role").String())
	assert.Equal(t, "call_1", jv.Get("messages.2.tool_call_id").String())
	assert.Equal(t, "18C, sunny", jv.Get("messages.2.content").String())
}

func TestEncode_MultimodalUser(t *testing.T) {
	thread := messages.NewThread(messages.UserParts(
		messages.TextPart{Text: "what is this?"},
		messages.ImagePart{URL: "https://example.com/cat.png", Detail: "low"},
	))

	body, err := New().Encode(testModel(), thread, provider.Params{}, false)
	require.NoError(t, err)

	jv := gjson.ParseBytes(body)
	assert.Equal(t, "text", jv.Get("messages.0.content.0.type").String())
	assert.Equal(t, "image_url", jv.Get("messages.0.content.1.type").String())
	assert.Equal(t, "https://example.com/cat.png", jv.Get("messages.0.content.1.image_url.url").String())
	assert.Equal(t, "low", jv.Get("messages.0.content.1.image_url.detail").String())
}

func TestBuildRequest(t *testing.T) {
	req, err := New().BuildRequest(context.Background(), testModel(), []byte(`{}`),
		provider.Credentials{APIKey: "sk-test"}, true)
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL.String())
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
}

func TestBuildRequest_MissingKey(t *testing.T) {
	_, err := New().BuildRequest(context.Background(), testModel(), []byte(`{}`), provider.Credentials{}, false)

	var serr *provider.SigningError
	require.ErrorAs(t, err, &serr)
}

func stubResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDecode(t *testing.T) {
	thread := messages.NewThread(messages.User("hi"))
	resp := stubResponse(200, `{
		"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 7, "completion_tokens": 2}
	}`)

	out, err := New().Decode(testModel(), thread, resp)
	require.NoError(t, err)

	assert.Equal(t, "hello", out.Message.Text())
	assert.Equal(t, provider.FinishStop, out.FinishReason)
	assert.Equal(t, 7, out.Usage.InputTokens)
	assert.Equal(t, 2, out.Usage.OutputTokens)
	assert.Equal(t, 2, out.Thread.Len())
}

func TestDecode_AlternateUsageSpelling(t *testing.T) {
	resp := stubResponse(200, `{
		"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}],
		"usage": {"input_tokens": 3, "output_tokens": 1}
	}`)

	out, err := New().Decode(testModel(), messages.NewThread(), resp)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Usage.InputTokens)
	assert.Equal(t, 1, out.Usage.OutputTokens)
}

func TestDecode_ToolCalls(t *testing.T) {
	resp := stubResponse(200, `{
		"choices": [{
			"message": {"tool_calls": [{"id": "call_9", "function": {"name": "get_weather", "arguments": "{\"location\":\"rome\"}"}}]},
			"finish_reason": "tool_calls"
		}]
	}`)

	out, err := New().Decode(testModel(), messages.NewThread(), resp)
	require.NoError(t, err)

	calls := out.Message.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_9", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, `{"location":"rome"}`, calls[0].Arguments)
	assert.Equal(t, provider.FinishToolCalls, out.FinishReason)
}

func TestDecode_HTTPError(t *testing.T) {
	resp := stubResponse(429, `{"error": {"message": "slow down", "code": "rate_limit_exceeded"}}`)

	_, err := New().Decode(testModel(), messages.NewThread(), resp)

	var apiErr *provider.APIResponseError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", apiErr.Code)
	assert.Equal(t, "slow down", apiErr.Message)
}

func decodeAll(t *testing.T, frames ...provider.Frame) []provider.StreamChunk {
	t.Helper()
	a := New()
	var (
		chunks []provider.StreamChunk
		state  provider.DecoderState
	)
	for _, f := range frames {
		out, next, err := a.DecodeEvent(f, state)
		require.NoError(t, err)
		chunks = append(chunks, out...)
		state = next
	}
	return chunks
}

func TestDecodeEvent_Text(t *testing.T) {
	chunks := decodeAll(t,
		provider.Frame{Data: []byte(`{"choices":[{"delta":{"content":"hel"}}]}`)},
		provider.Frame{Data: []byte(`{"choices":[{"delta":{"content":"lo"}}]}`)},
		provider.Frame{Data: []byte(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`)},
		provider.Frame{Data: []byte(`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2}}`)},
	)

	require.Len(t, chunks, 4)
	assert.Equal(t, provider.ContentDelta{Text: "hel"}, chunks[0])
	assert.Equal(t, provider.ContentDelta{Text: "lo"}, chunks[1])
	assert.Equal(t, provider.MetaChunk{Meta: provider.Meta{FinishReason: provider.FinishStop}}, chunks[2])
	meta, ok := chunks[3].(provider.MetaChunk)
	require.True(t, ok)
	assert.Equal(t, 5, meta.Meta.Usage.InputTokens)
	assert.Equal(t, 2, meta.Meta.Usage.OutputTokens)
}

func TestDecodeEvent_ToolCallFragments(t *testing.T) {
	chunks := decodeAll(t,
		provider.Frame{Data: []byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}`)},
		provider.Frame{Data: []byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"location\""}}]}}]}`)},
		provider.Frame{Data: []byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"rome\"}"}}]}}]}`)},
	)

	require.Len(t, chunks, 3)
	first, ok := chunks[0].(provider.ToolCallDelta)
	require.True(t, ok)
	assert.Equal(t, "call_1", first.ID)
	assert.Equal(t, "get_weather", first.Name)

	var args strings.Builder
	for _, c := range chunks {
		args.WriteString(c.(provider.ToolCallDelta).Arguments)
	}
	assert.JSONEq(t, `{"location":"rome"}`, args.String())
}

func TestDecodeEvent_ErrorFrame(t *testing.T) {
	_, _, err := New().DecodeEvent(provider.Frame{
		Data: []byte(`{"error":{"message":"boom","type":"server_error"}}`),
	}, nil)

	var apiErr *provider.APIResponseError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "server_error", apiErr.Code)
	assert.Equal(t, "boom", apiErr.Message)
}
