package anthropic

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

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
		Provider: "anthropic",
		ID:       "claude-sonnet-4",
		Capabilities: catalog.Capabilities{
			Reasoning:     true,
			ToolCalls:     true,
			ToolStreaming: true,
			StreamingText: true,
		},
		Limits: catalog.Limits{ContextWindow: 200000, MaxOutput: 64000},
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

func TestEncode(t *testing.T) {
	thread := messages.NewThread(
		messages.System("be terse"),
		messages.User("hi"),
	)

	body, err := New().Encode(testModel(), thread, provider.Params{MaxTokens: 1000}, false)
	require.NoError(t, err)

	jv := gjson.ParseBytes(body)
	assert.Equal(t, "claude-sonnet-4", jv.Get("model").String())
	assert.Equal(t, "be terse", jv.Get("system").String())
	assert.Equal(t, "user", jv.Get("messages.0.role").String())
	assert.Equal(t, "hi", jv.Get("messages.0.content.0.text").String())
	assert.Equal(t, int64(1000), jv.Get("max_tokens").Int())
}

func TestEncode_MaxTokensDefaulted(t *testing.T) {
	thread := messages.NewThread(messages.User("hi"))

	body, err := New().Encode(testModel(), thread, provider.Params{}, false)
	require.NoError(t, err)

	// The API rejects requests without max_tokens; the catalog limit
	// fills the gap.
	assert.Equal(t, int64(64000), gjson.GetBytes(body, "max_tokens").Int())
}

func TestEncode_Thinking(t *testing.T) {
	thread := messages.NewThread(messages.User("hi"))

	body, err := New().Encode(testModel(), thread, provider.Params{
		ReasoningEffort: provider.ReasoningHigh,
	}, false)
	require.NoError(t, err)

	jv := gjson.ParseBytes(body)
	assert.Equal(t, "enabled", jv.Get("thinking.type").String())
	assert.Equal(t, int64(16384), jv.Get("thinking.budget_tokens").Int())
}

func TestEncode_ToolHistory(t *testing.T) {
	thread := messages.NewThread(
		messages.User("search for griffins"),
		messages.AssistantParts(messages.ToolCallPart{
			ID:        "toolu_1",
			Name:      "search",
			Arguments: `{"query":"griffins"}`,
		}),
		messages.ToolResult("toolu_1", "search", "3 results"),
	).WithTools(tool.New[searchArgs]("search", "full text search"))

	body, err := New().Encode(testModel(), thread, provider.Params{MaxTokens: 100}, false)
	require.NoError(t, err)

	jv := gjson.ParseBytes(body)
	assert.Equal(t, "tool_use", jv.Get("messages.1.content.0.type").String())
	assert.Equal(t, "toolu_1", jv.Get("messages.1.content.0.id").String())
	assert.Equal(t, "griffins", jv.Get("messages.1.content.0.input.query").String())

	// Tool results ride as user-role tool_result blocks.
	assert.Equal(t, "user", jv.Get("messages.2.role").String())
	assert.Equal(t, "tool_result", jv.Get("messages.2.content.0.type").String())
	assert.Equal(t, "toolu_1", jv.Get("messages.2.content.0.tool_use_id").String())

	assert.Equal(t, "search", jv.Get("tools.0.name").String())
	assert.True(t, jv.Get("tools.0.input_schema.properties.query").Exists())
}

func TestEncode_SchemaRejected(t *testing.T) {
	model := testModel()
	model.Capabilities.JSONSchema = true
	thread := messages.NewThread(messages.User("hi"))

	_, err := New().Encode(model, thread, provider.Params{
		ResponseSchema: &provider.StructuredOutput{Name: "out"},
	}, false)

	var encErr *provider.EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestBuildRequest(t *testing.T) {
	req, err := New().BuildRequest(context.Background(), testModel(), []byte(`{}`),
		provider.Credentials{APIKey: "sk-ant-test"}, false)
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", req.URL.String())
	assert.Equal(t, "sk-ant-test", req.Header.Get("x-api-key"))
	assert.Equal(t, apiVersion, req.Header.Get("anthropic-version"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func stubResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDecode(t *testing.T) {
	resp := stubResponse(200, `{
		"content": [
			{"type": "text", "text": "hello"},
			{"type": "tool_use", "id": "toolu_2", "name": "search", "input": {"query": "griffins"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 11, "output_tokens": 4, "cache_read_input_tokens": 6}
	}`)

	out, err := New().Decode(testModel(), messages.NewThread(), resp)
	require.NoError(t, err)

	assert.Equal(t, "hello", out.Message.Text())
	calls := out.Message.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_2", calls[0].ID)
	assert.JSONEq(t, `{"query":"griffins"}`, calls[0].Arguments)
	assert.Equal(t, provider.FinishToolCalls, out.FinishReason)
	assert.Equal(t, provider.Usage{InputTokens: 11, OutputTokens: 4, CachedTokens: 6}, out.Usage)
}

func TestDecode_HTTPError(t *testing.T) {
	resp := stubResponse(529, `{"type": "error", "error": {"type": "overloaded_error", "message": "overloaded"}}`)

	_, err := New().Decode(testModel(), messages.NewThread(), resp)

	var apiErr *provider.APIResponseError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 529, apiErr.StatusCode)
	assert.Equal(t, "overloaded_error", apiErr.Code)
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

func TestDecodeEvent_TextAndThinking(t *testing.T) {
	chunks := decodeAll(t,
		provider.Frame{Event: "message_start", Data: []byte(`{"message":{"usage":{"input_tokens":9}}}`)},
		provider.Frame{Event: "content_block_delta", Data: []byte(`{"index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`)},
		provider.Frame{Event: "content_block_delta", Data: []byte(`{"index":1,"delta":{"type":"text_delta","text":"hi"}}`)},
		provider.Frame{Event: "message_delta", Data: []byte(`{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`)},
		provider.Frame{Event: "message_stop", Data: []byte(`{}`)},
	)

	require.Len(t, chunks, 4)
	start, ok := chunks[0].(provider.MetaChunk)
	require.True(t, ok)
	assert.Equal(t, 9, start.Meta.Usage.InputTokens)
	assert.Equal(t, provider.ThinkingDelta{Text: "hmm"}, chunks[1])
	assert.Equal(t, provider.ContentDelta{Text: "hi"}, chunks[2])
	final, ok := chunks[3].(provider.MetaChunk)
	require.True(t, ok)
	assert.Equal(t, provider.FinishStop, final.Meta.FinishReason)
	assert.Equal(t, 3, final.Meta.Usage.OutputTokens)
}

func TestDecodeEvent_ToolCallAccumulation(t *testing.T) {
	chunks := decodeAll(t,
		provider.Frame{Event: "content_block_start", Data: []byte(`{"index":0,"content_block":{"type":"tool_use","id":"toolu_3","name":"search"}}`)},
		provider.Frame{Event: "content_block_delta", Data: []byte(`{"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"query\""}}`)},
		provider.Frame{Event: "content_block_delta", Data: []byte(`{"index":0,"delta":{"type":"input_json_delta","partial_json":":\"griffins\"}"}}`)},
		provider.Frame{Event: "content_block_stop", Data: []byte(`{"index":0}`)},
	)

	require.Len(t, chunks, 4)
	last, ok := chunks[3].(provider.ToolCallDelta)
	require.True(t, ok)
	assert.True(t, last.Complete)
	assert.Equal(t, "toolu_3", last.ID)
	assert.Equal(t, "search", last.Name)
	assert.JSONEq(t, `{"query":"griffins"}`, last.Arguments)

	for _, c := range chunks[:3] {
		delta, ok := c.(provider.ToolCallDelta)
		require.True(t, ok)
		assert.False(t, delta.Complete)
	}
}

func TestDecodeEvent_OrphanFragment(t *testing.T) {
	_, _, err := New().DecodeEvent(provider.Frame{
		Event: "content_block_delta",
		Data:  []byte(`{"index":4,"delta":{"type":"input_json_delta","partial_json":"{}"}}`),
	}, nil)

	var encErr *provider.EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestDecodeEvent_ErrorEvent(t *testing.T) {
	_, _, err := New().DecodeEvent(provider.Frame{
		Event: "error",
		Data:  []byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`),
	}, nil)

	var apiErr *provider.APIResponseError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "overloaded_error", apiErr.Code)
}
