package patchbay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/messages"
	"github.com/patchbay-ai/patchbay/provider"
	"github.com/patchbay-ai/patchbay/tool"
)

func testCatalog(endpoint string) *catalog.Snapshot {
	return catalog.New(
		catalog.Model{
			Provider: "openai",
			ID:       "gpt-test",
			Endpoint: endpoint,
			Capabilities: catalog.Capabilities{
				Reasoning:     true,
				ToolCalls:     true,
				ToolStreaming: true,
				JSONSchema:    true,
				StreamingText: true,
			},
			Limits: catalog.Limits{ContextWindow: 128000, MaxOutput: 4096},
		},
		catalog.Model{
			Provider:     "openai",
			ID:           "gpt-limited",
			Endpoint:     endpoint,
			Capabilities: catalog.Capabilities{StreamingText: true},
		},
	)
}

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(
		WithCatalog(testCatalog(endpoint)),
		WithCredentials(provider.Credentials{APIKey: "sk-test"}),
	)
	require.NoError(t, err)
	return c
}

const completionBody = `{
	"choices": [{"message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
	"usage": {"input_tokens": 3, "output_tokens": 1}
}`

func TestNew_RequiresCatalog(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	thread := messages.NewThread(messages.User("hello"))

	resp, err := c.Generate(context.Background(), "openai/gpt-test", thread, provider.Params{})
	require.NoError(t, err)

	assert.Equal(t, "hi", resp.Message.Text())
	assert.Equal(t, provider.FinishStop, resp.FinishReason)
	assert.Equal(t, provider.Usage{InputTokens: 3, OutputTokens: 1}, resp.Usage)
	assert.Equal(t, 2, resp.Thread.Len())
	assert.Equal(t, int32(1), requests.Load())
}

// flakyTransport fails the first n round trips at the connection level,
// then delegates.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}

func TestGenerate_RetriesTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	flaky := &flakyTransport{failures: 2, next: http.DefaultTransport}
	c, err := New(
		WithCatalog(testCatalog(srv.URL)),
		WithCredentials(provider.Credentials{APIKey: "sk-test"}),
		WithHTTPClient(&http.Client{Transport: flaky}),
	)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), "openai/gpt-test", messages.NewThread(messages.User("hi")), provider.Params{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Message.Text())
	assert.Equal(t, int32(3), flaky.calls.Load())
}

// brokenBody fails on the first read, the shape of a connection cut
// while the response body streams in.
type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
func (brokenBody) Close() error             { return nil }

// truncatingTransport serves a 200 whose body dies mid-read on the first
// round trip, then delegates.
type truncatingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (f *truncatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) == 1 {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       brokenBody{},
			Request:    req,
		}, nil
	}
	return f.next.RoundTrip(req)
}

func TestGenerate_RetriesBodyReadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	tr := &truncatingTransport{next: http.DefaultTransport}
	c, err := New(
		WithCatalog(testCatalog(srv.URL)),
		WithCredentials(provider.Credentials{APIKey: "sk-test"}),
		WithHTTPClient(&http.Client{Transport: tr}),
	)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), "openai/gpt-test", messages.NewThread(messages.User("hi")), provider.Params{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Message.Text())
	assert.Equal(t, int32(2), tr.calls.Load())
}

func TestGenerate_TransportFailureCeiling(t *testing.T) {
	flaky := &flakyTransport{failures: 10, next: http.DefaultTransport}
	c, err := New(
		WithCatalog(testCatalog("http://unused.invalid")),
		WithCredentials(provider.Credentials{APIKey: "sk-test"}),
		WithHTTPClient(&http.Client{Transport: flaky}),
	)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "openai/gpt-test", messages.NewThread(messages.User("hi")), provider.Params{})

	var terr *provider.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestGenerate_NeverRetriesHTTPErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream exploded", "type": "server_error"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Generate(context.Background(), "openai/gpt-test", messages.NewThread(messages.User("hi")), provider.Params{})

	var apiErr *provider.APIResponseError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "server_error", apiErr.Code)
	assert.Equal(t, int32(1), requests.Load())
}

type retryEverything struct{ max int }

func (r retryEverything) ClassifyRetry(err error, attempt int) provider.RetryDecision {
	if attempt >= r.max {
		return provider.NoRetry()
	}
	return provider.RetryAfter(0)
}

func TestGenerate_CustomClassifierRetriesHTTPErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	c, err := New(
		WithCatalog(testCatalog(srv.URL)),
		WithCredentials(provider.Credentials{APIKey: "sk-test"}),
		WithRetryClassifier(retryEverything{max: 3}),
	)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), "openai/gpt-test", messages.NewThread(messages.User("hi")), provider.Params{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Message.Text())
	assert.Equal(t, int32(2), requests.Load())
}

type countArgs struct {
	N int `json:"n"`
}

func TestGenerate_CapabilityRejectionBeforeNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	thread := messages.NewThread(messages.User("hi")).
		WithTools(tool.New[countArgs]("count", "count things"))

	// gpt-limited advertises no tool calling.
	_, err := c.Generate(context.Background(), "openai/gpt-limited", thread, provider.Params{})

	var encErr *provider.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, int32(0), requests.Load())
}

func TestGenerate_DeniedModel(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	cat := testCatalog(srv.URL).WithRules(nil, []string{"openai/*"})
	c, err := New(WithCatalog(cat), WithCredentials(provider.Credentials{APIKey: "sk-test"}))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "openai/gpt-test", messages.NewThread(messages.User("hi")), provider.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
	assert.Equal(t, int32(0), requests.Load())
}

func TestGenerate_UnknownModel(t *testing.T) {
	c := testClient(t, "http://unused.invalid")

	_, err := c.Generate(context.Background(), "openai/nope", messages.NewThread(messages.User("hi")), provider.Params{})

	var nf *catalog.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGenerate_BadReference(t *testing.T) {
	c := testClient(t, "http://unused.invalid")

	_, err := c.Generate(context.Background(), "gpt-test", messages.NewThread(messages.User("hi")), provider.Params{})
	require.Error(t, err)
}
