package patchbay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/messages"
	"github.com/patchbay-ai/patchbay/pkg/slogx"
	"github.com/patchbay-ai/patchbay/provider"
	"github.com/patchbay-ai/patchbay/provider/anthropic"
	"github.com/patchbay-ai/patchbay/provider/bedrock"
	"github.com/patchbay-ai/patchbay/provider/openai"
)

// Client drives the generation pipeline against a catalog of models and a
// registry of provider adapters. It is safe for concurrent use.
type Client struct {
	hc       *http.Client
	registry *provider.Registry
	catalog  catalog.Catalog
	logger   *slog.Logger
	retry    provider.RetryClassifier
	creds    provider.Credentials
}

// New builds a client. A catalog is required; everything else has a
// default: the stock adapters, a two minute HTTP timeout, slog's default
// logger and the default retry policy.
func New(options ...opts.Option[Client]) (*Client, error) {
	c := &Client{
		hc:     &http.Client{Timeout: 2 * time.Minute},
		logger: slog.Default(),
		retry:  provider.DefaultRetryPolicy(),
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}
	if c.catalog == nil {
		return nil, errors.New("patchbay: a catalog is required")
	}
	if c.registry == nil {
		c.registry = provider.NewRegistry(openai.New(), anthropic.New(), bedrock.New())
	}
	return c, nil
}

// Generate runs one non-streaming completion. ref names the model as
// "provider/model-id". The returned response carries the assistant
// message plus the merged thread for the next turn.
func (c *Client) Generate(ctx context.Context, ref string, thread *messages.Thread, params provider.Params) (*provider.Response, error) {
	model, adapter, creds, err := c.prepare(ref)
	if err != nil {
		return nil, err
	}

	body, err := adapter.Encode(model, thread, params, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, adapter, model, body, creds, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := adapter.Decode(model, thread, resp)
	if err != nil {
		return nil, err
	}
	out.Timestamp = strfmt.DateTime(time.Now().UTC())
	return out, nil
}

// Stream runs one streaming completion. Validation and the request
// exchange happen before Stream returns; once a Stream exists, bytes are
// already flowing and no retry will occur.
func (c *Client) Stream(ctx context.Context, ref string, thread *messages.Thread, params provider.Params) (*Stream, error) {
	model, adapter, creds, err := c.prepare(ref)
	if err != nil {
		return nil, err
	}
	sa, ok := adapter.(provider.StreamingAdapter)
	if !ok {
		return nil, provider.Encodingf(adapter.Name(), "provider does not support streaming")
	}

	body, err := sa.Encode(model, thread, params, true)
	if err != nil {
		return nil, err
	}

	// The request is built on the stream's own cancelable context so
	// that Stream.Close aborts an in-flight body read.
	sctx, cancel := context.WithCancel(ctx)
	resp, err := c.do(sctx, sa, model, body, creds, true)
	if err != nil {
		cancel()
		return nil, err
	}
	return newStream(sctx, cancel, sa, resp), nil
}

// prepare resolves the model reference, gates it through the catalog's
// allow/deny rules, finds its adapter and fills in credentials. Nothing
// here performs I/O.
func (c *Client) prepare(ref string) (catalog.Model, provider.Adapter, provider.Credentials, error) {
	providerName, modelID, ok := strings.Cut(ref, "/")
	if !ok || providerName == "" || modelID == "" {
		return catalog.Model{}, nil, provider.Credentials{}, fmt.Errorf("patchbay: model reference %q is not provider/model-id", ref)
	}
	if !c.catalog.Allowed(providerName, modelID) {
		return catalog.Model{}, nil, provider.Credentials{}, fmt.Errorf("patchbay: model %s is not allowed", ref)
	}
	model, err := c.catalog.Resolve(providerName, modelID)
	if err != nil {
		return catalog.Model{}, nil, provider.Credentials{}, err
	}
	adapter, err := c.registry.Lookup(model.Provider)
	if err != nil {
		return catalog.Model{}, nil, provider.Credentials{}, err
	}
	return model, adapter, provider.ResolveCredentials(model, c.creds), nil
}

// do sends the encoded body, retrying per the client's classifier. The
// request is rebuilt through the adapter on every attempt so signed
// requests never replay a stale signature. A non-2xx response is drained,
// classified and surfaced as an APIResponseError; the default policy
// never retries it. On the non-streaming path the body is buffered inside
// the loop, so a transport failure while reading it classifies and
// retries like any other transport fault.
func (c *Client) do(ctx context.Context, adapter provider.Adapter, model catalog.Model, body []byte, creds provider.Credentials, stream bool) (*http.Response, error) {
	c.logger.DebugContext(ctx, "sending request",
		slog.String("provider", adapter.Name()),
		slog.String("model", model.ID),
		slog.Bool("stream", stream),
		slogx.ByteString("body", body),
	)
	for attempt := 1; ; attempt++ {
		req, err := adapter.BuildRequest(ctx, model, body, creds, stream)
		if err != nil {
			return nil, err
		}

		resp, doErr := c.transport(stream).Do(req)
		var failure error
		switch {
		case doErr != nil:
			failure = &provider.TransportError{Provider: adapter.Name(), Err: doErr}
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			if stream {
				return resp, nil
			}
			raw, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil {
				resp.Body = io.NopCloser(bytes.NewReader(raw))
				return resp, nil
			}
			failure = &provider.TransportError{Provider: adapter.Name(), Err: readErr}
		default:
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			failure = provider.APIError(adapter.Name(), resp.StatusCode, raw)
		}

		decision := c.retry.ClassifyRetry(failure, attempt)
		if !decision.Retry || ctx.Err() != nil {
			return nil, failure
		}

		c.logger.WarnContext(ctx, "retrying request",
			slog.String("provider", adapter.Name()),
			slog.String("model", model.ID),
			slog.Int("attempt", attempt),
			slogx.Error(failure),
		)
		if err := wait(ctx, decision.After); err != nil {
			return nil, failure
		}
	}
}

// transport picks the HTTP client for one exchange. The client-wide
// timeout also covers reading the response body, which would kill any
// stream outliving it, so the streaming path drops the deadline and the
// caller's context alone bounds stream lifetime.
func (c *Client) transport(stream bool) *http.Client {
	if !stream || c.hc.Timeout == 0 {
		return c.hc
	}
	sc := *c.hc
	sc.Timeout = 0
	return &sc
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
