package patchbay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fogfish/opts"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/provider"
)

var (
	// WithHTTPClient replaces the transport. Bring your own proxies,
	// connection pools or instrumentation here.
	WithHTTPClient = opts.ForName[Client, *http.Client]("hc")

	// WithCatalog sets the model catalog. Required.
	WithCatalog = opts.ForName[Client, catalog.Catalog]("catalog")

	// WithRegistry replaces the adapter registry. The default registers
	// the openai, anthropic and bedrock adapters.
	WithRegistry = opts.ForName[Client, *provider.Registry]("registry")

	// WithLogger sets the structured logger the pipeline reports retries
	// and stream lifecycle events to.
	WithLogger = opts.ForName[Client, *slog.Logger]("logger")

	// WithCredentials sets explicit credentials. Fields left empty are
	// resolved from the process environment per model.
	WithCredentials = opts.ForName[Client, provider.Credentials]("creds")

	// WithRetryClassifier replaces retry classification wholesale, for
	// callers that want to retry specific HTTP statuses.
	WithRetryClassifier = opts.ForName[Client, provider.RetryClassifier]("retry")
)

// WithRetryPolicy sets the attempt ceiling and delay schedule while
// keeping the default transport-only classification.
func WithRetryPolicy(p provider.RetryPolicy) opts.Option[Client] {
	return opts.Type[Client](func(c *Client) error {
		c.retry = p
		return nil
	})
}

// WithTimeout sets the per-request timeout on the client's HTTP client.
// Apply it after WithHTTPClient when combining the two.
func WithTimeout(d time.Duration) opts.Option[Client] {
	return opts.Type[Client](func(c *Client) error {
		c.hc.Timeout = d
		return nil
	})
}
