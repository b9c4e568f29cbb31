package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/patchbay-ai/patchbay/catalog"
	"github.com/patchbay-ai/patchbay/internal/registry"
	"github.com/patchbay-ai/patchbay/messages"
)

// Credentials is the per-provider credential tuple. API-key providers use
// APIKey; SigV4-signed providers use the AWS members. Resolution
// precedence is explicit value > process environment > empty.
type Credentials struct {
	APIKey string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string

	_ struct{}
}

// ResolveCredentials fills empty fields of explicit from the process
// environment, consulting the model's credential env name for the
// primary secret and AWS conventions for the signing tuple.
func ResolveCredentials(model catalog.Model, explicit Credentials) Credentials {
	out := explicit
	if out.APIKey == "" && model.CredentialEnv != "" {
		out.APIKey = os.Getenv(model.CredentialEnv)
	}
	if out.AccessKeyID == "" {
		out.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if out.SecretAccessKey == "" {
		out.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if out.SessionToken == "" {
		out.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	}
	if out.Region == "" {
		out.Region = model.Region
	}
	if out.Region == "" {
		out.Region = os.Getenv("AWS_REGION")
	}
	return out
}

// FrameProtocol names the streaming framing an adapter's backend speaks.
type FrameProtocol int

const (
	// FrameSSE is the text server-sent-events framing.
	FrameSSE FrameProtocol = iota
	// FrameEventStream is the AWS binary event-stream framing.
	FrameEventStream
)

// Frame is one streaming frame after codec decoding but before adapter
// interpretation: a dispatch key plus the raw payload.
type Frame struct {
	Event string
	Data  []byte
}

// DecoderState carries adapter-specific state between DecodeEvent calls,
// for backends that spread one logical event (a tool call's argument
// JSON, say) across several frames. Stateless adapters pass their input
// state through unchanged; the initial state is nil.
type DecoderState any

// Adapter is the contract every backend implements.
//
// Encode and Decode are pure transformations; BuildRequest attaches
// transport concerns (headers, auth, signing) and is re-invoked on every
// retry attempt so signatures stay fresh.
type Adapter interface {
	// Name returns the provider key the registry and catalog use.
	Name() string

	// Table declares the backend's option names for the translator.
	Table() Table

	// Encode transforms the canonical conversation and translated
	// options into the provider's request body. No I/O; incompatible
	// options fail with an EncodingError.
	Encode(model catalog.Model, thread *messages.Thread, params Params, stream bool) ([]byte, error)

	// BuildRequest wraps the encoded body into a transport request with
	// auth attached.
	BuildRequest(ctx context.Context, model catalog.Model, body []byte, creds Credentials, stream bool) (*http.Request, error)

	// Decode transforms a successful HTTP response into the canonical
	// Response, or classifies an HTTP failure into an APIResponseError.
	Decode(model catalog.Model, thread *messages.Thread, resp *http.Response) (*Response, error)
}

// StreamingAdapter is implemented by backends that can stream.
type StreamingAdapter interface {
	Adapter

	// FrameProtocol selects the codec the streaming pipeline drives.
	FrameProtocol() FrameProtocol

	// DecodeEvent interprets one frame into zero or more chunks plus the
	// successor decoder state.
	DecodeEvent(frame Frame, state DecoderState) ([]StreamChunk, DecoderState, error)
}

// Registry maps provider keys to adapters. It is populated during
// startup wiring and passed explicitly to the client; there is no
// ambient global.
type Registry struct {
	adapters registry.Registry[Adapter]
}

// NewRegistry builds a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: registry.New[Adapter]()}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.adapters.Add(a.Name(), a)
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	a, ok := r.adapters.Get(name)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", name)
	}
	return a, nil
}

// Names lists the registered provider keys.
func (r *Registry) Names() []string { return r.adapters.Keys() }
