package provider

import (
	"fmt"

	"github.com/go-openapi/swag"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/patchbay-ai/patchbay/catalog"
)

// Table declares how one backend names the canonical generation options.
// An empty field means the backend has no such parameter; setting the
// corresponding canonical option is then a validation error. Keys may use
// dotted paths ("inferenceConfig.maxTokens") which adapters splice into
// nested request objects.
type Table struct {
	Provider string

	MaxTokens       string
	Temperature     string
	TopP            string
	Stop            string
	ReasoningEffort string

	// TemperatureConflictsWithReasoning drops Temperature with a warning
	// when ReasoningEffort is set, for backends documenting the pair as
	// mutually exclusive.
	TemperatureConflictsWithReasoning bool

	// ReasoningRender converts the canonical effort into the backend's
	// native value. Nil emits the effort string unchanged.
	ReasoningRender func(ReasoningEffort) any
}

// TranslateInput carries everything the translator consults. It is a
// snapshot: the translator performs no I/O and reads no ambient state.
type TranslateInput struct {
	Model     catalog.Model
	Params    Params
	Streaming bool
	HasTools  bool
}

// Translate maps canonical options to provider-native parameters, gated
// on the model's capability flags. It is deterministic and
// order-independent: identical inputs produce byte-identical output when
// serialized, because parameters are emitted into an ordered map in a
// fixed sequence.
//
// Unsupported combinations fail with an EncodingError before any request
// is built; resolvable conflicts are resolved and reported as warnings.
func (t Table) Translate(in TranslateInput) (*orderedmap.OrderedMap[string, any], []string, error) {
	caps := in.Model.Capabilities
	p := in.Params

	if in.HasTools && !caps.ToolCalls {
		return nil, nil, Encodingf(t.Provider, "model %s does not support tool calling", in.Model.ID)
	}
	if in.Streaming && in.HasTools && !caps.ToolStreaming {
		return nil, nil, Encodingf(t.Provider, "model %s does not support tool calls on streamed responses", in.Model.ID)
	}
	if in.Streaming && !caps.StreamingText {
		return nil, nil, Encodingf(t.Provider, "model %s does not support streaming", in.Model.ID)
	}
	if p.ReasoningEffort != "" && (!caps.Reasoning || t.ReasoningEffort == "") {
		return nil, nil, Encodingf(t.Provider, "model %s does not support reasoning effort", in.Model.ID)
	}
	if p.ResponseSchema != nil && !caps.JSONSchema {
		return nil, nil, Encodingf(t.Provider, "model %s does not support native JSON schema output", in.Model.ID)
	}
	if p.MaxTokens > 0 && t.MaxTokens == "" {
		return nil, nil, Encodingf(t.Provider, "backend has no max-output parameter")
	}
	if len(p.StopSequences) > 0 && t.Stop == "" {
		return nil, nil, Encodingf(t.Provider, "backend has no stop-sequence parameter")
	}

	var warnings []string
	out := orderedmap.New[string, any]()

	if p.MaxTokens > 0 {
		maxTokens := p.MaxTokens
		if limit := in.Model.Limits.MaxOutput; limit > 0 && maxTokens > limit {
			warnings = append(warnings, fmt.Sprintf("max tokens %d clamped to model limit %d", maxTokens, limit))
			maxTokens = limit
		}
		out.Set(t.MaxTokens, maxTokens)
	}

	if p.Temperature != nil {
		switch {
		case t.Temperature == "":
			warnings = append(warnings, "backend has no temperature parameter; dropped")
		case p.ReasoningEffort != "" && t.TemperatureConflictsWithReasoning:
			warnings = append(warnings, "temperature is incompatible with reasoning effort; dropped")
		default:
			out.Set(t.Temperature, swag.Float64Value(p.Temperature))
		}
	}

	if p.TopP != nil {
		if t.TopP == "" {
			warnings = append(warnings, "backend has no top_p parameter; dropped")
		} else {
			out.Set(t.TopP, swag.Float64Value(p.TopP))
		}
	}

	if len(p.StopSequences) > 0 {
		out.Set(t.Stop, p.StopSequences)
	}

	if p.ReasoningEffort != "" {
		if t.ReasoningRender != nil {
			out.Set(t.ReasoningEffort, t.ReasoningRender(p.ReasoningEffort))
		} else {
			out.Set(t.ReasoningEffort, string(p.ReasoningEffort))
		}
	}

	return out, warnings, nil
}
