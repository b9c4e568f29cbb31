package provider

import "github.com/invopop/jsonschema"

// ReasoningEffort selects how much deliberation a reasoning-capable
// model spends before answering.
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// StructuredOutput requests responses conforming to a JSON schema, for
// models whose capability flags advertise native schema support.
type StructuredOutput struct {
	// Name identifies this output format.
	Name string

	// Description explains the purpose of the format to the model.
	Description string

	// Schema is the JSON structure responses must follow.
	Schema *jsonschema.Schema
}

// Params are the canonical generation options. Adapters never read them
// directly; the option translator maps them to provider-native parameter
// names and shapes, gated on the model's capability flags.
type Params struct {
	// MaxTokens caps the generated output. Zero lets the backend choose.
	MaxTokens int

	// Temperature and TopP are sampling controls. Nil means unset; zero
	// is a meaningful value for both, so presence matters.
	Temperature *float64
	TopP        *float64

	// ReasoningEffort is only valid on reasoning-capable models. Several
	// backends document it as mutually exclusive with Temperature; the
	// translator resolves that conflict.
	ReasoningEffort ReasoningEffort

	// StopSequences halt generation when emitted.
	StopSequences []string

	// ResponseSchema requests native JSON-schema output.
	ResponseSchema *StructuredOutput

	_ struct{} // require keyed literals
}
