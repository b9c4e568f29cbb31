package messages

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn: a role and an ordered list of
// content parts.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"content"`

	_ struct{} // require keyed literals
}

// System builds a system message from plain text.
func System(text string) Message {
	return Message{Role: RoleSystem, Parts: []ContentPart{TextPart{Text: text}}}
}

// User builds a user message from plain text.
func User(text string) Message {
	return Message{Role: RoleUser, Parts: []ContentPart{TextPart{Text: text}}}
}

// UserParts builds a multi-part user message.
func UserParts(parts ...ContentPart) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// Assistant builds an assistant message from plain text.
func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Parts: []ContentPart{TextPart{Text: text}}}
}

// AssistantParts builds a multi-part assistant message (text, tool calls).
func AssistantParts(parts ...ContentPart) Message {
	return Message{Role: RoleAssistant, Parts: parts}
}

// ToolResult builds a tool message answering a prior tool call.
func ToolResult(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Parts: []ContentPart{
		ToolResultPart{ToolCallID: toolCallID, Name: name, Content: content},
	}}
}

// Text returns the concatenated text content of the message.
func (m Message) Text() string { return Text(m.Parts) }

// ToolCalls returns the tool calls the message carries.
func (m Message) ToolCalls() []ToolCallPart { return ToolCalls(m.Parts) }

// Validate enforces the role/part invariants: tool calls only on
// assistant messages, tool results only on tool messages, and every tool
// result correlated to a call id.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}

	for _, part := range m.Parts {
		switch p := part.(type) {
		case ToolCallPart:
			if m.Role != RoleAssistant {
				return fmt.Errorf("tool call %q on %s message; only assistant messages carry tool calls", p.Name, m.Role)
			}
		case ToolResultPart:
			if m.Role != RoleTool {
				return fmt.Errorf("tool result on %s message; only tool messages carry tool results", m.Role)
			}
			if p.ToolCallID == "" {
				return fmt.Errorf("tool result missing tool_call_id")
			}
		}
	}
	return nil
}

// UnmarshalJSON decodes a message, dispatching content parts on their
// type discriminator.
func (m *Message) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)
	m.Role = Role(jv.Get("role").String())

	content := jv.Get("content")
	if !content.Exists() {
		return fmt.Errorf("missing required field 'content'")
	}
	if content.IsArray() {
		parts, err := UnmarshalParts([]byte(content.Raw))
		if err != nil {
			return err
		}
		m.Parts = parts
		return nil
	}
	m.Parts = []ContentPart{TextPart{Text: content.String()}}
	return nil
}

var _ json.Unmarshaler = (*Message)(nil)
