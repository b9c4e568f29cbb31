package messages

import (
	"fmt"

	"github.com/patchbay-ai/patchbay/tool"
)

// Thread is the canonical conversation context: an ordered message
// sequence plus the tools the model may call. It is immutable; With and
// WithTools return derived threads and never modify the receiver, so a
// Thread captured by an in-flight request is stable for the request's
// whole lifetime.
type Thread struct {
	msgs  []Message
	tools []tool.Definition
}

// NewThread builds a thread from the given messages.
func NewThread(msgs ...Message) *Thread {
	t := &Thread{msgs: make([]Message, len(msgs))}
	copy(t.msgs, msgs)
	return t
}

// With returns a new thread with the messages appended. The receiver is
// unchanged.
func (t *Thread) With(msgs ...Message) *Thread {
	next := &Thread{
		msgs:  make([]Message, 0, len(t.msgs)+len(msgs)),
		tools: t.tools,
	}
	next.msgs = append(next.msgs, t.msgs...)
	next.msgs = append(next.msgs, msgs...)
	return next
}

// WithTools returns a new thread exposing the given tool definitions.
func (t *Thread) WithTools(defs ...tool.Definition) *Thread {
	next := &Thread{msgs: t.msgs, tools: make([]tool.Definition, len(defs))}
	copy(next.tools, defs)
	return next
}

// Messages returns the thread's messages in order. The returned slice is
// a copy; callers may not reach the thread's internals through it.
func (t *Thread) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Tools returns the tool definitions exposed to the model.
func (t *Thread) Tools() []tool.Definition {
	out := make([]tool.Definition, len(t.tools))
	copy(out, t.tools)
	return out
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int { return len(t.msgs) }

// SplitSystem separates the leading system message, if any, from the
// rest of the conversation. Backends disagree about where system
// instructions go (a leading message, a top-level field, a header), so
// adapters ask for the split rather than re-deriving it.
func (t *Thread) SplitSystem() (system string, rest []Message) {
	msgs := t.msgs
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		system = msgs[0].Text()
		msgs = msgs[1:]
	}
	rest = make([]Message, len(msgs))
	copy(rest, msgs)
	return system, rest
}

// Validate checks every message's invariants plus the thread-level rule
// that at most one system message exists and it leads the conversation.
func (t *Thread) Validate() error {
	for i, m := range t.msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if m.Role == RoleSystem && i != 0 {
			return fmt.Errorf("message %d: system message must lead the conversation", i)
		}
	}
	return nil
}
