// Package agenthost wraps a chat-completion LLM provider as an
// executor.Executor, so a workflow can talk to Anthropic, OpenAI, or
// Gemini the same way it talks to any other unit of work — through the
// Executor contract, never through a direct SDK call from scheduler or
// router code (spec §1's "accessed via interfaces").
package agenthost

import "context"

// ChatModel is the common interface the three provider subpackages
// implement. A workflow that wants to swap providers only ever depends on
// this, never on a concrete SDK client.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a conversation sent to a ChatModel.
type Message struct {
	Role    string
	Content string
}

// Standard roles, shared across providers regardless of how each SDK
// spells its own.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call, in JSON-Schema form.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is a single invocation the model requested.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// ChatOut is what a ChatModel call produces: text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}
