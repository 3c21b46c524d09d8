// Package types defines the shared message and model types used across
// the LLM provider and evaluator layers.
package types

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleSystem is used for system instructions.
	RoleSystem MessageRole = "system"

	// RoleUser is used for user-authored content.
	RoleUser MessageRole = "user"

	// RoleAssistant is used for model-authored content.
	RoleAssistant MessageRole = "assistant"
)

// Message is a single conversation message exchanged with an LLM.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// ModelInfo describes the model behind a provider.
type ModelInfo struct {
	Name              string
	Provider          string
	MaxTokens         int
	SupportsStreaming bool
	Metadata          map[string]interface{}
}
