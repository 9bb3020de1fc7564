package llm

import (
	"encoding/json"
	"strings"
)

// Usage carries token counts reported by a provider. Either field may be
// absent; providers report input and output counts in different events.
type Usage struct {
	InputTokens  *int `json:"input_tokens,omitempty" yaml:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty" yaml:"output_tokens,omitempty"`
}

// Merge overlays the non-nil fields of p onto u. Later values replace
// earlier ones; counts are never summed.
func (u *Usage) Merge(p *Usage) {
	if p == nil {
		return
	}
	if p.InputTokens != nil {
		v := *p.InputTokens
		u.InputTokens = &v
	}
	if p.OutputTokens != nil {
		v := *p.OutputTokens
		u.OutputTokens = &v
	}
}

// IsZero reports whether no field was ever set.
func (u Usage) IsZero() bool {
	return u.InputTokens == nil && u.OutputTokens == nil
}

// Input returns the input token count or 0.
func (u Usage) Input() int {
	if u.InputTokens == nil {
		return 0
	}
	return *u.InputTokens
}

// Output returns the output token count or 0.
func (u Usage) Output() int {
	if u.OutputTokens == nil {
		return 0
	}
	return *u.OutputTokens
}

// Chunk is one normalized increment of a streamed response. Every field is
// optional and combinations are legal.
type Chunk struct {
	TextDelta *string         `json:"text_delta,omitempty"`
	Done      bool            `json:"done,omitempty"`
	Usage     *Usage          `json:"usage_partial,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// TextChunk returns a chunk carrying only a text delta.
func TextChunk(text string) Chunk {
	return Chunk{TextDelta: &text}
}

// Text returns the text delta and whether one was present.
func (c Chunk) Text() (string, bool) {
	if c.TextDelta == nil {
		return "", false
	}
	return *c.TextDelta, true
}

func intPtr(v int) *int { return &v }

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserText creates a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantText creates an assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// Continuation is the provider-side conversation handle learned from a
// previous turn.
type Continuation struct {
	ThreadID  string `json:"thread_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Hooks are invoked when a CLI provider reports a new continuation id.
type Hooks struct {
	OnThreadStarted func(id string)
	OnSessionID     func(id string)
}

// Request is a fully resolved generation request.
type Request struct {
	Provider     string
	Model        string
	System       string
	Messages     []Message
	MaxTokens    int
	Continuation *Continuation
	Hooks        Hooks
}

// Validate checks that the request has something to send.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return &ValidationError{Field: "prompt", Reason: "missing prompt"}
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return &ValidationError{Field: "messages", Reason: "last message must come from the user"}
	}
	if strings.TrimSpace(last.Content) == "" {
		return &ValidationError{Field: "prompt", Reason: "missing prompt"}
	}
	return nil
}

// LastUserMessage returns the content of the most recent user message.
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
