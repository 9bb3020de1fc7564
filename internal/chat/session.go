// Package chat holds the state behind the two-pane chat UI: the single
// active session, the archive of ended sessions and their durable logs.
package chat

import (
	"slices"
	"time"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/llm"
)

// ProviderContext is the continuation state a CLI provider reported.
type ProviderContext struct {
	Provider  string `json:"provider" yaml:"provider" mapstructure:"provider"`
	ThreadID  string `json:"thread_id,omitempty" yaml:"thread_id,omitempty" mapstructure:"thread_id"`
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty" mapstructure:"session_id"`
}

func (p *ProviderContext) clone() *ProviderContext {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Continuation converts the context into request form. It returns nil when
// no id is known.
func (p *ProviderContext) Continuation() *llm.Continuation {
	if p == nil || (p.ThreadID == "" && p.SessionID == "") {
		return nil
	}
	return &llm.Continuation{ThreadID: p.ThreadID, SessionID: p.SessionID}
}

// Session is the live state of the chat UI.
type Session struct {
	ID              string
	PromptSurface   host.Buffer
	ResponseSurface host.Buffer
	HeaderLineCount int
	FollowUps       []FollowUp
	FollowUpEnabled bool
	Template        string
	Provider        string
	Model           string
	Layout          string
	Origin          *host.Selection
	Messages        []llm.Message
	Streaming       bool
	ProviderContext *ProviderContext
	CreatedAt       time.Time
	// JobID is the job streaming into the session, if any.
	JobID string
}

func (s *Session) clone() Session {
	c := *s
	c.FollowUps = slices.Clone(s.FollowUps)
	c.Messages = slices.Clone(s.Messages)
	c.ProviderContext = s.ProviderContext.clone()
	if s.Origin != nil {
		o := *s.Origin
		c.Origin = &o
	}
	return c
}

func (s *Session) archive() ArchivedChat {
	return ArchivedChat{
		ID:              s.ID,
		Template:        s.Template,
		Provider:        s.Provider,
		Model:           s.Model,
		FollowUpEnabled: s.FollowUpEnabled,
		FollowUps:       slices.Clone(s.FollowUps),
		CreatedAt:       s.CreatedAt,
		Messages:        slices.Clone(s.Messages),
		ProviderContext: s.ProviderContext.clone(),
	}
}

// mergeProviderContext overlays the non-empty fields of in onto cur. An
// update for a different provider than the one already pinned is dropped.
func mergeProviderContext(cur *ProviderContext, in ProviderContext) (*ProviderContext, bool) {
	if cur == nil {
		c := in
		return &c, true
	}
	if in.Provider != "" && cur.Provider != "" && in.Provider != cur.Provider {
		return cur, false
	}
	next := *cur
	if in.Provider != "" {
		next.Provider = in.Provider
	}
	if in.ThreadID != "" {
		next.ThreadID = in.ThreadID
	}
	if in.SessionID != "" {
		next.SessionID = in.SessionID
	}
	return &next, true
}
