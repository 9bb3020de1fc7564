package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CLINormalizer maps the line-delimited JSON output of a CLI provider into
// chunks. It is stateful and must be used for a single execution only.
type CLINormalizer struct {
	kind  ProviderKind
	hooks Hooks

	threadID   string
	sessionID  string
	sawMessage bool
}

// NewCLINormalizer creates a normalizer for one CLI execution.
func NewCLINormalizer(kind ProviderKind, hooks Hooks) *CLINormalizer {
	return &CLINormalizer{kind: kind, hooks: hooks}
}

// Normalize handles one stdout line. Lines that are not JSON come back as a
// text delta holding the line itself so CLI warnings stay visible.
func (n *CLINormalizer) Normalize(line []byte) (*Chunk, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, nil
	}
	if !json.Valid(line) {
		c := TextChunk(string(line))
		return &c, nil
	}
	var (
		c   *Chunk
		err error
	)
	switch n.kind {
	case KindCodex:
		c, err = n.normalizeCodex(line)
	case KindClaude:
		c, err = n.normalizeClaude(line)
	default:
		return nil, fmt.Errorf("no CLI normalizer for provider kind %q", n.kind)
	}
	if c != nil {
		c.Raw = append(json.RawMessage(nil), line...)
	}
	return c, err
}

// ThreadID returns the last thread id reported by codex.
func (n *CLINormalizer) ThreadID() string { return n.threadID }

// SessionID returns the last session id reported by claude.
func (n *CLINormalizer) SessionID() string { return n.sessionID }

func (n *CLINormalizer) threadStarted(id string) {
	if id == "" || id == n.threadID {
		return
	}
	n.threadID = id
	if n.hooks.OnThreadStarted != nil {
		n.hooks.OnThreadStarted(id)
	}
}

func (n *CLINormalizer) sessionSeen(id string) {
	if id == "" || id == n.sessionID {
		return
	}
	n.sessionID = id
	if n.hooks.OnSessionID != nil {
		n.hooks.OnSessionID(id)
	}
}

type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
	Item     *struct {
		Type     string `json:"type"`
		ItemType string `json:"item_type"`
		Text     string `json:"text"`
	} `json:"item"`
	Usage *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (n *CLINormalizer) normalizeCodex(line []byte) (*Chunk, error) {
	var ev codexEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		c := TextChunk(string(line))
		return &c, nil
	}
	switch ev.Type {
	case "thread.started":
		n.threadStarted(ev.ThreadID)
		return nil, nil
	case "item.completed":
		if ev.Item == nil {
			return nil, nil
		}
		if ev.Item.Type != "agent_message" && ev.Item.ItemType != "assistant_message" {
			return nil, nil
		}
		text := ev.Item.Text
		if n.sawMessage && text != "" {
			text = "\n\n" + text
		}
		n.sawMessage = n.sawMessage || text != ""
		c := TextChunk(text)
		return &c, nil
	case "turn.completed":
		c := &Chunk{Done: true}
		if ev.Usage != nil {
			c.Usage = &Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
		}
		return c, nil
	case "turn.failed", "error":
		msg := ev.Message
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		if msg == "" {
			msg = strings.ReplaceAll(ev.Type, ".", " ")
		}
		return nil, &ProviderError{Provider: string(KindCodex), Message: msg}
	}
	return nil, nil
}

type claudeCLIEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	Event     *struct {
		Type  string `json:"type"`
		Delta *struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
	Usage *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
	} `json:"usage"`
}

func (n *CLINormalizer) normalizeClaude(line []byte) (*Chunk, error) {
	var ev claudeCLIEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		c := TextChunk(string(line))
		return &c, nil
	}
	switch ev.Type {
	case "system":
		n.sessionSeen(ev.SessionID)
		return nil, nil
	case "stream_event":
		n.sessionSeen(ev.SessionID)
		if ev.Event == nil || ev.Event.Type != "content_block_delta" || ev.Event.Delta == nil {
			return nil, nil
		}
		if ev.Event.Delta.Type != "text_delta" {
			return nil, nil
		}
		c := TextChunk(ev.Event.Delta.Text)
		return &c, nil
	case "result":
		n.sessionSeen(ev.SessionID)
		if ev.IsError {
			msg := ev.Result
			if msg == "" {
				msg = ev.Subtype
			}
			return nil, &ProviderError{Provider: string(KindClaude), Message: msg}
		}
		c := &Chunk{Done: true}
		if ev.Usage != nil {
			c.Usage = &Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
		}
		return c, nil
	}
	return nil, nil
}
