package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/responses"
	"google.golang.org/genai"
)

// Normalize maps one raw HTTP stream event into a Chunk. A nil chunk with
// a nil error means the event carries nothing actionable. An error means
// the provider reported a failure inside the stream.
func Normalize(kind ProviderKind, raw []byte) (*Chunk, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("[DONE]")) {
		return nil, nil
	}
	var (
		c   *Chunk
		err error
	)
	switch kind {
	case KindOpenAI:
		c, err = normalizeOpenAI(raw)
	case KindAnthropic:
		c, err = normalizeAnthropic(raw)
	case KindGemini:
		c, err = normalizeGemini(raw)
	default:
		return nil, fmt.Errorf("no HTTP normalizer for provider kind %q", kind)
	}
	if c != nil {
		c.Raw = append(json.RawMessage(nil), raw...)
	}
	return c, err
}

func normalizeOpenAI(raw []byte) (*Chunk, error) {
	var ev responses.ResponseStreamEventUnion
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode openai event: %w", err)
	}
	switch ev.Type {
	case "response.output_text.delta":
		c := TextChunk(ev.Delta.OfString)
		return &c, nil
	case "response.completed":
		c := &Chunk{Done: true}
		if ev.Response.JSON.Usage.Valid() {
			u := ev.Response.Usage
			c.Usage = &Usage{}
			if u.JSON.InputTokens.Valid() {
				c.Usage.InputTokens = intPtr(int(u.InputTokens))
			}
			if u.JSON.OutputTokens.Valid() {
				c.Usage.OutputTokens = intPtr(int(u.OutputTokens))
			}
		}
		return c, nil
	case "response.failed", "response.incomplete":
		msg := "response " + strings.TrimPrefix(ev.Type, "response.")
		if ev.Response.Error.Message != "" {
			msg = ev.Response.Error.Message
		}
		return nil, &ProviderError{Provider: string(KindOpenAI), Message: msg}
	case "error":
		msg := ev.Message
		if msg == "" {
			msg = string(raw)
		}
		return nil, &ProviderError{Provider: string(KindOpenAI), Message: msg}
	}
	return nil, nil
}

func normalizeAnthropic(raw []byte) (*Chunk, error) {
	var ev anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode anthropic event: %w", err)
	}
	switch ev.Type {
	case "message_start":
		if !ev.Message.Usage.JSON.InputTokens.Valid() {
			return nil, nil
		}
		return &Chunk{Usage: &Usage{InputTokens: intPtr(int(ev.Message.Usage.InputTokens))}}, nil
	case "content_block_delta":
		if ev.Delta.Type != "text_delta" {
			return nil, nil
		}
		c := TextChunk(ev.Delta.Text)
		return &c, nil
	case "message_delta":
		u := &Usage{}
		if ev.Usage.JSON.InputTokens.Valid() {
			u.InputTokens = intPtr(int(ev.Usage.InputTokens))
		}
		if ev.Usage.JSON.OutputTokens.Valid() {
			u.OutputTokens = intPtr(int(ev.Usage.OutputTokens))
		}
		if u.IsZero() {
			return nil, nil
		}
		return &Chunk{Usage: u}, nil
	case "message_stop":
		return &Chunk{Done: true}, nil
	case "error":
		var resp anthropic.ErrorResponse
		msg := "unknown error"
		if err := json.Unmarshal(raw, &resp); err == nil && resp.Error.Message != "" {
			msg = resp.Error.Message
			if resp.Error.Type != "" {
				msg = resp.Error.Type + ": " + msg
			}
		}
		return nil, &ProviderError{Provider: string(KindAnthropic), Message: msg}
	}
	return nil, nil
}

type geminiErrorEnvelope struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func normalizeGemini(raw []byte) (*Chunk, error) {
	var envelope geminiErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		return nil, &ProviderError{Provider: string(KindGemini), Message: envelope.Error.Message}
	}

	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode gemini chunk: %w", err)
	}

	var (
		c       Chunk
		useful  bool
		builder strings.Builder
		hasText bool
	)
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil || part.Thought || part.Text == "" {
					continue
				}
				builder.WriteString(part.Text)
				hasText = true
			}
		}
		if cand.FinishReason != "" {
			c.Done = true
			useful = true
		}
	}
	if hasText {
		text := builder.String()
		c.TextDelta = &text
		useful = true
	}
	if md := resp.UsageMetadata; md != nil {
		c.Usage = &Usage{
			InputTokens:  intPtr(int(md.PromptTokenCount)),
			OutputTokens: intPtr(int(md.CandidatesTokenCount)),
		}
		useful = true
	}
	if !useful {
		return nil, nil
	}
	return &c, nil
}
