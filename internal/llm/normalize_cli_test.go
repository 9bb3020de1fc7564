package llm

import (
	"errors"
	"testing"
)

func TestCLINormalizer_Codex(t *testing.T) {
	var threads []string
	n := NewCLINormalizer(KindCodex, Hooks{OnThreadStarted: func(id string) { threads = append(threads, id) }})

	lines := []string{
		`{"type":"thread.started","thread_id":"th_1"}`,
		`{"type":"thread.started","thread_id":"th_1"}`,
		`{"type":"turn.started"}`,
		`{"type":"item.completed","item":{"id":"i0","type":"reasoning","text":"thinking"}}`,
		`{"type":"item.completed","item":{"id":"i1","type":"agent_message","text":"first"}}`,
		`{"type":"item.completed","item":{"id":"i2","type":"agent_message","text":"second"}}`,
		`{"type":"turn.completed","usage":{"input_tokens":100,"cached_input_tokens":20,"output_tokens":8}}`,
	}
	var (
		text string
		done bool
		use  Usage
	)
	for _, line := range lines {
		c, err := n.Normalize([]byte(line))
		if err != nil {
			t.Fatalf("Normalize(%s): %v", line, err)
		}
		if c == nil {
			continue
		}
		if s, ok := c.Text(); ok {
			text += s
		}
		use.Merge(c.Usage)
		done = done || c.Done
	}

	if text != "first\n\nsecond" {
		t.Errorf("text = %q", text)
	}
	if !done {
		t.Error("turn.completed should mark done")
	}
	if use.Input() != 100 || use.Output() != 8 {
		t.Errorf("usage = %d/%d", use.Input(), use.Output())
	}
	if len(threads) != 1 || threads[0] != "th_1" {
		t.Errorf("OnThreadStarted calls = %v, want exactly [th_1]", threads)
	}
	if n.ThreadID() != "th_1" {
		t.Errorf("ThreadID() = %q", n.ThreadID())
	}
}

func TestCLINormalizer_CodexFailure(t *testing.T) {
	n := NewCLINormalizer(KindCodex, Hooks{})
	_, err := n.Normalize([]byte(`{"type":"turn.failed","error":{"message":"rate limited"}}`))
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Message != "rate limited" {
		t.Errorf("turn.failed = %v", err)
	}
}

func TestCLINormalizer_Claude(t *testing.T) {
	var sessions []string
	n := NewCLINormalizer(KindClaude, Hooks{OnSessionID: func(id string) { sessions = append(sessions, id) }})

	lines := []string{
		`{"type":"system","subtype":"init","session_id":"s-1","model":"sonnet"}`,
		`{"type":"stream_event","session_id":"s-1","event":{"type":"message_start","message":{}}}`,
		`{"type":"stream_event","session_id":"s-1","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}}`,
		`{"type":"stream_event","session_id":"s-1","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}}`,
		`{"type":"assistant","session_id":"s-1","message":{"content":[{"type":"text","text":"Hello"}]}}`,
		`{"type":"result","subtype":"success","is_error":false,"result":"Hello","session_id":"s-1","usage":{"input_tokens":9,"output_tokens":2}}`,
	}
	var (
		text string
		done bool
		use  Usage
	)
	for _, line := range lines {
		c, err := n.Normalize([]byte(line))
		if err != nil {
			t.Fatalf("Normalize(%s): %v", line, err)
		}
		if c == nil {
			continue
		}
		if s, ok := c.Text(); ok {
			text += s
		}
		use.Merge(c.Usage)
		done = done || c.Done
	}
	if text != "Hello" {
		t.Errorf("text = %q, assistant snapshot must not duplicate streamed deltas", text)
	}
	if !done || use.Input() != 9 || use.Output() != 2 {
		t.Errorf("done=%v usage=%d/%d", done, use.Input(), use.Output())
	}
	if len(sessions) != 1 || sessions[0] != "s-1" {
		t.Errorf("OnSessionID calls = %v", sessions)
	}
}

func TestCLINormalizer_ClaudeNewSessionFiresAgain(t *testing.T) {
	var sessions []string
	n := NewCLINormalizer(KindClaude, Hooks{OnSessionID: func(id string) { sessions = append(sessions, id) }})
	for _, line := range []string{
		`{"type":"system","session_id":"a"}`,
		`{"type":"result","is_error":false,"session_id":"b"}`,
	} {
		if _, err := n.Normalize([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}
	if len(sessions) != 2 || sessions[1] != "b" {
		t.Errorf("sessions = %v, want [a b]", sessions)
	}
}

func TestCLINormalizer_ClaudeErrorResult(t *testing.T) {
	n := NewCLINormalizer(KindClaude, Hooks{})
	_, err := n.Normalize([]byte(`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"Credit balance is too low"}`))
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Message != "Credit balance is too low" {
		t.Errorf("error result = %v", err)
	}
}

func TestCLINormalizer_NonJSONLineBecomesText(t *testing.T) {
	for _, kind := range []ProviderKind{KindCodex, KindClaude} {
		n := NewCLINormalizer(kind, Hooks{})
		for _, line := range []string{
			"warning: config file has unknown key",
			"{not json",
			"42",
		} {
			c, err := n.Normalize([]byte(line))
			if err != nil {
				t.Fatalf("%s Normalize(%q): %v", kind, line, err)
			}
			if got := textOf(t, c); got != line {
				t.Errorf("%s Normalize(%q) text = %q", kind, line, got)
			}
		}
		c, err := n.Normalize([]byte("   "))
		if c != nil || err != nil {
			t.Errorf("%s blank line = %+v, %v", kind, c, err)
		}
	}
}
