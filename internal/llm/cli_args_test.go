package llm

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestClaudeArgs(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		system    string
		extra     []string
		sessionID string
		want      []string
	}{
		{
			name: "minimal",
			want: []string{"-p", "--output-format", "stream-json", "--input-format", "stream-json", "--verbose", "--include-partial-messages"},
		},
		{
			name:      "everything",
			model:     "opus",
			system:    "be brief",
			extra:     []string{"--max-turns", "1"},
			sessionID: "s-1",
			want: []string{
				"-p", "--output-format", "stream-json", "--input-format", "stream-json", "--verbose", "--include-partial-messages",
				"--model", "opus",
				"--system-prompt", "be brief",
				"--max-turns", "1",
				"--resume", "s-1",
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := claudeArgs(tc.model, tc.system, tc.extra, tc.sessionID)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("claudeArgs() =\n  %q\nwant\n  %q", got, tc.want)
			}
		})
	}
}

func TestCodexArgs(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		extra    []string
		threadID string
		want     []string
	}{
		{
			name: "minimal",
			want: []string{"exec", "--json", "-"},
		},
		{
			name:  "model and extra",
			model: "gpt-5-codex",
			extra: []string{"--sandbox", "read-only"},
			want:  []string{"exec", "--json", "-m", "gpt-5-codex", "--sandbox", "read-only", "-"},
		},
		{
			name:     "resume goes after options and before stdin marker",
			model:    "gpt-5-codex",
			extra:    []string{"--skip-git-repo-check"},
			threadID: "th_9",
			want:     []string{"exec", "--json", "-m", "gpt-5-codex", "--skip-git-repo-check", "resume", "th_9", "-"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := codexArgs(tc.model, tc.extra, tc.threadID)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("codexArgs() =\n  %q\nwant\n  %q", got, tc.want)
			}
		})
	}
}

func TestClaudeArgs_DoesNotAliasExtra(t *testing.T) {
	extra := make([]string, 1, 8)
	extra[0] = "--x"
	_ = claudeArgs("", "", extra, "s")
	if extra[0] != "--x" || len(extra) != 1 {
		t.Errorf("extra args mutated: %q", extra)
	}
}

func TestClaudeStdin(t *testing.T) {
	req := Request{Messages: []Message{UserText("one"), AssistantText("two"), UserText("three")}}
	data, err := claudeStdin(req)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("stream-json input must be newline terminated")
	}
	var msg struct {
		Type    string `json:"type"`
		Message struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("stdin is not JSON: %v", err)
	}
	if msg.Type != "user" || msg.Message.Role != "user" || len(msg.Message.Content) != 1 {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if want := "User: one\n\nAssistant: two\n\nUser: three"; msg.Message.Content[0].Text != want {
		t.Errorf("text = %q, want %q", msg.Message.Content[0].Text, want)
	}

	req.Continuation = &Continuation{SessionID: "s-1"}
	data, _ = claudeStdin(req)
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Message.Content[0].Text != "three" {
		t.Errorf("resumed session should only send the latest message, got %q", msg.Message.Content[0].Text)
	}
}

func TestCodexStdin(t *testing.T) {
	req := Request{System: "sys", Messages: []Message{UserText("hello")}}
	if got := string(codexStdin(req)); got != "sys\n\nhello" {
		t.Errorf("codexStdin = %q", got)
	}
	req.Messages = append(req.Messages, AssistantText("hi"), UserText("again"))
	req.Continuation = &Continuation{ThreadID: "th"}
	if got := string(codexStdin(req)); got != "again" {
		t.Errorf("resumed codexStdin = %q", got)
	}
}
