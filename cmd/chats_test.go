package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/nvim-llm/internal/chat"
)

func TestFormatRelativeTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"seconds", now.Add(-10 * time.Second), "just now"},
		{"minutes", now.Add(-5*time.Minute - time.Second), "5m ago"},
		{"hours", now.Add(-3*time.Hour - time.Second), "3h ago"},
		{"days", now.Add(-2*24*time.Hour - time.Second), "2d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRelativeTime(tt.t); got != tt.want {
				t.Errorf("formatRelativeTime() = %q, want %q", got, tt.want)
			}
		})
	}

	old := time.Date(2020, time.March, 4, 12, 0, 0, 0, time.Local)
	if got := formatRelativeTime(old); got != "Mar 4" {
		t.Errorf("formatRelativeTime(old) = %q, want %q", got, "Mar 4")
	}
}

func TestPrintChatTable(t *testing.T) {
	entries := []chat.IndexEntry{{
		ID:           "20240115-143012-a1b2c3",
		Title:        strings.Repeat("long title ", 10),
		Provider:     "claude-bin",
		MessageCount: 4,
		SavedAt:      time.Now(),
		Snippet:      "the connection\npool drains",
	}}

	var buf bytes.Buffer
	printChatTable(&buf, entries, true)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "20240115-143012-a1b2c3 claude-bin") {
		t.Errorf("row = %q", lines[2])
	}
	if !strings.HasSuffix(lines[2], "...") {
		t.Errorf("title not truncated: %q", lines[2])
	}
	if !strings.Contains(lines[3], "the connection pool drains") {
		t.Errorf("snippet = %q", lines[3])
	}

	buf.Reset()
	printChatTable(&buf, entries, false)
	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Errorf("without snippets got %d lines, want 3", n)
	}
}
