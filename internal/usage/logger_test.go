package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoggerWritesDailyFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(filepath.Join(dir, "usage"))

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	entries := []LogEntry{
		{Timestamp: day1, Provider: "openai", InputTokens: 10, OutputTokens: 5},
		{Timestamp: day1.Add(time.Hour), Provider: "anthropic", InputTokens: 3, OutputTokens: 4},
		{Timestamp: day2, Provider: "openai", InputTokens: 1, OutputTokens: 2},
	}
	for _, e := range entries {
		if err := l.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	for _, name := range []string{"2026-03-01.jsonl", "2026-03-02.jsonl"} {
		if _, err := os.Stat(filepath.Join(l.Dir(), name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	all, err := l.Load(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("Load returned %d entries, want 3", len(all))
	}

	recent, err := l.Load(day2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].InputTokens != 1 {
		t.Errorf("Load(since) = %+v", recent)
	}

	totals := Summarize(all)
	if len(totals) != 2 {
		t.Fatalf("Summarize = %+v", totals)
	}
	if totals[0].Provider != "anthropic" || totals[1].Jobs != 2 || totals[1].InputTokens != 11 || totals[1].OutputTokens != 7 {
		t.Errorf("Summarize = %+v", totals)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"timestamp":"2026-03-01T10:00:00Z","provider":"gemini","input_tokens":2,"output_tokens":1}
not json
`
	if err := os.WriteFile(filepath.Join(dir, "2026-03-01.jsonl"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := NewLogger(dir).Load(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Provider != "gemini" {
		t.Errorf("Load = %+v", got)
	}
}

func TestLoadMissingDir(t *testing.T) {
	got, err := NewLogger(filepath.Join(t.TempDir(), "absent")).Load(time.Time{})
	if err != nil || len(got) != 0 {
		t.Errorf("Load = %v, %v", got, err)
	}
}
