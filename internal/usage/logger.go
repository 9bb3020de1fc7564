package usage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogEntry is one applied job's token usage.
type LogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	JobID        string    `json:"job_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model,omitempty"`
	Mode         string    `json:"out,omitempty"`
	Template     string    `json:"template,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
}

// Logger writes usage entries to daily JSONL files
type Logger struct {
	baseDir string
	mu      sync.Mutex
}

// NewLogger creates a Logger writing under dir.
func NewLogger(dir string) *Logger {
	return &Logger{baseDir: dir}
}

// Dir returns the directory holding the daily files.
func (l *Logger) Dir() string { return l.baseDir }

// Log writes a usage entry to the appropriate daily file
func (l *Logger) Log(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.baseDir, 0755); err != nil {
		return err
	}

	date := entry.Timestamp.Format("2006-01-02")
	filename := filepath.Join(l.baseDir, date+".jsonl")

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

// Totals aggregates token counts per provider.
type Totals struct {
	Provider     string `json:"provider"`
	Jobs         int    `json:"jobs"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Load reads every entry at or after since, oldest file first. Malformed
// lines are skipped.
func (l *Logger) Load(since time.Time) ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(l.baseDir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	cutoff := since.Format("2006-01-02")

	var entries []LogEntry
	for _, name := range files {
		day := strings.TrimSuffix(filepath.Base(name), ".jsonl")
		if !since.IsZero() && day < cutoff {
			continue
		}
		got, err := readEntries(name, since)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		entries = append(entries, got...)
	}
	return entries, nil
}

func readEntries(name string, since time.Time) ([]LogEntry, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

// Summarize groups entries by provider, sorted by provider name.
func Summarize(entries []LogEntry) []Totals {
	byProvider := map[string]*Totals{}
	for _, e := range entries {
		t := byProvider[e.Provider]
		if t == nil {
			t = &Totals{Provider: e.Provider}
			byProvider[e.Provider] = t
		}
		t.Jobs++
		t.InputTokens += e.InputTokens
		t.OutputTokens += e.OutputTokens
	}
	out := make([]Totals, 0, len(byProvider))
	for _, t := range byProvider {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
