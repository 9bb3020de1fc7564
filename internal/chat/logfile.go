package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/nvim-llm/internal/llm"
)

// Log formats of the human-readable companion file.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// LogRecord is the durable JSON form of a chat.
type LogRecord struct {
	ID              string           `json:"id"`
	Template        string           `json:"template,omitempty"`
	Provider        string           `json:"provider,omitempty"`
	Model           string           `json:"model,omitempty"`
	FollowUpEnabled bool             `json:"follow_up_enabled"`
	FollowUps       []FollowUp       `json:"followups"`
	PromptText      string           `json:"prompt_text"`
	ResponseText    string           `json:"response_text"`
	CreatedAt       time.Time        `json:"created_at"`
	ProviderContext *ProviderContext `json:"provider_context,omitempty"`
	Messages        []llm.Message    `json:"messages"`
}

// Archived converts the record back into an archive entry.
func (r LogRecord) Archived() ArchivedChat {
	return ArchivedChat{
		ID:              r.ID,
		Template:        r.Template,
		Provider:        r.Provider,
		Model:           r.Model,
		FollowUpEnabled: r.FollowUpEnabled,
		FollowUps:       r.FollowUps,
		CreatedAt:       r.CreatedAt,
		Messages:        r.Messages,
		ProviderContext: r.ProviderContext.clone(),
	}
}

// Title is the first line of the first user message.
func (r LogRecord) Title() string {
	for _, m := range r.Messages {
		if m.Role == llm.RoleUser {
			line, _, _ := strings.Cut(strings.TrimSpace(m.Content), "\n")
			return line
		}
	}
	return ""
}

func recordFromArchive(a ArchivedChat, prompt string) LogRecord {
	followUps := a.FollowUps
	if followUps == nil {
		followUps = []FollowUp{}
	}
	messages := a.Messages
	if messages == nil {
		messages = []llm.Message{}
	}
	return LogRecord{
		ID:              a.ID,
		Template:        a.Template,
		Provider:        a.Provider,
		Model:           a.Model,
		FollowUpEnabled: a.FollowUpEnabled,
		FollowUps:       followUps,
		PromptText:      prompt,
		ResponseText:    RenderTranscript(a.Messages),
		CreatedAt:       a.CreatedAt,
		ProviderContext: a.ProviderContext.clone(),
		Messages:        messages,
	}
}

var unsafeNameRun = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SanitizeLogName makes name safe as a file name: runs of characters
// outside [A-Za-z0-9_-] become one hyphen, leading and trailing hyphens are
// trimmed and an empty result becomes "untitled".
func SanitizeLogName(name string) string {
	s := strings.Trim(unsafeNameRun.ReplaceAllString(name, "-"), "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// SavedLog names the files written for one chat.
type SavedLog struct {
	ID       string `json:"id"`
	JSONPath string `json:"json_path"`
	TextPath string `json:"text_path"`
}

// LogStore writes chat logs under a directory and records them in an
// optional index.
type LogStore struct {
	dir    string
	format string
	index  *Index
}

// NewLogStore creates a store. format is FormatMarkdown or FormatHTML.
func NewLogStore(dir, format string, index *Index) *LogStore {
	if format != FormatHTML {
		format = FormatMarkdown
	}
	return &LogStore{dir: dir, format: format, index: index}
}

// Dir returns the log directory.
func (s *LogStore) Dir() string { return s.dir }

// Index returns the index, or nil.
func (s *LogStore) Index() *Index { return s.index }

func (s *LogStore) baseName(rec LogRecord) string {
	name := rec.ID
	if rec.Template != "" {
		name += "-" + rec.Template
	}
	return SanitizeLogName(name)
}

// Save writes the JSON record and its companion file. Saving the same id
// again overwrites both.
func (s *LogStore) Save(ctx context.Context, rec LogRecord) (SavedLog, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return SavedLog{}, fmt.Errorf("create log dir: %w", err)
	}
	base := filepath.Join(s.dir, s.baseName(rec))

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return SavedLog{}, fmt.Errorf("encode chat log: %w", err)
	}
	saved := SavedLog{ID: rec.ID, JSONPath: base + ".json"}
	if err := writeFileAtomic(saved.JSONPath, append(data, '\n')); err != nil {
		return SavedLog{}, err
	}

	md, err := RenderMarkdown(rec)
	if err != nil {
		return SavedLog{}, err
	}
	text, ext := md, ".md"
	if s.format == FormatHTML {
		if text, err = RenderHTML(md); err != nil {
			return SavedLog{}, err
		}
		ext = ".html"
	}
	saved.TextPath = base + ext
	if err := writeFileAtomic(saved.TextPath, text); err != nil {
		return SavedLog{}, err
	}

	if s.index != nil {
		if err := s.index.Upsert(ctx, rec, saved); err != nil {
			return saved, fmt.Errorf("index chat log: %w", err)
		}
	}
	return saved, nil
}

// Load reads a record by id or by path to its JSON file.
func (s *LogStore) Load(idOrPath string) (LogRecord, error) {
	path := idOrPath
	if !strings.HasSuffix(path, ".json") {
		found, err := s.find(idOrPath)
		if err != nil {
			return LogRecord{}, err
		}
		path = found
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return LogRecord{}, fmt.Errorf("%w: %s", ErrNotFound, idOrPath)
	}
	if err != nil {
		return LogRecord{}, fmt.Errorf("read chat log: %w", err)
	}
	var rec LogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LogRecord{}, fmt.Errorf("decode chat log %s: %w", path, err)
	}
	return rec, nil
}

func (s *LogStore) find(id string) (string, error) {
	if s.index != nil {
		if path, ok, err := s.index.Path(context.Background(), id); err == nil && ok {
			return path, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, SanitizeLogName(id)+"*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return matches[0], nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

type frontMatter struct {
	ID              string           `yaml:"id"`
	Template        string           `yaml:"template,omitempty"`
	Provider        string           `yaml:"provider,omitempty"`
	Model           string           `yaml:"model,omitempty"`
	Created         string           `yaml:"created"`
	FollowUps       []string         `yaml:"followups,omitempty"`
	ProviderContext *ProviderContext `yaml:"provider_context,omitempty"`
}

// RenderMarkdown renders rec for reading. The output is display-only.
func RenderMarkdown(rec LogRecord) ([]byte, error) {
	fm := frontMatter{
		ID:              rec.ID,
		Template:        rec.Template,
		Provider:        rec.Provider,
		Model:           rec.Model,
		Created:         rec.CreatedAt.Format(time.RFC3339),
		ProviderContext: rec.ProviderContext,
	}
	for _, f := range rec.FollowUps {
		fm.FollowUps = append(fm.FollowUps, f.Text)
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	if title := rec.Title(); title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	if rec.ResponseText != "" {
		b.WriteString(rec.ResponseText)
		b.WriteString("\n")
	}
	if rec.PromptText != "" {
		fmt.Fprintf(&b, "\n## Draft\n\n%s\n", rec.PromptText)
	}
	return b.Bytes(), nil
}

var htmlRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts rendered markdown into a standalone HTML page. The
// front matter is kept as a preformatted block.
func RenderHTML(md []byte) ([]byte, error) {
	front, body := splitFrontMatter(md)
	var out bytes.Buffer
	out.WriteString("<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>nvim-llm chat</title></head><body>\n")
	if len(front) > 0 {
		out.WriteString("<pre class=\"front-matter\">")
		out.WriteString(html.EscapeString(string(front)))
		out.WriteString("</pre>\n")
	}
	if err := htmlRenderer.Convert(body, &out); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}

func splitFrontMatter(md []byte) ([]byte, []byte) {
	if !bytes.HasPrefix(md, []byte("---\n")) {
		return nil, md
	}
	rest := md[4:]
	end := bytes.Index(rest, []byte("\n---\n"))
	if end < 0 {
		return nil, md
	}
	return rest[:end+1], rest[end+5:]
}
