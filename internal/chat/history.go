package chat

import (
	"context"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/samsaffron/nvim-llm/internal/llm"
)

// Sources of history entries.
const (
	SourceArchive = "archive"
	SourceLog     = "log"
)

// HistoryEntry is one chat the user can resume.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Template  string    `json:"template,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`
	Path      string    `json:"path,omitempty"`
}

func (e HistoryEntry) searchText() string {
	return strings.Join([]string{e.Title, e.Template, e.Provider, ShortID(e.ID)}, " ")
}

type historyEntries []HistoryEntry

func (h historyEntries) String(i int) string { return h[i].searchText() }
func (h historyEntries) Len() int            { return len(h) }

// History lists archived chats, newest first, followed by saved chats not
// in the archive. A non-empty query filters and ranks entries by fuzzy
// match on title, template and provider.
func (m *Manager) History(ctx context.Context, query string, limit int) ([]HistoryEntry, error) {
	var entries historyEntries
	seen := map[string]bool{}
	for _, a := range m.archive.List() {
		seen[a.ID] = true
		entries = append(entries, HistoryEntry{
			ID:        a.ID,
			Title:     firstUserLine(a.Messages),
			Template:  a.Template,
			Provider:  a.Provider,
			Messages:  len(a.Messages),
			CreatedAt: a.CreatedAt,
			Source:    SourceArchive,
		})
	}

	if logs := m.Logs(); logs != nil && logs.Index() != nil {
		saved, err := logs.Index().List(ctx, ListOptions{Limit: 200})
		if err != nil {
			return nil, err
		}
		for _, s := range saved {
			if seen[s.ID] {
				continue
			}
			entries = append(entries, HistoryEntry{
				ID:        s.ID,
				Title:     s.Title,
				Template:  s.Template,
				Provider:  s.Provider,
				Messages:  s.MessageCount,
				CreatedAt: s.CreatedAt,
				Source:    SourceLog,
				Path:      s.JSONPath,
			})
		}
	}

	if query = strings.TrimSpace(query); query != "" {
		matches := fuzzy.FindFrom(query, entries)
		ranked := make(historyEntries, 0, len(matches))
		for _, match := range matches {
			ranked = append(ranked, entries[match.Index])
		}
		entries = ranked
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func firstUserLine(messages []llm.Message) string {
	return LogRecord{Messages: messages}.Title()
}
