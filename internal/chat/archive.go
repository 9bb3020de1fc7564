package chat

import (
	"slices"
	"sync"
	"time"

	"github.com/samsaffron/nvim-llm/internal/llm"
)

// DefaultHistoryLimit is the archive capacity when none is configured.
const DefaultHistoryLimit = 20

// ArchivedChat is an immutable snapshot of an ended chat.
type ArchivedChat struct {
	ID              string           `json:"id"`
	Template        string           `json:"template,omitempty"`
	Provider        string           `json:"provider,omitempty"`
	Model           string           `json:"model,omitempty"`
	FollowUpEnabled bool             `json:"follow_up_enabled"`
	FollowUps       []FollowUp       `json:"followups"`
	CreatedAt       time.Time        `json:"created_at"`
	Messages        []llm.Message    `json:"messages"`
	ProviderContext *ProviderContext `json:"provider_context,omitempty"`
}

func (a ArchivedChat) clone() ArchivedChat {
	a.Messages = slices.Clone(a.Messages)
	a.FollowUps = slices.Clone(a.FollowUps)
	a.ProviderContext = a.ProviderContext.clone()
	return a
}

// Archive is a bounded newest-first list of ended chats. It is safe for
// concurrent use.
type Archive struct {
	mu       sync.Mutex
	capacity int
	entries  []ArchivedChat
}

// NewArchive creates an archive holding at most capacity entries.
func NewArchive(capacity int) *Archive {
	if capacity <= 0 {
		capacity = DefaultHistoryLimit
	}
	return &Archive{capacity: capacity}
}

// Add prepends a. An entry with the same id is replaced. The oldest entries
// beyond capacity are dropped.
func (a *Archive) Add(entry ArchivedChat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = slices.DeleteFunc(a.entries, func(e ArchivedChat) bool { return e.ID == entry.ID })
	a.entries = slices.Insert(a.entries, 0, entry.clone())
	if len(a.entries) > a.capacity {
		a.entries = a.entries[:a.capacity]
	}
}

// SetCapacity changes the bound, trimming if needed.
func (a *Archive) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = DefaultHistoryLimit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capacity = capacity
	if len(a.entries) > capacity {
		a.entries = a.entries[:capacity]
	}
}

// List returns copies of every entry, newest first.
func (a *Archive) List() []ArchivedChat {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ArchivedChat, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.clone()
	}
	return out
}

// Get returns the entry with id.
func (a *Archive) Get(id string) (ArchivedChat, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.ID == id {
			return e.clone(), true
		}
	}
	return ArchivedChat{}, false
}

// Newest returns the most recently archived entry.
func (a *Archive) Newest() (ArchivedChat, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return ArchivedChat{}, false
	}
	return a.entries[0].clone(), true
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
