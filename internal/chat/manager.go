package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/llm"
)

var (
	// ErrNoActiveSession is returned by operations that need an open chat.
	ErrNoActiveSession = errors.New("no active chat session")
	// ErrStreaming rejects a submission while a response is streaming.
	ErrStreaming = errors.New("a response is still streaming")
	// ErrNotFound is returned for chat ids neither archived nor saved.
	ErrNotFound = errors.New("chat not found")
)

// Options configure a Manager.
type Options struct {
	HistoryLimit int
	// FollowUps is the default for new sessions.
	FollowUps bool
	Layout    string
	// Autosave writes a log for every archived session.
	Autosave bool
	// Logs persists chats. Save, Resume of saved chats and History of
	// saved chats need it.
	Logs   *LogStore
	Logger *slog.Logger
	// SpinnerInterval is the loading indicator frame rate.
	SpinnerInterval time.Duration
}

// Manager owns the single active chat session. All mutation goes through
// its methods. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	host    host.Host
	active  *Session
	archive *Archive
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a manager with no active session.
func NewManager(h host.Host, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Layout == "" {
		opts.Layout = "vertical"
	}
	if opts.SpinnerInterval <= 0 {
		opts.SpinnerInterval = DefaultSpinnerInterval
	}
	return &Manager{
		host:    h,
		archive: NewArchive(opts.HistoryLimit),
		opts:    opts,
		logger:  logger.With("component", "chat"),
		now:     time.Now,
	}
}

// SetOptions applies new settings. The archive is trimmed to the new
// limit; the active session keeps its own follow-up flag.
func (m *Manager) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.Logs == nil {
		opts.Logs = m.opts.Logs
	}
	if opts.Layout == "" {
		opts.Layout = "vertical"
	}
	if opts.SpinnerInterval <= 0 {
		opts.SpinnerInterval = m.opts.SpinnerInterval
	}
	opts.Logger = nil
	m.opts = opts
	m.archive.SetCapacity(opts.HistoryLimit)
}

// Archive returns the archive of ended sessions.
func (m *Manager) Archive() *Archive { return m.archive }

// Logs returns the log store, or nil.
func (m *Manager) Logs() *LogStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.Logs
}

// Active returns a copy of the active session.
func (m *Manager) Active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	return m.active.clone(), true
}

// OpenOptions describe a new session.
type OpenOptions struct {
	Template string
	Provider string
	Model    string
	Layout   string
	Origin   *host.Selection
	// FollowUps overrides the configured default when set.
	FollowUps *bool
	// Prompt pre-fills the prompt surface.
	Prompt string

	// Resume state. Messages are replayed into the response surface and
	// become the session's messages as they are.
	ID              string
	CreatedAt       time.Time
	Messages        []llm.Message
	FollowUpEntries []FollowUp
	ProviderContext *ProviderContext
}

// Open archives any active session, then opens the surfaces of a new one.
func (m *Manager) Open(ctx context.Context, o OpenOptions) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.closeLocked(ctx)
	}

	layout := o.Layout
	if layout == "" {
		layout = m.opts.Layout
	}
	surfaces, err := m.host.OpenChat(ctx, layout)
	if err != nil {
		return Session{}, fmt.Errorf("open chat surfaces: %w", err)
	}

	followUps := m.opts.FollowUps
	if o.FollowUps != nil {
		followUps = *o.FollowUps
	}
	s := &Session{
		ID:              o.ID,
		PromptSurface:   surfaces.Prompt,
		ResponseSurface: surfaces.Response,
		FollowUpEnabled: followUps,
		FollowUps:       slices.Clone(o.FollowUpEntries),
		Template:        o.Template,
		Provider:        o.Provider,
		Model:           o.Model,
		Layout:          layout,
		Origin:          o.Origin,
		Messages:        slices.Clone(o.Messages),
		ProviderContext: o.ProviderContext.clone(),
		CreatedAt:       o.CreatedAt,
	}
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}

	lines := headerLines(s)
	s.HeaderLineCount = len(lines)
	for _, msg := range s.Messages {
		lines = append(lines, messageLines(msg)...)
	}
	if s.FollowUpEnabled && len(s.FollowUps) > 0 {
		lines = append(lines, RenderFollowUps(s.FollowUps)...)
		lines = append(lines, "")
	}
	if err := m.host.SetLines(ctx, s.ResponseSurface, 0, -1, lines); err != nil {
		m.closeSurfaces(ctx, s)
		return Session{}, fmt.Errorf("render chat: %w", err)
	}
	if o.Prompt != "" {
		if err := m.host.SetLines(ctx, s.PromptSurface, 0, -1, host.SplitLines(o.Prompt)); err != nil {
			m.logger.Warn("prefill prompt failed", "error", err)
		}
	}

	m.active = s
	m.logger.Info("chat opened", "chat", s.ID, "provider", s.Provider, "messages", len(s.Messages))
	return s.clone(), nil
}

// Close archives the active session when it has messages and closes its
// surfaces. It returns the closed session.
func (m *Manager) Close(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, ErrNoActiveSession
	}
	s := m.active.clone()
	m.closeLocked(ctx)
	return s, nil
}

func (m *Manager) closeLocked(ctx context.Context) {
	s := m.active
	m.active = nil
	if len(s.Messages) > 0 {
		entry := s.archive()
		m.archive.Add(entry)
		if m.opts.Autosave && m.opts.Logs != nil {
			if _, err := m.opts.Logs.Save(ctx, recordFromArchive(entry, "")); err != nil {
				m.logger.Warn("autosave failed", "chat", s.ID, "error", err)
			}
		}
	} else {
		m.logger.Debug("discarding empty chat", "chat", s.ID)
	}
	m.closeSurfaces(ctx, s)
}

func (m *Manager) closeSurfaces(ctx context.Context, s *Session) {
	for _, buf := range []host.Buffer{s.PromptSurface, s.ResponseSurface} {
		if err := m.host.CloseSurface(ctx, buf); err != nil {
			m.logger.Debug("close chat surface", "buffer", buf, "error", err)
		}
	}
}

// update runs fn on the session with id, or the active session when id is
// empty. It reports whether such a session was active.
func (m *Manager) update(id string, fn func(*Session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || (id != "" && m.active.ID != id) {
		return false
	}
	fn(m.active)
	return true
}

// PushMessage appends to the active session's messages.
func (m *Manager) PushMessage(msg llm.Message) error {
	if !m.update("", func(s *Session) { s.Messages = append(s.Messages, msg) }) {
		return ErrNoActiveSession
	}
	return nil
}

// SetMessages replaces the active session's messages.
func (m *Manager) SetMessages(msgs []llm.Message) error {
	if !m.update("", func(s *Session) { s.Messages = slices.Clone(msgs) }) {
		return ErrNoActiveSession
	}
	return nil
}

// SetStreaming sets the flag checked before accepting a submission.
func (m *Manager) SetStreaming(streaming bool) error {
	if !m.update("", func(s *Session) { s.Streaming = streaming }) {
		return ErrNoActiveSession
	}
	return nil
}

// SetProviderContext merges pc into the active session. It reports false
// when there is no active session or pc names a provider other than the one
// the session is pinned to.
func (m *Manager) SetProviderContext(pc ProviderContext) bool {
	return m.SetProviderContextFor("", pc)
}

// SetProviderContextFor is SetProviderContext for session id. Hooks of a
// running job use it so a late report never reaches a newer session.
func (m *Manager) SetProviderContextFor(id string, pc ProviderContext) bool {
	applied := false
	m.update(id, func(s *Session) {
		if pc.Provider != "" && s.Provider != "" && pc.Provider != s.Provider {
			return
		}
		s.ProviderContext, applied = mergeProviderContext(s.ProviderContext, pc)
	})
	if !applied {
		m.logger.Debug("provider context dropped", "provider", pc.Provider)
	}
	return applied
}

// SetFollowUps normalizes raw and stores the result on the active session.
func (m *Manager) SetFollowUps(raw any) ([]FollowUp, error) {
	entries := NormalizeFollowUps(raw)
	if !m.update("", func(s *Session) { s.FollowUps = entries }) {
		return nil, ErrNoActiveSession
	}
	return slices.Clone(entries), nil
}

// FollowUp returns the text of the active session's follow-up with key.
func (m *Manager) FollowUp(key int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", ErrNoActiveSession
	}
	for _, f := range m.active.FollowUps {
		if f.Key == key {
			return f.Text, nil
		}
	}
	return "", &llm.ValidationError{Field: "key", Reason: fmt.Sprintf("no follow-up with key %d", key)}
}

// SubmitOptions describe one chat submission.
type SubmitOptions struct {
	// Prompt is sent instead of the prompt surface content when set.
	Prompt   string
	Provider string
	Model    string
}

// Submission is an accepted prompt. Session includes the new user message.
type Submission struct {
	Prompt  string
	Session Session
}

// BeginSubmit accepts a prompt for the active session: it appends the user
// message, renders it and marks the session streaming. A submission while
// streaming is rejected with a warning notification.
func (m *Manager) BeginSubmit(ctx context.Context, o SubmitOptions) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.active
	if s == nil {
		return Submission{}, ErrNoActiveSession
	}
	if s.Streaming {
		if err := m.host.Notify(ctx, "nvim-llm: wait for the current response or stop it first", host.LevelWarn); err != nil {
			m.logger.Debug("notify failed", "error", err)
		}
		return Submission{}, ErrStreaming
	}

	prompt := o.Prompt
	fromSurface := prompt == ""
	if fromSurface {
		lines, err := m.host.Lines(ctx, s.PromptSurface, 0, -1)
		if err != nil {
			return Submission{}, fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.Join(lines, "\n")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Submission{}, &llm.ValidationError{Field: "prompt", Reason: "missing prompt"}
	}

	if o.Provider != "" && o.Provider != s.Provider {
		if s.Provider != "" {
			s.ProviderContext = nil
		}
		s.Provider = o.Provider
	}
	if o.Model != "" {
		s.Model = o.Model
	}

	msg := llm.UserText(prompt)
	if err := m.host.SetLines(ctx, s.ResponseSurface, -1, -1, messageLines(msg)); err != nil {
		return Submission{}, fmt.Errorf("render prompt: %w", err)
	}
	if fromSurface {
		if err := m.host.SetLines(ctx, s.PromptSurface, 0, -1, []string{""}); err != nil {
			m.logger.Warn("clear prompt failed", "error", err)
		}
	}
	s.Messages = append(s.Messages, msg)
	s.FollowUps = nil
	s.Streaming = true
	return Submission{Prompt: prompt, Session: s.clone()}, nil
}

// AbortSubmit clears the streaming flag after a submission that never
// reached a job, and tells the user why.
func (m *Manager) AbortSubmit(ctx context.Context, id string, cause error) {
	m.update(id, func(s *Session) { s.Streaming = false; s.JobID = "" })
	if cause == nil {
		return
	}
	if err := m.host.Notify(ctx, "nvim-llm: "+cause.Error(), host.LevelError); err != nil {
		m.logger.Debug("notify failed", "error", err)
	}
}

// SetJob records the job streaming into session id.
func (m *Manager) SetJob(id, jobID string) bool {
	return m.update(id, func(s *Session) { s.JobID = jobID })
}

// finishResponse records the outcome of a response in session id.
func (m *Manager) finishResponse(id, text string, followUps any) {
	m.update(id, func(s *Session) {
		if text != "" {
			s.Messages = append(s.Messages, llm.AssistantText(text))
		}
		if s.FollowUpEnabled && followUps != nil {
			s.FollowUps = NormalizeFollowUps(followUps)
		}
		s.Streaming = false
		s.JobID = ""
	})
}

// Resume reopens an archived or saved chat. Its messages are replayed into
// the response surface only; the message log is taken over as stored.
func (m *Manager) Resume(ctx context.Context, id string) (Session, error) {
	entry, ok := m.archive.Get(id)
	if !ok {
		logs := m.Logs()
		if logs == nil {
			return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		rec, err := logs.Load(id)
		if err != nil {
			return Session{}, err
		}
		entry = rec.Archived()
	}
	followUps := entry.FollowUpEnabled
	return m.Open(ctx, OpenOptions{
		ID:              entry.ID,
		CreatedAt:       entry.CreatedAt,
		Template:        entry.Template,
		Provider:        entry.Provider,
		Model:           entry.Model,
		FollowUps:       &followUps,
		Messages:        entry.Messages,
		FollowUpEntries: entry.FollowUps,
		ProviderContext: entry.ProviderContext,
	})
}

// Save writes a log for the active session, or for the newest archived one
// when no chat is open.
func (m *Manager) Save(ctx context.Context) (SavedLog, error) {
	m.mu.Lock()
	logs := m.opts.Logs
	var (
		entry  ArchivedChat
		prompt string
		found  bool
	)
	if s := m.active; s != nil {
		entry, found = s.archive(), true
		if lines, err := m.host.Lines(ctx, s.PromptSurface, 0, -1); err == nil {
			prompt = strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}
	m.mu.Unlock()

	if logs == nil {
		return SavedLog{}, errors.New("chat logs are not configured")
	}
	if !found {
		entry, found = m.archive.Newest()
	}
	if !found {
		return SavedLog{}, ErrNoActiveSession
	}
	if len(entry.Messages) == 0 {
		return SavedLog{}, &llm.ValidationError{Field: "chat", Reason: "nothing to save"}
	}
	return logs.Save(ctx, recordFromArchive(entry, prompt))
}
