package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/samsaffron/nvim-llm/internal/host"
)

// Call is one recorded host mutation.
type Call struct {
	Method string
	Buffer host.Buffer
	Lines  []string
}

// Notification is one recorded Notify call.
type Notification struct {
	Msg   string
	Level host.Level
}

// CompletionCall is one recorded template completion.
type CompletionCall struct {
	ID  string
	Ctx map[string]any
}

// TemplateFunc answers RunTemplateBuilder for one template id.
type TemplateFunc func(tctx, args map[string]any) (host.TemplateResult, error)

type pos struct{ row, col int }

// FakeHost is an in-memory editor. Marks follow right gravity like
// extmarks: a mark inside a replaced line range ends up after the
// replacement. It is safe for concurrent use.
type FakeHost struct {
	mu       sync.Mutex
	nextBuf  host.Buffer
	nextMark host.Mark
	buffers  map[host.Buffer][]string
	closed   map[host.Buffer]bool
	marks    map[host.Buffer]map[host.Mark]*pos
	cursors  map[host.Buffer]pos
	names    map[host.Buffer]string

	registers     map[string]string
	calls         []Call
	notifications []Notification
	completions   []CompletionCall

	Templates     map[string]TemplateFunc
	CompletionErr error
	OpenChatErr   error
}

// NewFakeHost creates an empty fake host.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		nextBuf:   1,
		nextMark:  1,
		buffers:   map[host.Buffer][]string{},
		closed:    map[host.Buffer]bool{},
		marks:     map[host.Buffer]map[host.Mark]*pos{},
		cursors:   map[host.Buffer]pos{},
		names:     map[host.Buffer]string{},
		registers: map[string]string{},
		Templates: map[string]TemplateFunc{},
	}
}

// AddBuffer creates a buffer holding lines.
func (h *FakeHost) AddBuffer(lines ...string) host.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.newBuffer("", lines)
}

func (h *FakeHost) newBuffer(name string, lines []string) host.Buffer {
	if len(lines) == 0 {
		lines = []string{""}
	}
	buf := h.nextBuf
	h.nextBuf++
	h.buffers[buf] = slices.Clone(lines)
	h.names[buf] = name
	return buf
}

// Buffer returns a copy of a buffer's lines.
func (h *FakeHost) Buffer(buf host.Buffer) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.buffers[buf])
}

// BufferText returns a buffer's lines joined with newlines.
func (h *FakeHost) BufferText(buf host.Buffer) string {
	return strings.Join(h.Buffer(buf), "\n")
}

// BufferName returns the title a surface was opened with.
func (h *FakeHost) BufferName(buf host.Buffer) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.names[buf]
}

// IsClosed reports whether CloseSurface was called for buf.
func (h *FakeHost) IsClosed(buf host.Buffer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed[buf]
}

// Register returns the content of a register.
func (h *FakeHost) Register(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.registers[name]
	return v, ok
}

// Cursor returns the last cursor set for buf.
func (h *FakeHost) Cursor(buf host.Buffer) (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.cursors[buf]
	return p.row, p.col
}

// Calls returns recorded mutations, optionally filtered by buffer.
func (h *FakeHost) Calls(buf host.Buffer) []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Call
	for _, c := range h.calls {
		if buf == 0 || c.Buffer == buf {
			out = append(out, c)
		}
	}
	return out
}

// Notifications returns every Notify call.
func (h *FakeHost) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.notifications)
}

// Completions returns every template completion call.
func (h *FakeHost) Completions() []CompletionCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.completions)
}

// MarkCount returns the number of live marks in buf.
func (h *FakeHost) MarkCount(buf host.Buffer) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.marks[buf])
}

func (h *FakeHost) lines(buf host.Buffer) ([]string, error) {
	lines, ok := h.buffers[buf]
	if !ok || h.closed[buf] {
		return nil, fmt.Errorf("invalid buffer id: %d", buf)
	}
	return lines, nil
}

func index(i, n int) int {
	if i < 0 {
		return n + 1 + i
	}
	return i
}

func (h *FakeHost) Lines(_ context.Context, buf host.Buffer, start, end int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines, err := h.lines(buf)
	if err != nil {
		return nil, err
	}
	start, end = index(start, len(lines)), index(end, len(lines))
	if start < 0 || end > len(lines) || start > end {
		return nil, fmt.Errorf("index out of bounds: %d..%d of %d", start, end, len(lines))
	}
	return slices.Clone(lines[start:end]), nil
}

func (h *FakeHost) SetLines(_ context.Context, buf host.Buffer, start, end int, repl []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines, err := h.lines(buf)
	if err != nil {
		return err
	}
	start, end = index(start, len(lines)), index(end, len(lines))
	if start < 0 || end > len(lines) || start > end {
		return fmt.Errorf("index out of bounds: %d..%d of %d", start, end, len(lines))
	}
	next := slices.Concat(lines[:start], repl, lines[end:])
	if len(next) == 0 {
		next = []string{""}
	}
	h.buffers[buf] = next
	h.calls = append(h.calls, Call{Method: "SetLines", Buffer: buf, Lines: slices.Clone(repl)})

	delta := len(repl) - (end - start)
	for _, m := range h.marks[buf] {
		switch {
		case m.row >= end:
			m.row += delta
		case m.row >= start:
			m.row, m.col = start+len(repl), 0
		}
		if m.row >= len(next) {
			m.row, m.col = len(next)-1, 0
		}
	}
	return nil
}

func (h *FakeHost) SetText(_ context.Context, buf host.Buffer, sr, sc, er, ec int, repl []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines, err := h.lines(buf)
	if err != nil {
		return err
	}
	if sr < 0 || er >= len(lines) || sr > er || sc > len(lines[sr]) || ec > len(lines[er]) {
		return fmt.Errorf("range out of bounds: (%d,%d)-(%d,%d)", sr, sc, er, ec)
	}
	if len(repl) == 0 {
		repl = []string{""}
	}
	prefix := lines[sr][:sc]
	suffix := lines[er][ec:]
	mid := slices.Clone(repl)
	mid[0] = prefix + mid[0]
	last := len(mid) - 1
	endRow, endCol := sr+last, len(mid[last])
	mid[last] += suffix

	h.buffers[buf] = slices.Concat(lines[:sr], mid, lines[er+1:])
	h.calls = append(h.calls, Call{Method: "SetText", Buffer: buf, Lines: slices.Clone(repl)})

	for _, m := range h.marks[buf] {
		switch {
		case m.row < sr || (m.row == sr && m.col < sc):
		case m.row < er || (m.row == er && m.col <= ec):
			m.row, m.col = endRow, endCol
		case m.row == er:
			m.row, m.col = endRow, endCol+(m.col-ec)
		default:
			m.row += last - (er - sr)
		}
	}
	return nil
}

func (h *FakeHost) LineCount(_ context.Context, buf host.Buffer) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines, err := h.lines(buf)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

func (h *FakeHost) SetMark(_ context.Context, buf host.Buffer, row, col int) (host.Mark, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.lines(buf); err != nil {
		return 0, err
	}
	id := h.nextMark
	h.nextMark++
	if h.marks[buf] == nil {
		h.marks[buf] = map[host.Mark]*pos{}
	}
	h.marks[buf][id] = &pos{row, col}
	return id, nil
}

func (h *FakeHost) MarkPosition(_ context.Context, buf host.Buffer, mark host.Mark) (int, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.marks[buf][mark]
	if !ok {
		return 0, 0, fmt.Errorf("unknown mark %d", mark)
	}
	return m.row, m.col, nil
}

func (h *FakeHost) DeleteMark(_ context.Context, buf host.Buffer, mark host.Mark) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.marks[buf], mark)
	return nil
}

func (h *FakeHost) SetRegister(_ context.Context, name, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registers[name] = text
	h.calls = append(h.calls, Call{Method: "SetRegister", Lines: strings.Split(text, "\n")})
	return nil
}

func (h *FakeHost) SetCursor(_ context.Context, buf host.Buffer, row, col int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursors[buf] = pos{row, col}
	return nil
}

func (h *FakeHost) OpenScratch(_ context.Context, title string) (host.Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.newBuffer(title, nil), nil
}

func (h *FakeHost) OpenChat(_ context.Context, layout string) (host.ChatSurfaces, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OpenChatErr != nil {
		return host.ChatSurfaces{}, h.OpenChatErr
	}
	resp := h.newBuffer("chat-response:"+layout, nil)
	prompt := h.newBuffer("chat-prompt:"+layout, nil)
	return host.ChatSurfaces{Prompt: prompt, Response: resp}, nil
}

func (h *FakeHost) OpenCompose(_ context.Context, title string, initial []string) (host.Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.newBuffer(title, initial), nil
}

func (h *FakeHost) CloseSurface(_ context.Context, buf host.Buffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed[buf] = true
	return nil
}

func (h *FakeHost) Notify(_ context.Context, msg string, level host.Level) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append(h.notifications, Notification{Msg: msg, Level: level})
	return nil
}

func (h *FakeHost) RunTemplateBuilder(_ context.Context, id string, tctx, args map[string]any) (host.TemplateResult, error) {
	h.mu.Lock()
	fn, ok := h.Templates[id]
	h.mu.Unlock()
	if !ok {
		return host.TemplateResult{}, fmt.Errorf("unknown template %q", id)
	}
	return fn(tctx, args)
}

func (h *FakeHost) RunTemplateCompletion(_ context.Context, id string, cctx map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completions = append(h.completions, CompletionCall{ID: id, Ctx: maps.Clone(cctx)})
	return h.CompletionErr
}

var _ host.Host = (*FakeHost)(nil)
