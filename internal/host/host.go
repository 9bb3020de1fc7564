// Package host describes the editor the plugin runs inside.
//
// Every call the core makes into the editor goes through the Host
// interface. Rows and columns are 0-based; column ranges are byte offsets
// with an exclusive end, matching nvim_buf_set_text.
package host

import (
	"context"
	"strings"
)

// Buffer is an editor buffer handle.
type Buffer int

// Mark is a position marker inside a buffer that moves with edits.
// Marks have right gravity: text inserted exactly at the mark ends up
// before it.
type Mark int

// Level is a notification severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Selection is the source range and context a request was issued from.
type Selection struct {
	Buffer   Buffer `mapstructure:"bufnr" json:"bufnr"`
	StartRow int    `mapstructure:"start_row" json:"start_row"`
	StartCol int    `mapstructure:"start_col" json:"start_col"`
	EndRow   int    `mapstructure:"end_row" json:"end_row"`
	EndCol   int    `mapstructure:"end_col" json:"end_col"`
	Text     string `mapstructure:"text" json:"text,omitempty"`
	Filetype string `mapstructure:"filetype" json:"filetype,omitempty"`
	Filename string `mapstructure:"filename" json:"filename,omitempty"`
}

// ChatSurfaces are the two buffers backing the chat UI.
type ChatSurfaces struct {
	Prompt   Buffer `json:"prompt"`
	Response Buffer `json:"response"`
}

// TemplateResult is what a host-side template builder returns.
type TemplateResult struct {
	Prompt string `mapstructure:"prompt" json:"prompt"`
	System string `mapstructure:"system" json:"system,omitempty"`
}

// Host is the editor API consumed by the core.
type Host interface {
	// Lines returns lines [start, end). Negative indices count from the end,
	// -1 being one past the last line.
	Lines(ctx context.Context, buf Buffer, start, end int) ([]string, error)
	SetLines(ctx context.Context, buf Buffer, start, end int, lines []string) error
	SetText(ctx context.Context, buf Buffer, startRow, startCol, endRow, endCol int, lines []string) error
	LineCount(ctx context.Context, buf Buffer) (int, error)

	SetMark(ctx context.Context, buf Buffer, row, col int) (Mark, error)
	MarkPosition(ctx context.Context, buf Buffer, mark Mark) (row, col int, err error)
	DeleteMark(ctx context.Context, buf Buffer, mark Mark) error

	SetRegister(ctx context.Context, name, text string) error
	SetCursor(ctx context.Context, buf Buffer, row, col int) error

	// Surface lifecycle. Geometry is decided by the host.
	OpenScratch(ctx context.Context, title string) (Buffer, error)
	OpenChat(ctx context.Context, layout string) (ChatSurfaces, error)
	OpenCompose(ctx context.Context, title string, initial []string) (Buffer, error)
	CloseSurface(ctx context.Context, buf Buffer) error

	Notify(ctx context.Context, msg string, level Level) error

	RunTemplateBuilder(ctx context.Context, id string, tctx, args map[string]any) (TemplateResult, error)
	RunTemplateCompletion(ctx context.Context, id string, cctx map[string]any) error
}

// SplitLines splits text on newlines. The result always has at least one
// element, so it can be passed straight to SetText.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}
