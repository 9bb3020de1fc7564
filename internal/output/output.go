// Package output applies a streamed response to an editor destination.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/llm"
)

// Mode selects the destination of a response.
type Mode string

const (
	ModeReplace  Mode = "replace"
	ModeAppend   Mode = "append"
	ModeRegister Mode = "register"
	ModeScratch  Mode = "scratch"
	ModeChat     Mode = "chat"
)

// ParseMode validates an output mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeReplace, ModeAppend, ModeRegister, ModeScratch, ModeChat:
		return m, nil
	}
	return "", &llm.ValidationError{Field: "out", Reason: fmt.Sprintf("unknown output mode %q", s)}
}

// ErrorPrefix marks diagnostics written into buffers.
const ErrorPrefix = "[nvim-llm] error: "

// DefaultRegister is the unnamed register.
const DefaultRegister = `"`

// Target describes where a session writes. It is handed to template
// completion hooks.
type Target struct {
	Mode     Mode            `json:"mode"`
	Buffer   host.Buffer     `json:"bufnr,omitempty"`
	Register string          `json:"register,omitempty"`
	Range    *host.Selection `json:"range,omitempty"`
}

// Session receives one response. Append is called for every text delta in
// order, then exactly one of Finalize or Fail.
type Session interface {
	Append(ctx context.Context, text string) error
	Finalize(ctx context.Context) error
	// Fail never panics and reports host errors only through the log.
	Fail(ctx context.Context, reason any)
	Target() Target
}

// Options carries what a session needs from the originating request.
type Options struct {
	Selection host.Selection
	Register  string
	Title     string
}

// New creates a session for mode. Chat sessions belong to the chat
// manager and are not created here.
func New(ctx context.Context, h host.Host, mode Mode, opts Options) (Session, error) {
	switch mode {
	case ModeReplace:
		return newReplace(h, opts.Selection), nil
	case ModeAppend:
		return newAppend(ctx, h, opts.Selection)
	case ModeRegister:
		return newRegister(h, opts.Register), nil
	case ModeScratch:
		return newScratch(ctx, h, opts.Title)
	case ModeChat:
		return nil, &llm.ValidationError{Field: "out", Reason: "chat output needs an open chat session"}
	}
	_, err := ParseMode(string(mode))
	return nil, err
}

// FormatReason renders a failure reason for display. Errors use their
// message, strings are kept verbatim, anything else is rendered as JSON or
// with %v.
func FormatReason(reason any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("unprintable failure (%T)", reason)
		}
	}()
	switch v := reason.(type) {
	case nil:
		return "unknown error"
	case error:
		return v.Error()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	if data, err := json.Marshal(reason); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", reason)
}

// errorLines renders reason as diagnostic lines.
func errorLines(reason any) []string {
	return host.SplitLines(ErrorPrefix + FormatReason(reason))
}
