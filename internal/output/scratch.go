package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/stream"
)

const scratchHeaderLines = 2

// scratchSession renders into a throwaway buffer below a two-line header.
// Each Append rewrites the body from the last rendered line down.
type scratchSession struct {
	host     host.Host
	buf      host.Buffer
	acc      *stream.Accumulator
	rendered int
}

func newScratch(ctx context.Context, h host.Host, title string) (*scratchSession, error) {
	if title == "" {
		title = "nvim-llm"
	}
	buf, err := h.OpenScratch(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("open scratch buffer: %w", err)
	}
	header := []string{title, Ruler(title)}
	if err := h.SetLines(ctx, buf, 0, -1, append(header, "")); err != nil {
		return nil, fmt.Errorf("write scratch header: %w", err)
	}
	return &scratchSession{host: h, buf: buf, acc: stream.NewAccumulator(), rendered: 1}, nil
}

// Ruler underlines title to its display width.
func Ruler(title string) string {
	w := runewidth.StringWidth(title)
	if w < 3 {
		w = 3
	}
	return strings.Repeat("=", w)
}

func (s *scratchSession) Append(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	lines := s.acc.Append(text)
	from := s.rendered - 1
	start := scratchHeaderLines + from
	end := scratchHeaderLines + s.rendered
	if err := s.host.SetLines(ctx, s.buf, start, end, append([]string(nil), lines[from:]...)); err != nil {
		return fmt.Errorf("render scratch body: %w", err)
	}
	s.rendered = len(lines)
	return nil
}

func (s *scratchSession) Finalize(context.Context) error { return nil }

func (s *scratchSession) Fail(ctx context.Context, reason any) {
	lines := append([]string{""}, errorLines(reason)...)
	if err := s.host.SetLines(ctx, s.buf, -1, -1, lines); err != nil {
		slog.Warn("scratch: cannot annotate failure", "error", err)
	}
}

func (s *scratchSession) Target() Target {
	return Target{Mode: ModeScratch, Buffer: s.buf}
}
