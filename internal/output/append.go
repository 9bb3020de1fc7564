package output

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samsaffron/nvim-llm/internal/host"
)

// appendSession streams below the selection. A placeholder line is opened
// after the selection and a right-gravity mark tracks where the next delta
// goes, so edits above the insertion point do not misplace it.
type appendSession struct {
	host   host.Host
	sel    host.Selection
	mark   host.Mark
	wrote  bool
	closed bool
}

func newAppend(ctx context.Context, h host.Host, sel host.Selection) (*appendSession, error) {
	row := sel.EndRow + 1
	if err := h.SetLines(ctx, sel.Buffer, row, row, []string{""}); err != nil {
		return nil, fmt.Errorf("insert placeholder: %w", err)
	}
	mark, err := h.SetMark(ctx, sel.Buffer, row, 0)
	if err != nil {
		_ = h.SetLines(ctx, sel.Buffer, row, row+1, nil)
		return nil, fmt.Errorf("set insertion mark: %w", err)
	}
	return &appendSession{host: h, sel: sel, mark: mark}, nil
}

func (s *appendSession) Append(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	row, col, err := s.host.MarkPosition(ctx, s.sel.Buffer, s.mark)
	if err != nil {
		return fmt.Errorf("locate insertion mark: %w", err)
	}
	if err := s.host.SetText(ctx, s.sel.Buffer, row, col, row, col, host.SplitLines(text)); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	s.wrote = true
	return nil
}

func (s *appendSession) Finalize(ctx context.Context) error {
	defer s.release(ctx)
	if s.wrote {
		return nil
	}
	row, _, err := s.host.MarkPosition(ctx, s.sel.Buffer, s.mark)
	if err != nil {
		return fmt.Errorf("locate placeholder: %w", err)
	}
	if err := s.host.SetLines(ctx, s.sel.Buffer, row, row+1, nil); err != nil {
		return fmt.Errorf("remove placeholder: %w", err)
	}
	return nil
}

func (s *appendSession) Fail(ctx context.Context, reason any) {
	defer s.release(ctx)
	row, col, err := s.host.MarkPosition(ctx, s.sel.Buffer, s.mark)
	if err != nil {
		slog.Warn("append: cannot annotate failure", "error", err)
		return
	}
	lines := errorLines(reason)
	if col > 0 {
		lines = append([]string{""}, lines...)
	}
	if err := s.host.SetText(ctx, s.sel.Buffer, row, col, row, col, lines); err != nil {
		slog.Warn("append: cannot annotate failure", "error", err)
	}
}

func (s *appendSession) release(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.host.DeleteMark(ctx, s.sel.Buffer, s.mark); err != nil {
		slog.Debug("append: delete mark", "error", err)
	}
}

func (s *appendSession) Target() Target {
	sel := s.sel
	return Target{Mode: ModeAppend, Buffer: s.sel.Buffer, Range: &sel}
}
