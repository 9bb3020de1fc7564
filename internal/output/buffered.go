package output

import (
	"context"
	"fmt"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/stream"
)

// replaceSession buffers everything and substitutes the source range once.
// A failed run leaves the source untouched.
type replaceSession struct {
	host host.Host
	sel  host.Selection
	acc  *stream.Accumulator
}

func newReplace(h host.Host, sel host.Selection) *replaceSession {
	return &replaceSession{host: h, sel: sel, acc: stream.NewAccumulator()}
}

func (s *replaceSession) Append(_ context.Context, text string) error {
	s.acc.Append(text)
	return nil
}

func (s *replaceSession) Finalize(ctx context.Context) error {
	endCol := s.sel.EndCol
	if endCol < 0 {
		// Linewise selections extend to the end of the last line.
		lines, err := s.host.Lines(ctx, s.sel.Buffer, s.sel.EndRow, s.sel.EndRow+1)
		if err != nil {
			return fmt.Errorf("read selection end: %w", err)
		}
		endCol = 0
		if len(lines) > 0 {
			endCol = len(lines[0])
		}
	}
	if err := s.host.SetText(ctx, s.sel.Buffer, s.sel.StartRow, s.sel.StartCol, s.sel.EndRow, endCol, s.acc.Lines()); err != nil {
		return fmt.Errorf("replace selection: %w", err)
	}
	return nil
}

func (s *replaceSession) Fail(context.Context, any) {}

func (s *replaceSession) Target() Target {
	sel := s.sel
	return Target{Mode: ModeReplace, Buffer: s.sel.Buffer, Range: &sel}
}

// registerSession buffers everything and writes one register at the end.
type registerSession struct {
	host     host.Host
	register string
	acc      *stream.Accumulator
}

func newRegister(h host.Host, register string) *registerSession {
	if register == "" {
		register = DefaultRegister
	}
	return &registerSession{host: h, register: register, acc: stream.NewAccumulator()}
}

func (s *registerSession) Append(_ context.Context, text string) error {
	s.acc.Append(text)
	return nil
}

func (s *registerSession) Finalize(ctx context.Context) error {
	if err := s.host.SetRegister(ctx, s.register, s.acc.Text()); err != nil {
		return fmt.Errorf("write register %s: %w", s.register, err)
	}
	return nil
}

func (s *registerSession) Fail(context.Context, any) {}

func (s *registerSession) Target() Target {
	return Target{Mode: ModeRegister, Register: s.register}
}
