package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/output"
	"github.com/samsaffron/nvim-llm/internal/stream"
)

// DefaultSpinnerInterval is the loading indicator frame rate.
const DefaultSpinnerInterval = 120 * time.Millisecond

// ResponseSession renders one assistant reply into the active chat's
// response surface. It implements output.Session.
type ResponseSession struct {
	m         *Manager
	sessionID string
	host      host.Host
	buf       host.Buffer
	mark      host.Mark
	followUps bool

	mu       sync.Mutex
	acc      *stream.Accumulator
	rendered int
	loading  bool
	stopSpin context.CancelFunc
	released bool
}

// NewResponseSession opens an assistant slot in the active session's
// response surface and starts the loading indicator. The indicator stops
// when jobCtx is done, on the first delta, or on Finalize or Fail.
func (m *Manager) NewResponseSession(ctx, jobCtx context.Context) (*ResponseSession, error) {
	m.mu.Lock()
	s := m.active
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	id, buf, followUps := s.ID, s.ResponseSurface, s.FollowUpEnabled
	interval := m.opts.SpinnerInterval
	m.mu.Unlock()

	if err := m.host.SetLines(ctx, buf, -1, -1, []string{assistantHeading, loadingLine(0)}); err != nil {
		return nil, fmt.Errorf("open assistant slot: %w", err)
	}
	n, err := m.host.LineCount(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("locate assistant slot: %w", err)
	}
	mark, err := m.host.SetMark(ctx, buf, n-2, 0)
	if err != nil {
		return nil, fmt.Errorf("mark assistant slot: %w", err)
	}

	spinCtx, stop := context.WithCancel(jobCtx)
	r := &ResponseSession{
		m:         m,
		sessionID: id,
		host:      m.host,
		buf:       buf,
		mark:      mark,
		followUps: followUps,
		acc:       stream.NewAccumulator(),
		rendered:  1,
		loading:   true,
		stopSpin:  stop,
	}
	go r.spin(spinCtx, interval)
	return r, nil
}

// SessionID returns the chat the reply belongs to.
func (r *ResponseSession) SessionID() string { return r.sessionID }

func (r *ResponseSession) spin(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for frame := 1; ; frame++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		if !r.loading {
			r.mu.Unlock()
			return
		}
		if row, err := r.bodyRow(ctx); err == nil {
			_ = r.host.SetLines(ctx, r.buf, row, row+1, []string{loadingLine(frame)})
		}
		r.mu.Unlock()
	}
}

// stopLoading must be called with r.mu held.
func (r *ResponseSession) stopLoading() {
	if r.loading {
		r.loading = false
		r.stopSpin()
	}
}

// bodyRow is the first line of the reply. The mark sits on the heading,
// which is never rewritten, so replacing body lines cannot move it.
func (r *ResponseSession) bodyRow(ctx context.Context) (int, error) {
	row, _, err := r.host.MarkPosition(ctx, r.buf, r.mark)
	if err != nil {
		return 0, err
	}
	return row + 1, nil
}

// Spinning reports whether the loading indicator is still shown.
func (r *ResponseSession) Spinning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

func (r *ResponseSession) Append(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLoading()

	lines := r.acc.Append(text)
	row, err := r.bodyRow(ctx)
	if err != nil {
		return fmt.Errorf("locate assistant slot: %w", err)
	}
	from := max(r.rendered-1, 0)
	if err := r.host.SetLines(ctx, r.buf, row+from, row+r.rendered, append([]string(nil), lines[from:]...)); err != nil {
		return fmt.Errorf("render response: %w", err)
	}
	r.rendered = len(lines)
	return nil
}

func (r *ResponseSession) Finalize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLoading()
	if r.released {
		return nil
	}
	defer r.release(ctx)

	body, block, found := ExtractFollowUps(r.acc.Text())
	var raw any
	if found {
		raw = block
	}

	lines := host.SplitLines(body)
	var entries []FollowUp
	if r.followUps && found {
		entries = NormalizeFollowUps(block)
		if len(entries) > 0 {
			lines = append(lines, "")
			lines = append(lines, RenderFollowUps(entries)...)
		}
	}
	lines = append(lines, "")

	row, err := r.bodyRow(ctx)
	if err == nil {
		err = r.host.SetLines(ctx, r.buf, row, row+r.rendered, lines)
	}
	r.m.finishResponse(r.sessionID, body, raw)
	if err != nil {
		return fmt.Errorf("render response: %w", err)
	}
	return nil
}

func (r *ResponseSession) Fail(ctx context.Context, reason any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLoading()
	if r.released {
		return
	}
	defer r.release(ctx)

	partial := r.acc.Text()
	diag := host.SplitLines(output.ErrorPrefix + output.FormatReason(reason))
	r.m.finishResponse(r.sessionID, partial, nil)

	row, err := r.bodyRow(ctx)
	if err != nil {
		r.m.logger.Warn("chat: cannot annotate failure", "error", err)
		return
	}
	start, end := row+r.rendered, row+r.rendered
	lines := append([]string{""}, diag...)
	if partial == "" {
		start, end, lines = row, row+r.rendered, diag
	}
	if err := r.host.SetLines(ctx, r.buf, start, end, append(lines, "")); err != nil {
		r.m.logger.Warn("chat: cannot annotate failure", "error", err)
	}
}

func (r *ResponseSession) release(ctx context.Context) {
	if r.released {
		return
	}
	r.released = true
	if err := r.host.DeleteMark(ctx, r.buf, r.mark); err != nil {
		r.m.logger.Debug("chat: delete mark", "error", err)
	}
}

func (r *ResponseSession) Target() output.Target {
	return output.Target{Mode: output.ModeChat, Buffer: r.buf}
}

var _ output.Session = (*ResponseSession)(nil)
