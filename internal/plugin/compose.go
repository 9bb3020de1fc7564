package plugin

import (
	"context"
	"strings"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/llm"
	"github.com/samsaffron/nvim-llm/internal/templates"
)

// composeState is the open prompt-editing buffer and the request it will
// run.
type composeState struct {
	buf host.Buffer
	req ApplyRequest
}

// ComposeOpen opens a buffer pre-filled with the prompt the request would
// send. Submitting runs the edited prompt through Apply. An already open
// compose buffer is discarded.
func (a *App) ComposeOpen(ctx context.Context, req ApplyRequest) (ComposeInfo, error) {
	mode, err := a.resolveMode(a.store.Current(), req.Out, req.Template)
	if err != nil {
		return ComposeInfo{}, err
	}
	req.Out = string(mode)

	tctx := templates.NewContext(req.Selection)
	initial := req.Prompt
	switch {
	case initial == "" && req.Template != "":
		p, err := a.templates.Build(ctx, req.Template, tctx, req.Args)
		if err != nil {
			return ComposeInfo{}, err
		}
		initial, req.System = p.Prompt, p.System
	case initial == "":
		initial = tctx.Text
	default:
		initial = templates.Expand(initial, tctx, req.Args)
	}

	a.ComposeClose(ctx)
	buf, err := a.host.OpenCompose(ctx, scratchTitle(req.Template), host.SplitLines(initial))
	if err != nil {
		return ComposeInfo{}, err
	}
	a.mu.Lock()
	a.compose = &composeState{buf: buf, req: req}
	a.mu.Unlock()
	return ComposeInfo{Buffer: buf, Template: req.Template, Out: req.Out}, nil
}

// ComposeSubmit runs the compose buffer's content. The buffer closes only
// when the job was accepted.
func (a *App) ComposeSubmit(ctx context.Context) (JobSummary, error) {
	st := a.takeCompose()
	if st == nil {
		return JobSummary{}, &llm.ValidationError{Field: "compose", Reason: "no compose buffer is open"}
	}
	lines, err := a.host.Lines(ctx, st.buf, 0, -1)
	if err != nil {
		a.restoreCompose(st)
		return JobSummary{}, err
	}
	req := st.req
	req.Prompt = strings.TrimSpace(strings.Join(lines, "\n"))
	if req.Prompt == "" {
		a.restoreCompose(st)
		return JobSummary{}, &llm.ValidationError{Field: "prompt", Reason: "missing prompt"}
	}

	summary, err := a.Apply(ctx, req)
	if err != nil {
		a.restoreCompose(st)
		return JobSummary{}, err
	}
	if err := a.host.CloseSurface(ctx, st.buf); err != nil {
		a.logger.Debug("close compose buffer", "error", err)
	}
	return summary, nil
}

// ComposeClose discards the compose buffer. It reports whether one was
// open.
func (a *App) ComposeClose(ctx context.Context) bool {
	st := a.takeCompose()
	if st == nil {
		return false
	}
	if err := a.host.CloseSurface(ctx, st.buf); err != nil {
		a.logger.Debug("close compose buffer", "error", err)
	}
	return true
}

func (a *App) takeCompose() *composeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.compose
	a.compose = nil
	return st
}

func (a *App) restoreCompose(st *composeState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.compose == nil {
		a.compose = st
	}
}
