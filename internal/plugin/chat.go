package plugin

import (
	"context"
	"strings"

	"github.com/samsaffron/nvim-llm/internal/chat"
	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/jobs"
	"github.com/samsaffron/nvim-llm/internal/llm"
	"github.com/samsaffron/nvim-llm/internal/output"
	"github.com/samsaffron/nvim-llm/internal/templates"
)

func chatInfo(s chat.Session) ChatInfo {
	return ChatInfo{
		ID:              s.ID,
		Prompt:          s.PromptSurface,
		Response:        s.ResponseSurface,
		Provider:        s.Provider,
		Model:           s.Model,
		Template:        s.Template,
		Messages:        len(s.Messages),
		FollowUpEnabled: s.FollowUpEnabled,
	}
}

// ChatOpen opens the chat UI, archiving any active chat first. A template
// with a selection pre-fills the prompt surface.
func (a *App) ChatOpen(ctx context.Context, req ChatOpenRequest) (ChatInfo, error) {
	cfg := a.store.Current()
	name, pc, err := cfg.Provider(req.Provider)
	if err != nil {
		return ChatInfo{}, err
	}
	model := req.Model
	if model == "" {
		model = pc.Model
	}

	prompt := req.Prompt
	if req.Selection != nil {
		tctx := templates.NewContext(*req.Selection)
		switch {
		case prompt == "" && req.Template != "":
			p, err := a.templates.Build(ctx, req.Template, tctx, req.Args)
			if err != nil {
				return ChatInfo{}, err
			}
			prompt = p.Prompt
		case prompt != "":
			prompt = templates.Expand(prompt, tctx, req.Args)
		}
	}

	a.stopChatJob()
	s, err := a.chat.Open(ctx, chat.OpenOptions{
		Template:  req.Template,
		Provider:  name,
		Model:     model,
		Layout:    req.Layout,
		Origin:    req.Selection,
		FollowUps: req.FollowUps,
		Prompt:    prompt,
	})
	if err != nil {
		return ChatInfo{}, err
	}
	return chatInfo(s), nil
}

// ChatSubmit sends the prompt to the active chat's provider and streams
// the reply into the response surface.
func (a *App) ChatSubmit(ctx context.Context, req ChatSubmitRequest) (JobSummary, error) {
	return a.chatSubmit(ctx, req, "", nil)
}

func (a *App) chatSubmit(ctx context.Context, req ChatSubmitRequest, system string, complete jobs.CompletionFunc) (JobSummary, error) {
	active, ok := a.chat.Active()
	if !ok {
		return JobSummary{}, chat.ErrNoActiveSession
	}
	cfg := a.store.Current()
	name := req.Provider
	if name == "" {
		name = active.Provider
	}
	name, pc, err := cfg.Provider(name)
	if err != nil {
		return JobSummary{}, err
	}
	switch {
	case req.Model != "":
		pc.Model = req.Model
	case name == active.Provider && active.Model != "":
		pc.Model = active.Model
	}
	exec, err := a.executors(ctx, name, pc)
	if err != nil {
		return JobSummary{}, err
	}

	sub, err := a.chat.BeginSubmit(ctx, chat.SubmitOptions{Prompt: req.Prompt, Provider: name, Model: pc.Model})
	if err != nil {
		return JobSummary{}, err
	}
	s := sub.Session

	if s.FollowUpEnabled {
		system = strings.TrimSpace(system + "\n\n" + chat.FollowUpInstruction)
	}
	llmReq := llm.Request{
		Provider:  name,
		Model:     pc.Model,
		System:    system,
		Messages:  mergeTurns(s.Messages),
		MaxTokens: pc.MaxTokens,
		Hooks: llm.Hooks{
			OnThreadStarted: func(id string) {
				a.chat.SetProviderContextFor(s.ID, chat.ProviderContext{Provider: name, ThreadID: id})
			},
			OnSessionID: func(id string) {
				a.chat.SetProviderContextFor(s.ID, chat.ProviderContext{Provider: name, SessionID: id})
			},
		},
	}
	if pc.Type.IsCLI() {
		llmReq.Continuation = s.ProviderContext.Continuation()
	}

	job := a.registry.Register(a.base, jobs.Options{
		Provider: name,
		Model:    pc.Model,
		Mode:     string(output.ModeChat),
		Timeout:  requestTimeout(pc),
	})
	stream, err := exec.Execute(job.Context(), llmReq)
	if err != nil {
		a.registry.Finalize(job.ID)
		a.chat.AbortSubmit(ctx, s.ID, err)
		return JobSummary{}, err
	}
	rs, err := a.chat.NewResponseSession(a.base, job.Context())
	if err != nil {
		a.registry.Stop(job.ID)
		stream.Close()
		a.registry.Finalize(job.ID)
		a.chat.AbortSubmit(ctx, s.ID, err)
		return JobSummary{}, err
	}
	a.chat.SetJob(s.ID, job.ID)
	a.launch(jobs.Run{Job: job, Session: rs, Stream: stream, Template: s.Template, OnComplete: complete})
	a.logger.Info("chat job accepted", "job", job.ID, "chat", s.ID, "provider", name, "messages", len(s.Messages))
	return JobSummary{ID: job.ID, Status: job.Status(), Out: string(output.ModeChat)}, nil
}

// applyToChat routes an apply with out=chat through the chat UI, opening
// it when needed. complete runs once the reply is applied.
func (a *App) applyToChat(ctx context.Context, req ApplyRequest, provider string, prompt templates.Prompt, complete jobs.CompletionFunc) (JobSummary, error) {
	if _, ok := a.chat.Active(); !ok {
		sel := req.Selection
		if _, err := a.ChatOpen(ctx, ChatOpenRequest{
			Template:  req.Template,
			Provider:  provider,
			Model:     req.Model,
			Selection: &sel,
		}); err != nil {
			return JobSummary{}, err
		}
	}
	return a.chatSubmit(ctx, ChatSubmitRequest{Prompt: prompt.Prompt, Provider: provider, Model: req.Model}, prompt.System, complete)
}

// ChatClose stops the chat's job, archives the chat and closes its
// surfaces.
func (a *App) ChatClose(ctx context.Context) (ChatInfo, error) {
	a.stopChatJob()
	s, err := a.chat.Close(ctx)
	if err != nil {
		return ChatInfo{}, err
	}
	return chatInfo(s), nil
}

// ChatResume reopens an archived or saved chat.
func (a *App) ChatResume(ctx context.Context, req ChatResumeRequest) (ChatInfo, error) {
	if strings.TrimSpace(req.ID) == "" {
		return ChatInfo{}, &llm.ValidationError{Field: "id", Reason: "missing chat id"}
	}
	a.stopChatJob()
	s, err := a.chat.Resume(ctx, req.ID)
	if err != nil {
		return ChatInfo{}, err
	}
	return chatInfo(s), nil
}

// ChatApplyFollowUp submits a follow-up, or places it in the prompt
// surface when Submit is false.
func (a *App) ChatApplyFollowUp(ctx context.Context, req FollowUpRequest) (any, error) {
	text, err := a.chat.FollowUp(req.Key)
	if err != nil {
		return nil, err
	}
	if req.Submit == nil || *req.Submit {
		return a.ChatSubmit(ctx, ChatSubmitRequest{Prompt: text})
	}
	s, ok := a.chat.Active()
	if !ok {
		return nil, chat.ErrNoActiveSession
	}
	if err := a.host.SetLines(ctx, s.PromptSurface, 0, -1, host.SplitLines(text)); err != nil {
		return nil, err
	}
	return chatInfo(s), nil
}

func (a *App) stopChatJob() {
	if s, ok := a.chat.Active(); ok && s.JobID != "" {
		if a.registry.Stop(s.JobID) {
			a.logger.Info("stopped chat job", "job", s.JobID, "chat", s.ID)
		}
	}
}

// mergeTurns joins consecutive messages of the same role. A failed reply
// leaves two user turns in a row, which providers reject.
func mergeTurns(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
