// Package plugin is the request surface the editor talks to. Every RPC
// call lands in App.Handle, which validates the payload synchronously and
// hands accepted generations to background jobs.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/nvim-llm/internal/chat"
	"github.com/samsaffron/nvim-llm/internal/config"
	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/jobs"
	"github.com/samsaffron/nvim-llm/internal/llm"
	"github.com/samsaffron/nvim-llm/internal/output"
	"github.com/samsaffron/nvim-llm/internal/templates"
	"github.com/samsaffron/nvim-llm/internal/usage"
)

// Options wire an App.
type Options struct {
	Host   host.Host
	Config *config.Store
	// Executors builds one executor per job. Defaults to llm.NewExecutor.
	Executors llm.Factory
	// Templates defaults to the built-in registry backed by Host.
	Templates *templates.Registry
	Ledger    *usage.Logger
	Logs      *chat.LogStore
	Logger    *slog.Logger
	// OnConfigChange runs after every accepted configuration change.
	OnConfigChange func(config.Config)
}

// App dispatches editor requests. It is safe for concurrent use.
type App struct {
	base      context.Context
	host      host.Host
	store     *config.Store
	executors llm.Factory
	templates *templates.Registry
	registry  *jobs.Registry
	runner    *jobs.Runner
	chat      *chat.Manager
	logs      *chat.LogStore
	logger    *slog.Logger

	mu      sync.Mutex
	compose *composeState
	wg      sync.WaitGroup
}

// New creates an App. Jobs derive their context from ctx, so cancelling it
// stops everything in flight.
func New(ctx context.Context, opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executors := opts.Executors
	if executors == nil {
		executors = llm.NewExecutor
	}
	tmpl := opts.Templates
	if tmpl == nil {
		tmpl = templates.NewRegistry(opts.Host)
	}
	registry := jobs.NewRegistry()

	a := &App{
		base:      ctx,
		host:      opts.Host,
		store:     opts.Config,
		executors: executors,
		templates: tmpl,
		registry:  registry,
		runner:    jobs.NewRunner(registry, opts.Ledger, logger),
		logs:      opts.Logs,
		logger:    logger,
	}
	chatOpts := a.chatOptions(opts.Config.Current())
	chatOpts.Logger = logger
	a.chat = chat.NewManager(opts.Host, chatOpts)

	opts.Config.OnChange(func(cfg config.Config) {
		a.chat.SetOptions(a.chatOptions(cfg))
		if opts.OnConfigChange != nil {
			opts.OnConfigChange(cfg)
		}
		a.logger.Info("configuration updated", "default_provider", cfg.DefaultProvider, "default_output", cfg.DefaultOutput)
	})
	return a
}

func (a *App) chatOptions(cfg config.Config) chat.Options {
	return chat.Options{
		HistoryLimit: cfg.Chat.HistoryLimit,
		FollowUps:    cfg.Chat.FollowUps,
		Layout:       cfg.Chat.Layout,
		Autosave:     cfg.Chat.Autosave,
		Logs:         a.logs,
	}
}

// Chat returns the chat manager.
func (a *App) Chat() *chat.Manager { return a.chat }

// Jobs returns the job registry.
func (a *App) Jobs() *jobs.Registry { return a.registry }

// Handle runs one editor request. Validation and configuration errors are
// returned here; failures of accepted jobs are rendered into their output
// destination instead.
func (a *App) Handle(ctx context.Context, method string, payload map[string]any) (result any, err error) {
	a.logger.Debug("request", "method", method)
	defer func() {
		if err != nil {
			a.logger.Warn("request failed", "method", method, "error", err)
		}
	}()

	switch method {
	case MethodApply:
		var req ApplyRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.Apply(ctx, req)
	case MethodStopJob:
		var req StopRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.registry.Stop(req.ID), nil
	case MethodListJobs:
		return a.registry.List(), nil
	case MethodChatOpen:
		var req ChatOpenRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.ChatOpen(ctx, req)
	case MethodChatSubmit:
		var req ChatSubmitRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.ChatSubmit(ctx, req)
	case MethodChatClose:
		return a.ChatClose(ctx)
	case MethodChatResume:
		var req ChatResumeRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.ChatResume(ctx, req)
	case MethodChatApplyFollowUp:
		var req FollowUpRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.ChatApplyFollowUp(ctx, req)
	case MethodChatSave:
		return a.chat.Save(ctx)
	case MethodChatHistory:
		var req HistoryRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.chat.History(ctx, req.Query, req.Limit)
	case MethodComposeOpen:
		var req ApplyRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return a.ComposeOpen(ctx, req)
	case MethodComposeSubmit:
		return a.ComposeSubmit(ctx)
	case MethodComposeClose:
		return a.ComposeClose(ctx), nil
	case MethodCurrentConfig:
		return a.store.Current().Redacted(), nil
	case MethodUpdateConfig:
		cfg, err := a.store.Update(payload)
		if err != nil {
			return nil, err
		}
		return cfg.Redacted(), nil
	}
	return nil, &llm.ValidationError{Field: "method", Reason: fmt.Sprintf("unknown method %q", method)}
}

// Apply starts a generation into the requested output destination.
func (a *App) Apply(ctx context.Context, req ApplyRequest) (JobSummary, error) {
	cfg := a.store.Current()
	name, pc, err := cfg.Provider(req.Provider)
	if err != nil {
		return JobSummary{}, err
	}
	if req.Model != "" {
		pc.Model = req.Model
	}
	mode, err := a.resolveMode(cfg, req.Out, req.Template)
	if err != nil {
		return JobSummary{}, err
	}

	tctx := templates.NewContext(req.Selection)
	prompt, err := a.buildPrompt(ctx, req.Template, req.Prompt, req.System, tctx, req.Args)
	if err != nil {
		return JobSummary{}, err
	}

	if mode == output.ModeChat {
		return a.applyToChat(ctx, req, name, prompt, a.completion(req, prompt, tctx))
	}

	exec, err := a.executors(ctx, name, pc)
	if err != nil {
		return JobSummary{}, err
	}
	llmReq := llm.Request{
		Provider:  name,
		Model:     pc.Model,
		System:    prompt.System,
		Messages:  []llm.Message{llm.UserText(prompt.Prompt)},
		MaxTokens: pc.MaxTokens,
	}

	job := a.registry.Register(a.base, jobs.Options{
		Provider: name,
		Model:    pc.Model,
		Mode:     string(mode),
		Timeout:  requestTimeout(pc),
	})
	stream, err := exec.Execute(job.Context(), llmReq)
	if err != nil {
		a.registry.Finalize(job.ID)
		return JobSummary{}, err
	}
	session, err := output.New(ctx, a.host, mode, output.Options{
		Selection: req.Selection,
		Register:  req.Register,
		Title:     scratchTitle(req.Template),
	})
	if err != nil {
		a.registry.Stop(job.ID)
		stream.Close()
		a.registry.Finalize(job.ID)
		return JobSummary{}, err
	}

	run := jobs.Run{
		Job:        job,
		Session:    session,
		Stream:     stream,
		Template:   req.Template,
		OnComplete: a.completion(req, prompt, tctx),
	}
	a.launch(run)
	a.logger.Info("job accepted", "job", job.ID, "provider", name, "mode", mode, "template", req.Template)
	return JobSummary{ID: job.ID, Status: job.Status(), Out: string(mode)}, nil
}

// completion runs the template's completion callback once the job is
// applied. It is nil for requests without a template.
func (a *App) completion(req ApplyRequest, prompt templates.Prompt, tctx templates.Context) jobs.CompletionFunc {
	if req.Template == "" {
		return nil
	}
	return func(ctx context.Context, res jobs.Result) error {
		return a.templates.Complete(ctx, req.Template, templates.Completion{
			Prompt:   prompt.Prompt,
			System:   prompt.System,
			Response: res.Text,
			Chunks:   res.Chunks,
			Target:   res.Target,
			Usage:    res.Usage,
			Context:  tctx,
			Args:     req.Args,
		})
	}
}

func (a *App) launch(run jobs.Run) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runner.Run(a.base, run)
	}()
}

// resolveMode picks the explicit mode, then the template's, then the
// configured default.
func (a *App) resolveMode(cfg config.Config, out, template string) (output.Mode, error) {
	if out == "" && template != "" {
		out = string(a.templates.DefaultOutput(template))
	}
	if out == "" {
		out = cfg.DefaultOutput
	}
	return output.ParseMode(out)
}

// buildPrompt runs the template when no explicit prompt is given. An
// explicit prompt has its {{variables}} expanded; with neither, the
// selection text is the prompt.
func (a *App) buildPrompt(ctx context.Context, template, prompt, system string, tctx templates.Context, args map[string]any) (templates.Prompt, error) {
	if prompt == "" && template != "" {
		return a.templates.Build(ctx, template, tctx, args)
	}
	if prompt == "" {
		prompt = tctx.Text
	} else {
		prompt = templates.Expand(prompt, tctx, args)
	}
	if strings.TrimSpace(prompt) == "" {
		return templates.Prompt{}, &llm.ValidationError{Field: "prompt", Reason: "missing prompt"}
	}
	return templates.Prompt{Prompt: prompt, System: templates.Expand(system, tctx, args)}, nil
}

// requestTimeout is the job-level timeout. CLI executors enforce their own
// so the subprocess gets a signal first.
func requestTimeout(pc config.ProviderConfig) time.Duration {
	if pc.Type.IsCLI() {
		return 0
	}
	return pc.Timeout
}

func scratchTitle(template string) string {
	if template == "" {
		return "nvim-llm"
	}
	return "nvim-llm: " + template
}

// Wait blocks until every launched job has finished.
func (a *App) Wait() {
	a.wg.Wait()
}

// Shutdown stops every job and waits for them to finish, or for ctx.
func (a *App) Shutdown(ctx context.Context) error {
	if n := a.registry.StopAll(); n > 0 {
		a.logger.Info("stopping jobs", "count", n)
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("jobs still running at shutdown"), ctx.Err())
	}
}
