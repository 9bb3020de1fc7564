// Package templates maps template ids to prompt builders and completion
// hooks. Builders are either Go closures registered at startup or live in
// the host and are reached through host.Host.
package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/llm"
	"github.com/samsaffron/nvim-llm/internal/output"
)

// Prompt is what a builder produces.
type Prompt struct {
	Prompt string
	System string
}

// Completion is handed to a template's completion hook once its job was
// applied.
type Completion struct {
	Template string         `mapstructure:"template"`
	Prompt   string         `mapstructure:"prompt"`
	System   string         `mapstructure:"system"`
	Response string         `mapstructure:"response"`
	Chunks   []llm.Chunk    `mapstructure:"chunks"`
	Target   output.Target  `mapstructure:"target"`
	Usage    llm.Usage      `mapstructure:"usage"`
	Context  Context        `mapstructure:"context"`
	Args     map[string]any `mapstructure:"args"`
}

// Builder turns a context and caller arguments into a prompt.
type Builder func(ctx context.Context, tctx Context, args map[string]any) (Prompt, error)

// CompletionHook runs after the template's output was applied.
type CompletionHook func(ctx context.Context, c Completion) error

// Template is one registered template.
type Template struct {
	ID          string
	Description string
	// Output is the default output mode when the request names none.
	Output   output.Mode
	Build    Builder
	Complete CompletionHook
}

// ErrUnknownTemplate is returned for ids neither registered nor known to
// the host.
var ErrUnknownTemplate = errors.New("unknown template")

// CallbackError wraps a failing completion hook. It is logged and never
// changes the outcome of the job.
type CallbackError struct {
	Template string
	Err      error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("template %s completion: %v", e.Template, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Registry holds Go templates and falls back to the host for ids it does
// not know.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
	host      host.Host
}

// NewRegistry creates a registry holding the built-in templates. h may be
// nil, in which case only Go templates resolve.
func NewRegistry(h host.Host) *Registry {
	r := &Registry{templates: map[string]Template{}, host: h}
	for _, t := range builtins() {
		r.templates[t.ID] = t
	}
	return r
}

// Register adds or replaces a Go template.
func (r *Registry) Register(t Template) error {
	if strings.TrimSpace(t.ID) == "" {
		return &llm.ValidationError{Field: "template", Reason: "template id is empty"}
	}
	if t.Build == nil {
		return &llm.ValidationError{Field: "template", Reason: fmt.Sprintf("template %s has no builder", t.ID)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Lookup returns a Go template by id.
func (r *Registry) Lookup(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// IDs returns the ids of every Go template, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultOutput returns the preferred output mode of a Go template, or ""
// when it has none.
func (r *Registry) DefaultOutput(id string) output.Mode {
	t, _ := r.Lookup(id)
	return t.Output
}

// Build resolves a template into a prompt. An empty prompt is a validation
// error.
func (r *Registry) Build(ctx context.Context, id string, tctx Context, args map[string]any) (Prompt, error) {
	var (
		p   Prompt
		err error
	)
	if t, ok := r.Lookup(id); ok {
		p, err = t.Build(ctx, tctx, args)
	} else {
		p, err = r.buildInHost(ctx, id, tctx, args)
	}
	if err != nil {
		return Prompt{}, fmt.Errorf("template %s: %w", id, err)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return Prompt{}, &llm.ValidationError{Field: "prompt", Reason: fmt.Sprintf("template %s produced an empty prompt", id)}
	}
	return p, nil
}

func (r *Registry) buildInHost(ctx context.Context, id string, tctx Context, args map[string]any) (Prompt, error) {
	if r.host == nil {
		return Prompt{}, ErrUnknownTemplate
	}
	m, err := toMap(tctx)
	if err != nil {
		return Prompt{}, err
	}
	res, err := r.host.RunTemplateBuilder(ctx, id, m, args)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Prompt: res.Prompt, System: res.System}, nil
}

// Complete runs the completion hook of template id. Go templates without a
// hook are a no-op; host templates always get the call. Failures and panics
// come back as *CallbackError.
func (r *Registry) Complete(ctx context.Context, id string, c Completion) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &CallbackError{Template: id, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	c.Template = id

	if t, ok := r.Lookup(id); ok {
		if t.Complete == nil {
			return nil
		}
		if err := t.Complete(ctx, c); err != nil {
			return &CallbackError{Template: id, Err: err}
		}
		return nil
	}
	if r.host == nil {
		return nil
	}
	m, err := toMap(c)
	if err != nil {
		return &CallbackError{Template: id, Err: err}
	}
	if err := r.host.RunTemplateCompletion(ctx, id, m); err != nil {
		return &CallbackError{Template: id, Err: err}
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	var m map[string]any
	if err := mapstructure.Decode(v, &m); err != nil {
		return nil, fmt.Errorf("encode template context: %w", err)
	}
	return m, nil
}
