package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/samsaffron/nvim-llm/internal/llm"
	"github.com/samsaffron/nvim-llm/internal/output"
	"github.com/samsaffron/nvim-llm/internal/usage"
)

// StoppedReason is the failure reason handed to a session when its job was
// stopped on request.
const StoppedReason = "Job stopped"

// Result is the outcome of one run.
type Result struct {
	JobID  string
	Status Status
	Text   string
	Chunks []llm.Chunk
	Usage  llm.Usage
	Target output.Target
	Err    error
}

// CompletionFunc runs after a job was applied. Its failure is logged and
// never changes the job outcome.
type CompletionFunc func(ctx context.Context, res Result) error

// Run is one job ready to be driven.
type Run struct {
	Job        *Job
	Session    output.Session
	Stream     llm.ChunkStream
	Template   string
	OnComplete CompletionFunc
}

// Runner drives chunk streams into output sessions.
type Runner struct {
	Registry *Registry
	// Ledger records usage of applied jobs when set.
	Ledger *usage.Logger
	Logger *slog.Logger
}

// NewRunner creates a runner over registry.
func NewRunner(registry *Registry, ledger *usage.Logger, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Registry: registry, Ledger: ledger, Logger: logger}
}

// Run drives run to a terminal status and removes the job from the
// registry. ctx is used for host calls made by the session; the stream is
// bound to the job's own context.
func (r *Runner) Run(ctx context.Context, run Run) Result {
	job := run.Job
	log := r.Logger.With("job", job.ID, "provider", job.Options.Provider, "mode", job.Options.Mode)
	defer r.Registry.Finalize(job.ID)
	defer run.Stream.Close()

	res := Result{JobID: job.ID, Target: run.Session.Target()}
	var text strings.Builder

	r.Registry.UpdateStatus(job.ID, StatusStreaming)
	log.Debug("job streaming", "model", job.Options.Model)

	err := func() error {
		for {
			chunk, err := run.Stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			res.Chunks = append(res.Chunks, chunk)
			if delta, ok := chunk.Text(); ok {
				text.WriteString(delta)
				log.Debug("job delta", "bytes", len(delta))
				if err := run.Session.Append(ctx, delta); err != nil {
					return fmt.Errorf("render delta: %w", err)
				}
			}
			res.Usage.Merge(chunk.Usage)
		}
	}()
	res.Text = text.String()

	switch {
	case job.Stopped():
		run.Session.Fail(ctx, StoppedReason)
		res.Status = StatusStopped
		log.Info("job stopped")
	case err != nil:
		run.Session.Fail(ctx, err)
		res.Status, res.Err = StatusError, err
		log.Warn("job failed", "error", err)
	default:
		if err := run.Session.Finalize(ctx); err != nil {
			run.Session.Fail(ctx, err)
			res.Status, res.Err = StatusError, err
			log.Warn("job finalize failed", "error", err)
			break
		}
		res.Status = StatusApplied
		log.Info("job applied", "input_tokens", res.Usage.Input(), "output_tokens", res.Usage.Output())
	}

	r.Registry.UpdateStatus(job.ID, res.Status)

	if res.Status == StatusApplied {
		r.recordUsage(log, job, run.Template, res.Usage)
		if run.OnComplete != nil {
			r.complete(ctx, log, run.OnComplete, res)
		}
	}
	return res
}

func (r *Runner) recordUsage(log *slog.Logger, job *Job, template string, u llm.Usage) {
	if r.Ledger == nil || u.IsZero() {
		return
	}
	err := r.Ledger.Log(usage.LogEntry{
		Timestamp:    time.Now(),
		JobID:        job.ID,
		Provider:     job.Options.Provider,
		Model:        job.Options.Model,
		Mode:         job.Options.Mode,
		Template:     template,
		InputTokens:  u.Input(),
		OutputTokens: u.Output(),
	})
	if err != nil {
		log.Warn("usage ledger write failed", "error", err)
	}
}

func (r *Runner) complete(ctx context.Context, log *slog.Logger, fn CompletionFunc, res Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn("completion callback panicked", "panic", fmt.Sprint(p))
		}
	}()
	if err := fn(ctx, res); err != nil {
		log.Warn("completion callback failed", "error", err)
	}
}
