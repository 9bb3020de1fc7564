package llm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	stderrLimit   = 16 * 1024
	cliWaitDelay  = 3 * time.Second
	maxScanBuffer = 10 * 1024 * 1024
)

// CLIOptions configures a subprocess-backed provider.
type CLIOptions struct {
	Kind    ProviderKind
	Name    string
	Command string
	Args    []string
	Model   string
	Timeout time.Duration
	Env     []string
}

// CLIExecutor runs a local provider CLI per request. Output is read line by
// line from stdout; stderr is kept for diagnostics.
type CLIExecutor struct {
	opts CLIOptions
}

// NewCLIExecutor creates a CLI executor.
func NewCLIExecutor(opts CLIOptions) *CLIExecutor {
	if opts.Name == "" {
		opts.Name = string(opts.Kind)
	}
	if opts.Command == "" {
		opts.Command = string(opts.Kind)
	}
	return &CLIExecutor{opts: opts}
}

func (e *CLIExecutor) Execute(ctx context.Context, req Request) (ChunkStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	args, payload, err := e.invocation(req)
	if err != nil {
		return nil, err
	}
	return newChunkStream(ctx, func(ctx context.Context, ch chan<- streamItem) error {
		return e.run(ctx, req, args, payload, ch)
	}), nil
}

// invocation returns the argument vector and stdin payload for req.
func (e *CLIExecutor) invocation(req Request) ([]string, []byte, error) {
	model := chooseModel(req.Model, e.opts.Model)
	cont := req.Continuation
	if cont == nil {
		cont = &Continuation{}
	}
	switch e.opts.Kind {
	case KindClaude:
		payload, err := claudeStdin(req)
		if err != nil {
			return nil, nil, fmt.Errorf("encode claude input: %w", err)
		}
		return claudeArgs(model, req.System, e.opts.Args, cont.SessionID), payload, nil
	case KindCodex:
		return codexArgs(model, e.opts.Args, cont.ThreadID), codexStdin(req), nil
	default:
		return nil, nil, &ValidationError{Field: "provider", Reason: fmt.Sprintf("%q is not a CLI provider", e.opts.Kind)}
	}
}

// stopSignal is what the CLI expects when asked to stop early. codex
// finishes its turn cleanly on SIGINT; claude on SIGTERM.
func (e *CLIExecutor) stopSignal() os.Signal {
	if e.opts.Kind == KindCodex {
		return os.Interrupt
	}
	return syscall.SIGTERM
}

func (e *CLIExecutor) run(ctx context.Context, req Request, args []string, payload []byte, ch chan<- streamItem) error {
	runCtx, cancel := withTimeout(ctx, e.opts.Name, e.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.opts.Command, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(e.stopSignal()) }
	cmd.WaitDelay = cliWaitDelay
	if len(e.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), e.opts.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	slog.Debug("starting provider cli", "provider", e.opts.Name, "cmd", e.opts.Command, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return &TransportError{Provider: e.opts.Name, Err: fmt.Errorf("failed to start %s: %w", e.opts.Command, err)}
	}

	var (
		g       errgroup.Group
		errTail tailBuffer
	)
	g.Go(func() error {
		defer stdin.Close()
		if _, err := stdin.Write(payload); err != nil && !isClosedPipe(err) {
			return fmt.Errorf("write stdin: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.Copy(&errTail, stderr); err != nil && !isClosedPipe(err) {
			return fmt.Errorf("read stderr: %w", err)
		}
		return nil
	})

	norm := NewCLINormalizer(e.opts.Kind, req.Hooks)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxScanBuffer)

	var eventErr error
	for scanner.Scan() {
		c, err := norm.Normalize(scanner.Bytes())
		if err != nil {
			// Keep draining so the process is not blocked on a full pipe.
			if eventErr == nil {
				eventErr = err
			}
			continue
		}
		if c == nil || eventErr != nil {
			continue
		}
		if err := send(runCtx, ch, *c); err != nil {
			break
		}
	}
	scanErr := scanner.Err()
	if runCtx.Err() != nil {
		// The reader may have stopped early; let the pipes close.
		_, _ = io.Copy(io.Discard, stdout)
	}
	ioErr := g.Wait()
	waitErr := cmd.Wait()

	if runCtx.Err() != nil {
		return context.Cause(runCtx)
	}
	if eventErr != nil {
		return eventErr
	}
	if waitErr != nil {
		return &TransportError{
			Provider: e.opts.Name,
			Err:      fmt.Errorf("%s exited: %w", e.opts.Command, waitErr),
			Body:     strings.TrimSpace(errTail.String()),
		}
	}
	if scanErr != nil {
		return fmt.Errorf("error reading %s output: %w", e.opts.Command, scanErr)
	}
	if ioErr != nil {
		return ioErr
	}
	return nil
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// tailBuffer keeps the last stderrLimit bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - stderrLimit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
