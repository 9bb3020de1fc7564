package llm

import (
	"context"
	"fmt"

	"github.com/samsaffron/nvim-llm/internal/config"
)

// ProviderKind identifies a wire protocol.
type ProviderKind string

const (
	KindOpenAI    ProviderKind = "openai"
	KindAnthropic ProviderKind = "anthropic"
	KindGemini    ProviderKind = "gemini"
	KindCodex     ProviderKind = "codex"
	KindClaude    ProviderKind = "claude"
)

// Executor turns a resolved request into a chunk stream. Cancelling ctx
// aborts the underlying fetch or signals the subprocess.
type Executor interface {
	Execute(ctx context.Context, req Request) (ChunkStream, error)
}

// NewExecutor builds the executor for one configured provider. Secrets in
// pc are resolved here.
func NewExecutor(ctx context.Context, name string, pc config.ProviderConfig) (Executor, error) {
	typ := config.InferProviderType(name, pc.Type)
	pc.Type = typ
	resolved, err := config.ResolveProvider(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	switch typ {
	case config.ProviderTypeOpenAI, config.ProviderTypeAnthropic, config.ProviderTypeGemini:
		return NewHTTPExecutor(HTTPOptions{
			Kind:      ProviderKind(typ),
			Name:      name,
			BaseURL:   resolved.BaseURL,
			APIKey:    resolved.APIKey,
			Model:     resolved.Model,
			MaxTokens: resolved.MaxTokens,
		}), nil
	case config.ProviderTypeCodex, config.ProviderTypeClaude:
		return NewCLIExecutor(CLIOptions{
			Kind:    ProviderKind(typ),
			Name:    name,
			Command: resolved.Cmd,
			Args:    resolved.Args,
			Model:   resolved.Model,
			Timeout: resolved.Timeout,
		}), nil
	default:
		return nil, &config.Error{Field: "providers." + name + ".type", Reason: fmt.Sprintf("unsupported provider type %q", typ)}
	}
}

// Factory creates executors by provider name. The plugin resolves one per
// job so configuration updates apply to the next request.
type Factory func(ctx context.Context, name string, pc config.ProviderConfig) (Executor, error)
