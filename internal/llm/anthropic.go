package llm

import (
	"context"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

func newAnthropicClient(opts HTTPOptions) anthropic.Client {
	return anthropic.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(opts.BaseURL+"/"),
		option.WithHTTPClient(opts.Client),
		option.WithMaxRetries(0),
		option.WithHeader("anthropic-version", anthropicVersion),
		option.WithHeader("Accept", "text/event-stream"),
	)
}

// anthropicParams builds a Messages API request.
func anthropicParams(req Request, defaultModel string, maxTokens int) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, defaultModel)),
		MaxTokens: int64(firstPositive(req.MaxTokens, maxTokens, anthropicDefaultMaxTokens)),
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

func postAnthropic(ctx context.Context, client *anthropic.Client, params anthropic.MessageNewParams) (*http.Response, error) {
	var resp *http.Response
	err := client.Post(ctx, "v1/messages", params, &resp, option.WithJSONSet("stream", true))
	return resp, err
}
