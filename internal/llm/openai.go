package llm

import (
	"context"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

func newOpenAIClient(opts HTTPOptions) openai.Client {
	return openai.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(opts.BaseURL+"/v1/"),
		option.WithHTTPClient(opts.Client),
		option.WithMaxRetries(0),
		option.WithHeader("Accept", "text/event-stream"),
	)
}

// openAIParams builds a Responses API request.
func openAIParams(req Request, defaultModel string, maxTokens int) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(chooseModel(req.Model, defaultModel)),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: buildOpenAIInput(req.Messages),
		},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if n := firstPositive(req.MaxTokens, maxTokens); n > 0 {
		params.MaxOutputTokens = openai.Int(int64(n))
	}
	return params
}

func buildOpenAIInput(messages []Message) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(messages))
	for _, msg := range messages {
		role := responses.EasyInputMessageRoleUser
		if msg.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, role))
	}
	return items
}

// postOpenAI starts a streaming Responses request and hands back the raw
// event stream. Events are read by the caller so error events stay typed.
func postOpenAI(ctx context.Context, client *openai.Client, params responses.ResponseNewParams) (*http.Response, error) {
	var resp *http.Response
	err := client.Post(ctx, "responses", params, &resp, option.WithJSONSet("stream", true))
	return resp, err
}
