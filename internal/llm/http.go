package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/samsaffron/nvim-llm/internal/config"
)

const maxErrorBody = 64 * 1024

var defaultBaseURLs = map[ProviderKind]string{
	KindOpenAI:    "https://api.openai.com",
	KindAnthropic: "https://api.anthropic.com",
	KindGemini:    "https://generativelanguage.googleapis.com",
}

// HTTPOptions configures a streaming HTTP provider.
type HTTPOptions struct {
	Kind      ProviderKind
	Name      string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// HTTPExecutor streams from a vendor HTTP API. OpenAI and Anthropic are
// reached through their SDK clients and answer with server-sent events;
// Gemini answers with a JSON array or one JSON object per line.
type HTTPExecutor struct {
	opts      HTTPOptions
	openai    openai.Client
	anthropic anthropic.Client
}

// NewHTTPExecutor creates an HTTP executor.
func NewHTTPExecutor(opts HTTPOptions) *HTTPExecutor {
	if opts.Name == "" {
		opts.Name = string(opts.Kind)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURLs[opts.Kind]
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	e := &HTTPExecutor{opts: opts}
	switch opts.Kind {
	case KindOpenAI:
		e.openai = newOpenAIClient(opts)
	case KindAnthropic:
		e.anthropic = newAnthropicClient(opts)
	}
	return e
}

func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (ChunkStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.opts.APIKey == "" {
		return nil, &config.Error{Field: "providers." + e.opts.Name + ".api_key", Reason: "missing API key"}
	}
	var post func(ctx context.Context) (*http.Response, error)
	switch e.opts.Kind {
	case KindOpenAI:
		params := openAIParams(req, e.opts.Model, e.opts.MaxTokens)
		post = func(ctx context.Context) (*http.Response, error) {
			return postOpenAI(ctx, &e.openai, params)
		}
	case KindAnthropic:
		params := anthropicParams(req, e.opts.Model, e.opts.MaxTokens)
		post = func(ctx context.Context) (*http.Response, error) {
			return postAnthropic(ctx, &e.anthropic, params)
		}
	case KindGemini:
		model := chooseModel(req.Model, e.opts.Model)
		endpoint := e.opts.BaseURL + "/v1beta/models/" + url.PathEscape(model) + ":streamGenerateContent"
		body, err := geminiBody(req, e.opts.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s request: %w", e.opts.Name, err)
		}
		post = func(ctx context.Context) (*http.Response, error) {
			return e.postGemini(ctx, endpoint, body)
		}
	default:
		return nil, &ValidationError{Field: "provider", Reason: fmt.Sprintf("%q is not an HTTP provider", e.opts.Kind)}
	}

	return newChunkStream(ctx, func(ctx context.Context, ch chan<- streamItem) error {
		slog.Debug("provider request", "provider", e.opts.Name, "kind", e.opts.Kind)
		resp, err := post(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return e.transportError(err)
		}
		defer resp.Body.Close()

		if e.opts.Kind == KindGemini {
			err = e.readJSONStream(ctx, resp.Body, ch)
		} else {
			err = e.readSSE(ctx, resp, ch)
		}
		if err != nil && ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}), nil
}

// postGemini sends the request directly. Non-2xx answers come back as a
// TransportError with the body attached.
func (e *HTTPExecutor) postGemini(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", e.opts.APIKey)

	resp, err := e.opts.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &TransportError{
			Provider: e.opts.Name,
			Status:   resp.StatusCode,
			Body:     readErrorBody(resp),
		}
	}
	return resp, nil
}

// transportError maps SDK API errors and connection failures.
func (e *HTTPExecutor) transportError(err error) error {
	var (
		terr *TransportError
		oerr *openai.Error
		aerr *anthropic.Error
	)
	switch {
	case errors.As(err, &terr):
		return terr
	case errors.As(err, &oerr):
		return &TransportError{Provider: e.opts.Name, Status: oerr.StatusCode, Body: apiErrorBody(oerr.Response, oerr.RawJSON())}
	case errors.As(err, &aerr):
		return &TransportError{Provider: e.opts.Name, Status: aerr.StatusCode, Body: apiErrorBody(aerr.Response, aerr.RawJSON())}
	}
	return &TransportError{Provider: e.opts.Name, Err: err}
}

func apiErrorBody(resp *http.Response, raw string) string {
	if resp != nil && resp.Body != nil {
		if body := readErrorBody(resp); body != "" {
			return body
		}
	}
	return truncate(strings.TrimSpace(raw), 2000)
}

func readErrorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return truncate(strings.TrimSpace(string(data)), 2000)
}

func (e *HTTPExecutor) readSSE(ctx context.Context, resp *http.Response, ch chan<- streamItem) error {
	dec := ssestream.NewDecoder(resp)
	defer dec.Close()
	for dec.Next() {
		c, err := Normalize(e.opts.Kind, dec.Event().Data)
		if err != nil {
			return err
		}
		if c == nil {
			continue
		}
		if err := send(ctx, ch, *c); err != nil {
			return err
		}
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("error reading %s stream: %w", e.opts.Name, err)
	}
	return nil
}

// readJSONStream decodes either a streamed JSON array or a sequence of
// JSON objects.
func (e *HTTPExecutor) readJSONStream(ctx context.Context, body io.Reader, ch chan<- streamItem) error {
	br := bufio.NewReader(body)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading %s stream: %w", e.opts.Name, err)
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("error reading %s stream: %w", e.opts.Name, err)
		}
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("error decoding %s stream: %w", e.opts.Name, err)
		}
		c, err := Normalize(e.opts.Kind, raw)
		if err != nil {
			return err
		}
		if c == nil {
			continue
		}
		if err := send(ctx, ch, *c); err != nil {
			return err
		}
	}
	return nil
}

func peekNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, r.UnreadByte()
	}
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
