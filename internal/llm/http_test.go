package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/nvim-llm/internal/config"
)

type collected struct {
	text   string
	chunks int
	done   bool
	usage  Usage
	err    error
}

func drain(t *testing.T, s ChunkStream) collected {
	t.Helper()
	defer s.Close()
	var out collected
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			out.err = err
			return out
		}
		out.chunks++
		if text, ok := c.Text(); ok {
			out.text += text
		}
		out.usage.Merge(c.Usage)
		out.done = out.done || c.Done
	}
}

func sseServer(t *testing.T, check func(*http.Request, map[string]any), events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		if check != nil {
			check(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprint(w, ev)
			w.(http.Flusher).Flush()
		}
	}))
}

func TestHTTPExecutor_OpenAI(t *testing.T) {
	srv := sseServer(t, func(r *http.Request, body map[string]any) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if body["stream"] != true {
			t.Errorf("stream flag missing: %v", body)
		}
		if body["model"] != "gpt-test" {
			t.Errorf("model = %v", body["model"])
		}
		if body["instructions"] != "be terse" {
			t.Errorf("instructions = %v", body["instructions"])
		}
		input, _ := body["input"].([]any)
		if len(input) != 1 {
			t.Errorf("input = %v", body["input"])
		}
	},
		"event: response.created\ndata: {\"type\":\"response.created\",\"response\":{}}\n\n",
		"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"Hello\"}\n\n",
		"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\", world\"}\n\n",
		"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":5,\"output_tokens\":3}}}\n\n",
	)
	defer srv.Close()

	exec := NewHTTPExecutor(HTTPOptions{Kind: KindOpenAI, BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test"})
	stream, err := exec.Execute(context.Background(), Request{System: "be terse", Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := drain(t, stream)
	if got.err != nil {
		t.Fatalf("stream error: %v", got.err)
	}
	if got.text != "Hello, world" || !got.done {
		t.Errorf("text=%q done=%v", got.text, got.done)
	}
	if got.usage.Input() != 5 || got.usage.Output() != 3 {
		t.Errorf("usage = %d/%d", got.usage.Input(), got.usage.Output())
	}
}

func TestHTTPExecutor_Anthropic(t *testing.T) {
	srv := sseServer(t, func(r *http.Request, body map[string]any) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("headers = %v", r.Header)
		}
		if body["max_tokens"] != float64(256) {
			t.Errorf("max_tokens = %v", body["max_tokens"])
		}
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 3 {
			t.Errorf("messages = %v", body["messages"])
		}
	},
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":11}}}\n\n",
		"event: ping\ndata: {\"type\":\"ping\"}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Sure\"}}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":4}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	)
	defer srv.Close()

	exec := NewHTTPExecutor(HTTPOptions{Kind: KindAnthropic, BaseURL: srv.URL, APIKey: "ak", Model: "claude-test", MaxTokens: 256})
	stream, err := exec.Execute(context.Background(), Request{Messages: []Message{
		UserText("q1"), AssistantText("a1"), UserText("q2"),
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := drain(t, stream)
	if got.err != nil {
		t.Fatalf("stream error: %v", got.err)
	}
	if got.text != "Sure" || !got.done || got.usage.Input() != 11 || got.usage.Output() != 4 {
		t.Errorf("got %+v", got)
	}
}

func TestHTTPExecutor_GeminiArrayAndNDJSON(t *testing.T) {
	bodies := map[string]string{
		"array": `[{"candidates":[{"content":{"parts":[{"text":"Hi"}]}}]}
,{"candidates":[{"content":{"parts":[{"text":" there"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}]`,
		"ndjson": `{"candidates":[{"content":{"parts":[{"text":"Hi"}]}}]}
{"candidates":[{"content":{"parts":[{"text":" there"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}
`,
	}
	for name, payload := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1beta/models/gemini-test:streamGenerateContent" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if r.Header.Get("x-goog-api-key") != "gk" {
					t.Errorf("missing api key header")
				}
				var body struct {
					Contents []struct {
						Role  string `json:"role"`
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					} `json:"contents"`
					SystemInstruction *struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					} `json:"systemInstruction"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode body: %v", err)
				}
				var roles []string
				for _, c := range body.Contents {
					roles = append(roles, c.Role)
				}
				if !reflect.DeepEqual(roles, []string{"user", "model", "user"}) || body.Contents[2].Parts[0].Text != "again" {
					t.Errorf("contents = %+v", body.Contents)
				}
				if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "sys" {
					t.Errorf("systemInstruction = %+v", body.SystemInstruction)
				}
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, payload)
			}))
			defer srv.Close()

			exec := NewHTTPExecutor(HTTPOptions{Kind: KindGemini, BaseURL: srv.URL + "/", APIKey: "gk", Model: "gemini-test"})
			stream, err := exec.Execute(context.Background(), Request{
				System:   "sys",
				Messages: []Message{UserText("hello"), AssistantText("hey")},
			})
			if err == nil {
				t.Fatal("a conversation ending with an assistant turn must be rejected")
			}
			stream, err = exec.Execute(context.Background(), Request{
				System:   "sys",
				Messages: []Message{UserText("hello"), AssistantText("hey"), UserText("again")},
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			got := drain(t, stream)
			if got.err != nil {
				t.Fatalf("stream error: %v", got.err)
			}
			if got.text != "Hi there" || !got.done || got.usage.Output() != 2 {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestHTTPExecutor_Non2xxFailsBeforeChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid api key"}}`)
	}))
	defer srv.Close()

	for _, kind := range []ProviderKind{KindOpenAI, KindAnthropic} {
		t.Run(string(kind), func(t *testing.T) {
			exec := NewHTTPExecutor(HTTPOptions{Kind: kind, BaseURL: srv.URL, APIKey: "bad", Model: "m"})
			stream, err := exec.Execute(context.Background(), Request{Messages: []Message{UserText("hi")}})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			got := drain(t, stream)
			if got.chunks != 0 {
				t.Errorf("received %d chunks before the failure", got.chunks)
			}
			var terr *TransportError
			if !errors.As(got.err, &terr) {
				t.Fatalf("error = %v, want TransportError", got.err)
			}
			if terr.Status != http.StatusUnauthorized || !strings.Contains(terr.Body, "invalid api key") {
				t.Errorf("TransportError = %+v", terr)
			}
		})
	}
}

func TestHTTPExecutor_StreamErrorEvent(t *testing.T) {
	srv := sseServer(t, nil,
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"par\"}\n\n",
		"data: {\"type\":\"error\",\"message\":\"server overloaded\"}\n\n",
	)
	defer srv.Close()

	exec := NewHTTPExecutor(HTTPOptions{Kind: KindOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "m"})
	stream, err := exec.Execute(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, stream)
	if got.text != "par" {
		t.Errorf("partial text = %q", got.text)
	}
	var perr *ProviderError
	if !errors.As(got.err, &perr) {
		t.Errorf("error = %v, want ProviderError", got.err)
	}
}

func TestHTTPExecutor_CancelReportsCause(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"x\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancelCause(context.Background())
	exec := NewHTTPExecutor(HTTPOptions{Kind: KindOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "m"})
	stream, err := exec.Execute(ctx, Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	cancel(ErrStopped)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()
	select {
	case err := <-done:
		if !IsStopped(err) {
			t.Errorf("Recv after stop = %v, want ErrStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after cancellation")
	}
}

func TestHTTPExecutor_MissingAPIKey(t *testing.T) {
	exec := NewHTTPExecutor(HTTPOptions{Kind: KindAnthropic, Name: "work", Model: "m"})
	_, err := exec.Execute(context.Background(), Request{Messages: []Message{UserText("hi")}})
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) || cfgErr.Field != "providers.work.api_key" {
		t.Errorf("error = %v, want config error for api_key", err)
	}
}

func TestHTTPExecutor_RejectsEmptyPrompt(t *testing.T) {
	exec := NewHTTPExecutor(HTTPOptions{Kind: KindOpenAI, APIKey: "k"})
	_, err := exec.Execute(context.Background(), Request{Messages: []Message{UserText("   ")}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

func TestNewExecutor(t *testing.T) {
	t.Setenv("NVIM_LLM_TEST_OPENAI", "from-env")
	exec, err := NewExecutor(context.Background(), "openai", config.ProviderConfig{APIKey: "$NVIM_LLM_TEST_OPENAI", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	h, ok := exec.(*HTTPExecutor)
	if !ok {
		t.Fatalf("executor = %T, want *HTTPExecutor", exec)
	}
	if h.opts.APIKey != "from-env" || h.opts.BaseURL != defaultBaseURLs[KindOpenAI] {
		t.Errorf("opts = %+v", h.opts)
	}

	exec, err = NewExecutor(context.Background(), "claude", config.ProviderConfig{Cmd: "claude"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := exec.(*CLIExecutor); !ok {
		t.Errorf("executor = %T, want *CLIExecutor", exec)
	}

	if _, err := NewExecutor(context.Background(), "mystery", config.ProviderConfig{}); err == nil {
		t.Error("expected error for unknown provider type")
	}
}
