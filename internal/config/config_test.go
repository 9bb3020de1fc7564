package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{
		DefaultProvider: "anthropic",
		Providers: map[string]ProviderConfig{
			"anthropic": {Model: "claude-sonnet-4-5"},
			"openai":    {Model: "gpt-5.2"},
		},
	}

	cfg.ApplyOverrides("openai", "gpt-4o")
	if cfg.DefaultProvider != "openai" {
		t.Fatalf("provider=%q, want %q", cfg.DefaultProvider, "openai")
	}
	if cfg.Providers["openai"].Model != "gpt-4o" {
		t.Fatalf("openai model=%q, want %q", cfg.Providers["openai"].Model, "gpt-4o")
	}
	if cfg.Providers["anthropic"].Model != "claude-sonnet-4-5" {
		t.Fatalf("anthropic model changed unexpectedly: %q", cfg.Providers["anthropic"].Model)
	}

	cfg.ApplyOverrides("", "o3")
	if cfg.DefaultProvider != "openai" {
		t.Fatalf("provider changed unexpectedly: %q", cfg.DefaultProvider)
	}
	if cfg.Providers["openai"].Model != "o3" {
		t.Fatalf("openai model=%q, want %q", cfg.Providers["openai"].Model, "o3")
	}
}

func TestInferProviderType(t *testing.T) {
	tests := []struct {
		name     string
		explicit ProviderType
		want     ProviderType
	}{
		{"anthropic", "", ProviderTypeAnthropic},
		{"openai", "", ProviderTypeOpenAI},
		{"gemini", "", ProviderTypeGemini},
		{"codex", "", ProviderTypeCodex},
		{"claude", "", ProviderTypeClaude},
		{"claude-code", "", ProviderTypeClaude},
		{"work", "", ""},
		{"work", ProviderTypeOpenAI, ProviderTypeOpenAI},
		{"anthropic", ProviderTypeClaude, ProviderTypeClaude},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := InferProviderType(tc.name, tc.explicit)
			if got != tc.want {
				t.Errorf("InferProviderType(%q, %q) = %q, want %q", tc.name, tc.explicit, got, tc.want)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestStoreLoadDefaults(t *testing.T) {
	path := writeConfig(t, "default_output: scratch\n")
	store := NewStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := store.Current()
	if cfg.DefaultOutput != "scratch" {
		t.Errorf("DefaultOutput = %q, want scratch", cfg.DefaultOutput)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want openai", cfg.DefaultProvider)
	}
	if cfg.Chat.HistoryLimit != 20 {
		t.Errorf("HistoryLimit = %d, want 20", cfg.Chat.HistoryLimit)
	}
	if got := cfg.Providers["codex"].Timeout; got != 10*time.Minute {
		t.Errorf("codex timeout = %v, want 10m", got)
	}
	if store.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q, want %q", store.ConfigFile(), path)
	}
}

func TestStoreLoadProviders(t *testing.T) {
	path := writeConfig(t, `
default_provider: work
providers:
  work:
    type: anthropic
    model: claude-opus-4-1
    args: [--verbose]
    timeout: 30s
`)
	store := NewStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := store.Current()
	name, pc, err := cfg.Provider("")
	if err != nil {
		t.Fatalf("Provider: %v", err)
	}
	if name != "work" || pc.Type != ProviderTypeAnthropic || pc.Model != "claude-opus-4-1" {
		t.Errorf("Provider() = %q %+v", name, pc)
	}
	if pc.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", pc.Timeout)
	}
	if _, ok := cfg.Providers["openai"]; !ok {
		t.Error("default providers should still be present")
	}
}

func TestStoreLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
default_output: sideways
chat:
  history_limit: 0
  log_format: pdf
`)
	err := NewStore(path).Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, field := range []string{"default_output", "chat.history_limit", "chat.log_format"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("error should unwrap to *config.Error: %T", err)
	}
}

func TestStoreUpdate(t *testing.T) {
	store := NewStore(writeConfig(t, "default_provider: openai\n"))
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var notified []string
	store.OnChange(func(c Config) { notified = append(notified, c.DefaultOutput) })

	cfg, err := store.Update(map[string]any{
		"default_output": "chat",
		"chat":           map[string]any{"follow_ups": false},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cfg.DefaultOutput != "chat" || cfg.Chat.FollowUps {
		t.Errorf("Update result = %+v", cfg)
	}
	if cfg.Chat.HistoryLimit != 20 {
		t.Errorf("nested merge dropped sibling keys: history_limit=%d", cfg.Chat.HistoryLimit)
	}

	// A second update keeps earlier overrides.
	cfg, err = store.Update(map[string]any{"chat": map[string]any{"layout": "horizontal"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cfg.DefaultOutput != "chat" || cfg.Chat.Layout != "horizontal" {
		t.Errorf("second update = %+v", cfg)
	}

	if _, err := store.Update(map[string]any{"default_provider": "nope"}); err == nil {
		t.Fatal("expected invalid update to fail")
	}
	if got := store.Current().DefaultProvider; got != "openai" {
		t.Errorf("rejected update leaked: default_provider=%q", got)
	}
	if len(notified) != 2 {
		t.Errorf("listeners called %d times, want 2", len(notified))
	}
}

func TestStoreWatchReloadsAlongsideUpdates(t *testing.T) {
	path := writeConfig(t, "default_output: replace\n")
	store := NewStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	store.Watch(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := store.Update(map[string]any{"chat": map[string]any{"history_limit": i + 1}}); err != nil {
				t.Errorf("Update: %v", err)
				return
			}
		}
	}()
	if err := os.WriteFile(path, []byte("default_output: scratch\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for store.Current().DefaultOutput != "scratch" {
		if time.Now().After(deadline) {
			t.Fatal("file change was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := store.Current().Chat.HistoryLimit; got != 50 {
		t.Errorf("reload dropped runtime overrides: history_limit=%d", got)
	}
	if store.ConfigFile() != path {
		t.Errorf("ConfigFile = %q, want %q", store.ConfigFile(), path)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{Providers: map[string]ProviderConfig{
		"a": {APIKey: "sk-secret"},
		"b": {APIKey: "$OPENAI_API_KEY"},
		"c": {APIKey: "op://vault/item/key"},
	}}
	out := cfg.Redacted()
	if out.Providers["a"].APIKey == "sk-secret" {
		t.Error("literal key not redacted")
	}
	if out.Providers["b"].APIKey != "$OPENAI_API_KEY" || out.Providers["c"].APIKey != "op://vault/item/key" {
		t.Errorf("references should be kept: %+v", out.Providers)
	}
	if cfg.Providers["a"].APIKey != "sk-secret" {
		t.Error("Redacted mutated the original")
	}
}

func TestResolveValue(t *testing.T) {
	t.Setenv("NVIM_LLM_TEST_KEY", "from-env")
	ctx := context.Background()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"literal", "literal"},
		{"$NVIM_LLM_TEST_KEY", "from-env"},
		{"${NVIM_LLM_TEST_KEY}", "from-env"},
		{"$(echo hello)", "hello"},
	}
	for _, tc := range tests {
		got, err := ResolveValue(ctx, tc.in)
		if err != nil {
			t.Fatalf("ResolveValue(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ResolveValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveProviderFallsBackToEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	pc, err := ResolveProvider(context.Background(), ProviderConfig{
		Type:    ProviderTypeAnthropic,
		BaseURL: "https://example.test/",
	})
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if pc.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", pc.APIKey)
	}
	if pc.BaseURL != "https://example.test" {
		t.Errorf("BaseURL = %q, trailing slash not trimmed", pc.BaseURL)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/chats"); got != filepath.Join(home, "chats") {
		t.Errorf("ExpandPath(~/chats) = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(/abs/path) = %q", got)
	}
}
