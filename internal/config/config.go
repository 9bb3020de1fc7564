package config

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// ProviderType selects the wire protocol of a provider entry.
type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeGemini    ProviderType = "gemini"
	ProviderTypeCodex     ProviderType = "codex"
	ProviderTypeClaude    ProviderType = "claude"
)

// IsCLI reports whether the provider runs as a local subprocess.
func (t ProviderType) IsCLI() bool {
	return t == ProviderTypeCodex || t == ProviderTypeClaude
}

var knownTypes = []ProviderType{
	ProviderTypeOpenAI,
	ProviderTypeAnthropic,
	ProviderTypeGemini,
	ProviderTypeCodex,
	ProviderTypeClaude,
}

// InferProviderType returns explicit when set, otherwise the type implied
// by the provider's name. Unknown names yield "".
func InferProviderType(name string, explicit ProviderType) ProviderType {
	if explicit != "" {
		return explicit
	}
	candidate := ProviderType(strings.ToLower(name))
	if candidate == "claude-code" {
		return ProviderTypeClaude
	}
	if slices.Contains(knownTypes, candidate) {
		return candidate
	}
	return ""
}

// OutputModes lists the accepted default_output values.
var OutputModes = []string{"replace", "append", "register", "scratch", "chat"}

type Config struct {
	DefaultProvider string                    `mapstructure:"default_provider" yaml:"default_provider" json:"default_provider"`
	DefaultOutput   string                    `mapstructure:"default_output" yaml:"default_output" json:"default_output"`
	Providers       map[string]ProviderConfig `mapstructure:"providers" yaml:"providers" json:"providers"`
	Chat            ChatConfig                `mapstructure:"chat" yaml:"chat" json:"chat"`
	Log             LogConfig                 `mapstructure:"log" yaml:"log" json:"log"`
	Usage           UsageConfig               `mapstructure:"usage" yaml:"usage" json:"usage"`
}

type ProviderConfig struct {
	Type      ProviderType  `mapstructure:"type" yaml:"type,omitempty" json:"type,omitempty"`
	Model     string        `mapstructure:"model" yaml:"model,omitempty" json:"model,omitempty"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Cmd       string        `mapstructure:"cmd" yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Args      []string      `mapstructure:"args" yaml:"args,omitempty" json:"args,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

type ChatConfig struct {
	LogDir       string `mapstructure:"log_dir" yaml:"log_dir" json:"log_dir"`
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit" json:"history_limit"`
	FollowUps    bool   `mapstructure:"follow_ups" yaml:"follow_ups" json:"follow_ups"`
	LogFormat    string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Layout       string `mapstructure:"layout" yaml:"layout" json:"layout"`
	Autosave     bool   `mapstructure:"autosave" yaml:"autosave" json:"autosave"`
}

type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file" json:"file"`
	Level string `mapstructure:"level" yaml:"level" json:"level"`
}

type UsageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Error is one configuration problem. Validate aggregates them.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ApplyOverrides switches the default provider and, when model is set,
// that provider's model.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.DefaultProvider = provider
	}
	if model == "" {
		return
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	pc := c.Providers[c.DefaultProvider]
	pc.Model = model
	c.Providers[c.DefaultProvider] = pc
}

// Provider looks up a provider entry by name, falling back to the default
// provider when name is empty. The returned entry has its type inferred.
func (c *Config) Provider(name string) (string, ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	pc, ok := c.Providers[strings.ToLower(name)]
	if !ok {
		return name, ProviderConfig{}, &Error{Field: "providers." + name, Reason: "unknown provider"}
	}
	pc.Type = InferProviderType(name, pc.Type)
	return strings.ToLower(name), pc, nil
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(field, format string, args ...any) {
		result = multierror.Append(result, &Error{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if !slices.Contains(OutputModes, c.DefaultOutput) {
		add("default_output", "unknown output mode %q", c.DefaultOutput)
	}
	if _, ok := c.Providers[strings.ToLower(c.DefaultProvider)]; !ok {
		add("default_provider", "provider %q is not configured", c.DefaultProvider)
	}
	for _, name := range slices.Sorted(maps.Keys(c.Providers)) {
		pc := c.Providers[name]
		field := "providers." + name
		typ := InferProviderType(name, pc.Type)
		switch {
		case typ == "":
			add(field+".type", "cannot infer provider type, set one of %v", knownTypes)
		case !slices.Contains(knownTypes, typ):
			add(field+".type", "unknown provider type %q", typ)
		case typ.IsCLI() && pc.Cmd == "":
			add(field+".cmd", "required for %s providers", typ)
		case !typ.IsCLI() && pc.Model == "":
			add(field+".model", "required for %s providers", typ)
		}
		if pc.Timeout < 0 {
			add(field+".timeout", "must not be negative")
		}
		if pc.MaxTokens < 0 {
			add(field+".max_tokens", "must not be negative")
		}
	}
	if c.Chat.HistoryLimit < 1 {
		add("chat.history_limit", "must be at least 1, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.LogFormat != "markdown" && c.Chat.LogFormat != "html" {
		add("chat.log_format", "must be markdown or html, got %q", c.Chat.LogFormat)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		add("log.level", "%v", err)
	}
	return result.ErrorOrNil()
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, pc := range c.Providers {
		pc.Args = slices.Clone(pc.Args)
		out.Providers[name] = pc
	}
	return out
}

// Redacted returns a copy with literal API keys masked. References such
// as $VAR or op:// are kept since they are not secrets themselves.
func (c Config) Redacted() Config {
	out := c.Clone()
	for name, pc := range out.Providers {
		if pc.APIKey != "" && !isReference(pc.APIKey) {
			pc.APIKey = "********"
			out.Providers[name] = pc
		}
	}
	return out
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func isReference(v string) bool {
	return strings.HasPrefix(v, "$") || strings.HasPrefix(v, "op://")
}

// GetConfigPath returns the path where the config file should be located.
func GetConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "nvim-llm", "config.yaml"), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "nvim-llm", "config.yaml"), nil
}

// DataDir is where chat logs and the usage ledger live by default.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local/share")
}

// StateDir is where the log file lives by default.
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", ".local/state")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "nvim-llm")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nvim-llm")
	}
	return filepath.Join(home, fallback, "nvim-llm")
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
