package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Store holds the live configuration. The effective value is defaults,
// then the config file, then environment, then updates pushed by the
// editor through Update. The file is kept as a settings snapshot; viper
// instances that read from disk are never shared.
type Store struct {
	mu        sync.RWMutex
	path      string
	fileUsed  string
	settings  map[string]any
	overrides *viper.Viper
	current   Config
	listeners []func(Config)
}

// NewStore creates a store reading path. An empty path uses the default
// location.
func NewStore(path string) *Store {
	return &Store{path: path, overrides: viper.New()}
}

// Load reads the config file, if any, and validates the result.
func (s *Store) Load() error {
	file := viper.New()
	file.SetConfigType("yaml")
	if s.path != "" {
		file.SetConfigFile(s.path)
	} else if def, err := GetConfigPath(); err == nil {
		file.SetConfigName("config")
		file.AddConfigPath(filepath.Dir(def))
	}
	if err := file.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(s.path == "" && isMissing(err)) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	settings := file.AllSettings()

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.build(settings, s.overrides)
	if err != nil {
		return err
	}
	s.fileUsed = file.ConfigFileUsed()
	s.settings = settings
	s.current = cfg
	return nil
}

// Current returns a copy of the effective configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// ConfigFile returns the file the store was loaded from, if any.
func (s *Store) ConfigFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fileUsed
}

// Update merges patch into the runtime overrides. An update that would
// produce an invalid configuration is rejected and nothing changes.
func (s *Store) Update(patch map[string]any) (Config, error) {
	s.mu.Lock()
	next := viper.New()
	if err := next.MergeConfigMap(s.overrides.AllSettings()); err != nil {
		s.mu.Unlock()
		return Config{}, fmt.Errorf("merge overrides: %w", err)
	}
	if err := next.MergeConfigMap(patch); err != nil {
		s.mu.Unlock()
		return Config{}, fmt.Errorf("merge update: %w", err)
	}
	cfg, err := s.build(s.settings, next)
	if err != nil {
		s.mu.Unlock()
		return Config{}, err
	}
	s.overrides = next
	s.current = cfg
	listeners := append([]func(Config){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg.Clone())
	}
	return cfg.Clone(), nil
}

// OnChange registers fn to be called after every successful update or
// reload.
func (s *Store) OnChange(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Watch reloads the config file when it changes on disk. Invalid edits are
// reported through onError and the previous configuration stays active.
func (s *Store) Watch(onError func(error)) {
	path := s.ConfigFile()
	if path == "" {
		return
	}
	watcher := viper.New()
	watcher.SetConfigType("yaml")
	watcher.SetConfigFile(path)
	watcher.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := s.reload(path); err != nil && onError != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
		}
	})
	watcher.WatchConfig()
}

// reload reads path into a fresh viper and swaps the snapshot in.
func (s *Store) reload(path string) error {
	file := viper.New()
	file.SetConfigType("yaml")
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return err
	}
	settings := file.AllSettings()

	s.mu.Lock()
	cfg, err := s.build(settings, s.overrides)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.settings = settings
	s.current = cfg
	listeners := append([]func(Config){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg.Clone())
	}
	return nil
}

func (s *Store) build(settings map[string]any, overrides *viper.Viper) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NVIM_LLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if settings != nil {
		if err := v.MergeConfigMap(settings); err != nil {
			return Config{}, fmt.Errorf("merge config file: %w", err)
		}
	}
	if overrides != nil {
		if err := v.MergeConfigMap(overrides.AllSettings()); err != nil {
			return Config{}, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Chat.LogDir = ExpandPath(cfg.Chat.LogDir)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	cfg.Usage.Dir = ExpandPath(cfg.Usage.Dir)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_provider", "openai")
	v.SetDefault("default_output", "replace")

	v.SetDefault("providers.openai.model", "gpt-5.2")
	v.SetDefault("providers.openai.api_key", "$OPENAI_API_KEY")
	v.SetDefault("providers.openai.base_url", "https://api.openai.com")
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("providers.anthropic.api_key", "$ANTHROPIC_API_KEY")
	v.SetDefault("providers.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("providers.anthropic.max_tokens", 4096)
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.gemini.api_key", "$GEMINI_API_KEY")
	v.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("providers.codex.cmd", "codex")
	v.SetDefault("providers.codex.timeout", 10*time.Minute)
	v.SetDefault("providers.claude.cmd", "claude")
	v.SetDefault("providers.claude.timeout", 10*time.Minute)

	v.SetDefault("chat.log_dir", filepath.Join(DataDir(), "chats"))
	v.SetDefault("chat.history_limit", 20)
	v.SetDefault("chat.follow_ups", true)
	v.SetDefault("chat.log_format", "markdown")
	v.SetDefault("chat.layout", "vertical")
	v.SetDefault("chat.autosave", false)

	v.SetDefault("log.file", filepath.Join(StateDir(), "nvim-llm.log"))
	v.SetDefault("log.level", "info")

	v.SetDefault("usage.enabled", true)
	v.SetDefault("usage.dir", filepath.Join(DataDir(), "usage"))
}

func isMissing(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}
