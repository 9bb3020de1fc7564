package logging

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samsaffron/nvim-llm/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nvim-llm.log")
	l, err := New(config.LogConfig{File: path, Level: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("job started", "job", "abc", "provider", "openai")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"level=DEBUG", `msg="job started"`, "job=abc", "provider=openai"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log missing %q:\n%s", want, data)
		}
	}
}

func TestLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	l, err := New(config.LogConfig{File: path, Level: "warn"})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if l.Level() != slog.LevelWarn {
		t.Fatalf("level = %v", l.Level())
	}

	l.Info("hidden")
	l.Apply(config.LogConfig{File: path, Level: "info"})
	l.Info("shown")
	l.Apply(config.LogConfig{File: path, Level: "bogus"})
	if l.Level() != slog.LevelInfo {
		t.Errorf("bad level changed the logger: %v", l.Level())
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Errorf("log:\n%s", data)
	}
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	var cerr *config.Error
	if !errors.As(err, &cerr) || cerr.Field != "log.level" {
		t.Errorf("New = %v", err)
	}
}
