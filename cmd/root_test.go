package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/samsaffron/nvim-llm/internal/exitcode"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), exitcode.Error},
		{"config", exitcode.Config(errors.New("bad yaml")), exitcode.BadConfig},
		{"missing", exitcode.Missing("chat not found"), exitcode.NotFound},
		{"wrapped exit error", fmt.Errorf("show: %w", exitcode.Missing("x")), exitcode.NotFound},
		{"interrupted", fmt.Errorf("search chats: %w", context.Canceled), exitcode.Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
