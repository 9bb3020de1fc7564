package chat

import (
	"fmt"
	"strings"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/llm"
	"github.com/samsaffron/nvim-llm/internal/output"
)

const (
	userHeading      = "## User"
	assistantHeading = "## Assistant"
)

// spinnerFrames animate the loading line before the first token.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func loadingLine(frame int) string {
	return spinnerFrames[frame%len(spinnerFrames)] + " thinking..."
}

// headerLines renders the response surface header.
func headerLines(s *Session) []string {
	title := "nvim-llm chat"
	if s.Provider != "" {
		title += " · " + s.Provider
		if s.Model != "" {
			title += "/" + s.Model
		}
	}
	if s.Template != "" {
		title += fmt.Sprintf(" [%s]", s.Template)
	}
	return []string{title, output.Ruler(title), ""}
}

func roleHeading(r llm.Role) string {
	if r == llm.RoleAssistant {
		return assistantHeading
	}
	return userHeading
}

// messageLines renders one message block, including its trailing blank
// line.
func messageLines(m llm.Message) []string {
	lines := []string{roleHeading(m.Role)}
	lines = append(lines, host.SplitLines(m.Content)...)
	return append(lines, "")
}

// RenderTranscript renders messages as they appear in the response
// surface, without the header.
func RenderTranscript(messages []llm.Message) string {
	var lines []string
	for _, m := range messages {
		lines = append(lines, messageLines(m)...)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
