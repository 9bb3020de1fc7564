package llm

import (
	"encoding/json"
	"strings"
)

// claudeArgs builds the claude CLI argument vector. --resume is a flag and
// may appear anywhere, so it goes last.
func claudeArgs(model, system string, extra []string, sessionID string) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if system != "" {
		args = append(args, "--system-prompt", system)
	}
	args = append(args, extra...)
	if sessionID != "" {
		args = append(args, "--resume", sessionID)
	}
	return args
}

// codexArgs builds the codex CLI argument vector. resume is a subcommand of
// exec and must follow the exec options, right before the "-" stdin marker.
func codexArgs(model string, extra []string, threadID string) []string {
	args := []string{"exec", "--json"}
	if model != "" {
		args = append(args, "-m", model)
	}
	args = append(args, extra...)
	if threadID != "" {
		args = append(args, "resume", threadID)
	}
	return append(args, "-")
}

// claudeStdin encodes the user turn in the stream-json input format.
func claudeStdin(req Request) ([]byte, error) {
	prompt := req.LastUserMessage()
	if req.Continuation == nil || req.Continuation.SessionID == "" {
		prompt = conversationPrompt(req.Messages)
	}
	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
			},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// codexStdin is the plain prompt text. codex has no system prompt flag, so
// the system prompt is prepended.
func codexStdin(req Request) []byte {
	var b strings.Builder
	if req.Continuation == nil || req.Continuation.ThreadID == "" {
		if req.System != "" {
			b.WriteString(req.System)
			b.WriteString("\n\n")
		}
		b.WriteString(conversationPrompt(req.Messages))
	} else {
		b.WriteString(req.LastUserMessage())
	}
	return []byte(b.String())
}

// conversationPrompt flattens a conversation for CLIs that take a single
// prompt. A lone user message is passed through untouched.
func conversationPrompt(messages []Message) string {
	if len(messages) == 1 && messages[0].Role == RoleUser {
		return messages[0].Content
	}
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case RoleUser:
			parts = append(parts, "User: "+msg.Content)
		case RoleAssistant:
			parts = append(parts, "Assistant: "+msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
