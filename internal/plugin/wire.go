package plugin

import (
	"encoding/json"

	"github.com/go-viper/mapstructure/v2"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/jobs"
	"github.com/samsaffron/nvim-llm/internal/llm"
)

// Methods accepted by Handle.
const (
	MethodApply             = "apply"
	MethodStopJob           = "stop_job"
	MethodListJobs          = "list_jobs"
	MethodChatOpen          = "chat_open"
	MethodChatSubmit        = "chat_submit"
	MethodChatClose         = "chat_close"
	MethodChatResume        = "chat_resume"
	MethodChatApplyFollowUp = "chat_apply_follow_up"
	MethodChatSave          = "chat_save"
	MethodChatHistory       = "chat_history"
	MethodComposeOpen       = "compose_open"
	MethodComposeSubmit     = "compose_submit"
	MethodComposeClose      = "compose_close"
	MethodCurrentConfig     = "current_config"
	MethodUpdateConfig      = "update_config"
)

// ApplyRequest runs one prompt into an output destination.
type ApplyRequest struct {
	// Template builds the prompt when Prompt is empty, and its completion
	// hook runs after the output was applied.
	Template string `mapstructure:"template"`
	Prompt   string `mapstructure:"prompt"`
	System   string `mapstructure:"system"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	// Out is the output mode. Empty means the template's default, then
	// default_output.
	Out       string         `mapstructure:"out"`
	Register  string         `mapstructure:"register"`
	Selection host.Selection `mapstructure:"selection"`
	Args      map[string]any `mapstructure:"args"`
}

// StopRequest names a job.
type StopRequest struct {
	ID string `mapstructure:"id"`
}

// ChatOpenRequest opens the chat UI.
type ChatOpenRequest struct {
	Template  string          `mapstructure:"template"`
	Provider  string          `mapstructure:"provider"`
	Model     string          `mapstructure:"model"`
	Layout    string          `mapstructure:"layout"`
	FollowUps *bool           `mapstructure:"follow_ups"`
	Prompt    string          `mapstructure:"prompt"`
	Selection *host.Selection `mapstructure:"selection"`
	Args      map[string]any  `mapstructure:"args"`
}

// ChatSubmitRequest sends the prompt surface, or Prompt when set.
type ChatSubmitRequest struct {
	Prompt   string `mapstructure:"prompt"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// ChatResumeRequest reopens an archived or saved chat.
type ChatResumeRequest struct {
	ID string `mapstructure:"id"`
}

// FollowUpRequest picks a follow-up by key. Submit defaults to true; when
// false the text is placed in the prompt surface for editing.
type FollowUpRequest struct {
	Key    int   `mapstructure:"key"`
	Submit *bool `mapstructure:"submit"`
}

// HistoryRequest filters chat_history.
type HistoryRequest struct {
	Query string `mapstructure:"query"`
	Limit int    `mapstructure:"limit"`
}

// JobSummary is returned for every accepted generation.
type JobSummary struct {
	ID     string      `json:"id"`
	Status jobs.Status `json:"status"`
	Out    string      `json:"out"`
}

// ChatInfo describes the active chat.
type ChatInfo struct {
	ID              string      `json:"id"`
	Prompt          host.Buffer `json:"prompt"`
	Response        host.Buffer `json:"response"`
	Provider        string      `json:"provider,omitempty"`
	Model           string      `json:"model,omitempty"`
	Template        string      `json:"template,omitempty"`
	Messages        int         `json:"messages"`
	FollowUpEnabled bool        `json:"follow_up_enabled"`
}

// ComposeInfo describes the open compose buffer.
type ComposeInfo struct {
	Buffer   host.Buffer `json:"bufnr"`
	Template string      `json:"template,omitempty"`
	Out      string      `json:"out"`
}

// decode copies a payload into a request struct. Editor payloads are loose
// about numbers and booleans, so weak typing is on.
func decode(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return &llm.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}

// ToWire converts a Handle result into plain maps and slices keyed by the
// json tags, which is what the RPC encoder sends to Lua.
func ToWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
