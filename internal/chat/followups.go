package chat

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/spf13/cast"
)

// MaxFollowUps caps the suggestions kept per turn.
const MaxFollowUps = 4

// FollowUp is one suggested next prompt, selectable by key.
type FollowUp struct {
	Key  int    `json:"key" mapstructure:"key"`
	Text string `json:"text" mapstructure:"text"`
}

// NormalizeFollowUps turns arbitrary input into at most MaxFollowUps
// entries. Blank entries are dropped, explicit keys are clamped to
// [1, MaxFollowUps], keyless entries are numbered from 1 in order. The
// first MaxFollowUps entries that survive win.
//
// raw may be a slice of FollowUp, strings or maps with "key" and "text", a
// map keyed by position, or a string holding any of those as JSON. Strings
// that are not JSON are read one suggestion per line.
func NormalizeFollowUps(raw any) []FollowUp {
	items := followUpItems(raw)
	out := make([]FollowUp, 0, MaxFollowUps)
	next := 1
	for _, item := range items {
		text, key, hasKey := followUpFields(item)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if !hasKey {
			key = next
			next++
		}
		out = append(out, FollowUp{Key: clampKey(key), Text: text})
	}
	if len(out) > MaxFollowUps {
		out = out[:MaxFollowUps]
	}
	return out
}

func clampKey(k int) int {
	return min(max(k, 1), MaxFollowUps)
}

func followUpItems(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return parseFollowUpString(v)
	case []byte:
		return parseFollowUpString(string(v))
	case []FollowUp:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	case map[string]any:
		if _, ok := v["text"]; ok {
			return []any{v}
		}
		if list, ok := v["followups"]; ok {
			return followUpItems(list)
		}
		return positional(v)
	}
	return []any{raw}
}

// positional orders a Lua-style list that arrived as a map with numeric keys.
func positional(m map[string]any) []any {
	var out []any
	for i := 1; i <= len(m); i++ {
		v, ok := m[cast.ToString(i)]
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

func parseFollowUpString(s string) []any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if s[0] == '[' || s[0] == '{' {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			repaired, rerr := jsonrepair.JSONRepair(s)
			if rerr != nil || json.Unmarshal([]byte(repaired), &v) != nil {
				return splitSuggestionLines(s)
			}
		}
		return followUpItems(v)
	}
	return splitSuggestionLines(s)
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+`)

func splitSuggestionLines(s string) []any {
	var out []any
	for _, line := range strings.Split(s, "\n") {
		out = append(out, listMarker.ReplaceAllString(line, ""))
	}
	return out
}

func followUpFields(item any) (text string, key int, hasKey bool) {
	switch v := item.(type) {
	case FollowUp:
		return v.Text, v.Key, v.Key != 0
	case string:
		return v, 0, false
	case map[string]any:
		text = cast.ToString(v["text"])
		if k, ok := v["key"]; ok && k != nil {
			n, err := cast.ToIntE(k)
			if err == nil {
				return text, n, true
			}
		}
		return text, 0, false
	case map[any]any:
		return followUpFields(cast.ToStringMap(v))
	}
	return cast.ToString(item), 0, false
}

var followUpBlock = regexp.MustCompile(`(?s)<followups>(.*?)</followups>\s*$`)

// ExtractFollowUps splits a trailing <followups>...</followups> block off a
// response. It returns the response without the block and the raw block
// content.
func ExtractFollowUps(text string) (string, string, bool) {
	loc := followUpBlock.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, "", false
	}
	return strings.TrimRight(text[:loc[0]], " \t\n"), text[loc[2]:loc[3]], true
}

// FollowUpInstruction is appended to the system prompt when follow-ups are
// enabled.
const FollowUpInstruction = `After your answer, suggest up to 4 short follow-up prompts the user might send next, as a JSON array of strings wrapped in <followups></followups> on the last line.`

// RenderFollowUps formats entries for the response surface.
func RenderFollowUps(entries []FollowUp) []string {
	if len(entries) == 0 {
		return nil
	}
	lines := []string{"Follow-ups:"}
	for _, f := range entries {
		lines = append(lines, "  ["+cast.ToString(f.Key)+"] "+f.Text)
	}
	return lines
}
