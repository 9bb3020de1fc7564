package templates

import (
	"context"
	"strings"

	"github.com/spf13/cast"

	"github.com/samsaffron/nvim-llm/internal/output"
)

const codeSystem = "You are an expert {{filetype}} programmer working in {{basename}}."

// textTemplate builds a Template from prompt and system strings with
// {{variable}} placeholders.
func textTemplate(id, desc string, mode output.Mode, system, prompt string) Template {
	return Template{
		ID:          id,
		Description: desc,
		Output:      mode,
		Build: func(_ context.Context, tctx Context, args map[string]any) (Prompt, error) {
			return Prompt{
				Prompt: Expand(prompt, tctx, args),
				System: strings.TrimSpace(Expand(system, tctx, args)),
			}, nil
		},
	}
}

func builtins() []Template {
	translate := textTemplate("translate", "Translate the selection", output.ModeReplace,
		"You are a translator. Reply with the translation only.",
		"Translate the following text to {{language}}:\n\n{{text}}")
	inner := translate.Build
	translate.Build = func(ctx context.Context, tctx Context, args map[string]any) (Prompt, error) {
		if cast.ToString(args["language"]) == "" {
			args = withDefault(args, "language", "English")
		}
		return inner(ctx, tctx, args)
	}

	return []Template{
		textTemplate("explain", "Explain the selected code", output.ModeScratch,
			codeSystem,
			"Explain what the following code does. Be concise.\n\n```{{filetype}}\n{{text}}\n```"),
		textTemplate("fix", "Fix bugs in the selection", output.ModeReplace,
			codeSystem+" Reply with the corrected code only, without fences or commentary.",
			"Fix any bugs in this code:\n\n{{text}}"),
		textTemplate("docstring", "Write documentation for the selection", output.ModeAppend,
			codeSystem+" Reply with the documentation comment only.",
			"Write a documentation comment for:\n\n{{text}}"),
		translate,
	}
}

func withDefault(args map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, val := range args {
		out[k] = val
	}
	out[key] = v
	return out
}
