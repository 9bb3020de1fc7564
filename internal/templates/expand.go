package templates

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/samsaffron/nvim-llm/internal/host"
)

// Context is what a template sees of the originating request.
type Context struct {
	Selection host.Selection `mapstructure:"selection" json:"selection"`
	Text      string         `mapstructure:"text" json:"text"`
	Filetype  string         `mapstructure:"filetype" json:"filetype,omitempty"`
	Filename  string         `mapstructure:"filename" json:"filename,omitempty"`
	Cwd       string         `mapstructure:"cwd" json:"cwd,omitempty"`
	Date      string         `mapstructure:"date" json:"date"`
}

// NewContext creates a context for sel with environment values filled in.
func NewContext(sel host.Selection) Context {
	ctx := Context{
		Selection: sel,
		Text:      sel.Text,
		Filetype:  sel.Filetype,
		Filename:  sel.Filename,
		Date:      time.Now().Format("2006-01-02"),
	}
	if cwd, err := os.Getwd(); err == nil {
		ctx.Cwd = cwd
	}
	return ctx
}

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Expand replaces {{variable}} placeholders with values from ctx and args.
// Args win over context values. Unknown variables are left as-is.
func Expand(text string, ctx Context, args map[string]any) string {
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.Trim(match, "{}")
		if v, ok := args[name]; ok {
			return cast.ToString(v)
		}

		switch name {
		case "text", "selection":
			return ctx.Text
		case "filetype":
			return ctx.Filetype
		case "filename":
			return ctx.Filename
		case "basename":
			if ctx.Filename == "" {
				return ""
			}
			return filepath.Base(ctx.Filename)
		case "cwd":
			return ctx.Cwd
		case "date":
			return ctx.Date
		default:
			return match
		}
	})
}
