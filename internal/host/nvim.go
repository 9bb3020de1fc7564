package host

import (
	"context"
	"fmt"

	"github.com/neovim/go-client/nvim"
)

// DefaultLuaModule is the editor-side module that owns windows and
// host-defined templates.
const DefaultLuaModule = "nvim-llm.host"

// Nvim is the Host of a running Neovim, reached over its RPC channel.
// Buffer edits use the API directly; surface geometry and host templates
// are delegated to the Lua module.
type Nvim struct {
	v      *nvim.Nvim
	ns     int
	module string
}

var _ Host = (*Nvim)(nil)

// NewNvim wraps an RPC client. module names the Lua module, empty meaning
// DefaultLuaModule.
func NewNvim(v *nvim.Nvim, module string) (*Nvim, error) {
	if module == "" {
		module = DefaultLuaModule
	}
	ns, err := v.CreateNamespace("nvim-llm")
	if err != nil {
		return nil, fmt.Errorf("create namespace: %w", err)
	}
	return &Nvim{v: v, ns: ns, module: module}, nil
}

func toBytes(lines []string) [][]byte {
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = []byte(l)
	}
	return out
}

func fromBytes(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}

// lua calls fn of the Lua module with args and decodes its return value
// into result.
func (n *Nvim) lua(ctx context.Context, result any, fn string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	code := fmt.Sprintf("return require(%q).%s(...)", n.module, fn)
	if err := n.v.ExecLua(code, result, args...); err != nil {
		return fmt.Errorf("%s.%s: %w", n.module, fn, err)
	}
	return nil
}

func (n *Nvim) Lines(ctx context.Context, buf Buffer, start, end int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines, err := n.v.BufferLines(nvim.Buffer(buf), start, end, false)
	if err != nil {
		return nil, err
	}
	return fromBytes(lines), nil
}

func (n *Nvim) SetLines(ctx context.Context, buf Buffer, start, end int, lines []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.v.SetBufferLines(nvim.Buffer(buf), start, end, false, toBytes(lines))
}

func (n *Nvim) SetText(ctx context.Context, buf Buffer, startRow, startCol, endRow, endCol int, lines []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.v.SetBufferText(nvim.Buffer(buf), startRow, startCol, endRow, endCol, toBytes(lines))
}

func (n *Nvim) LineCount(ctx context.Context, buf Buffer) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return n.v.BufferLineCount(nvim.Buffer(buf))
}

func (n *Nvim) SetMark(ctx context.Context, buf Buffer, row, col int) (Mark, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := n.v.SetBufferExtmark(nvim.Buffer(buf), n.ns, row, col, map[string]any{"right_gravity": true})
	if err != nil {
		return 0, err
	}
	return Mark(id), nil
}

func (n *Nvim) MarkPosition(ctx context.Context, buf Buffer, mark Mark) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	pos, err := n.v.BufferExtmarkByID(nvim.Buffer(buf), n.ns, int(mark), map[string]any{})
	if err != nil {
		return 0, 0, err
	}
	if len(pos) < 2 {
		return 0, 0, fmt.Errorf("extmark %d is gone", mark)
	}
	return pos[0], pos[1], nil
}

func (n *Nvim) DeleteMark(ctx context.Context, buf Buffer, mark Mark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.v.DeleteBufferExtmark(nvim.Buffer(buf), n.ns, int(mark))
	return err
}

func (n *Nvim) SetRegister(ctx context.Context, name, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.v.Call("setreg", nil, name, text)
}

const setCursorLua = `
local buf, row, col = ...
local win = vim.fn.bufwinid(buf)
if win ~= -1 then
  vim.api.nvim_win_set_cursor(win, { row + 1, col })
end`

func (n *Nvim) SetCursor(ctx context.Context, buf Buffer, row, col int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.v.ExecLua(setCursorLua, nil, int(buf), row, col)
}

func (n *Nvim) OpenScratch(ctx context.Context, title string) (Buffer, error) {
	var buf int
	err := n.lua(ctx, &buf, "open_scratch", title)
	return Buffer(buf), err
}

func (n *Nvim) OpenChat(ctx context.Context, layout string) (ChatSurfaces, error) {
	var res struct {
		Prompt   int `msgpack:"prompt"`
		Response int `msgpack:"response"`
	}
	if err := n.lua(ctx, &res, "open_chat", layout); err != nil {
		return ChatSurfaces{}, err
	}
	return ChatSurfaces{Prompt: Buffer(res.Prompt), Response: Buffer(res.Response)}, nil
}

func (n *Nvim) OpenCompose(ctx context.Context, title string, initial []string) (Buffer, error) {
	var buf int
	err := n.lua(ctx, &buf, "open_compose", title, initial)
	return Buffer(buf), err
}

func (n *Nvim) CloseSurface(ctx context.Context, buf Buffer) error {
	return n.lua(ctx, nil, "close_surface", int(buf))
}

var notifyLevels = map[Level]nvim.LogLevel{
	LevelDebug: nvim.LogDebugLevel,
	LevelInfo:  nvim.LogInfoLevel,
	LevelWarn:  nvim.LogWarnLevel,
	LevelError: nvim.LogErrorLevel,
}

func (n *Nvim) Notify(ctx context.Context, msg string, level Level) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.v.Notify(msg, notifyLevels[level], map[string]any{})
}

func (n *Nvim) RunTemplateBuilder(ctx context.Context, id string, tctx, args map[string]any) (TemplateResult, error) {
	var res struct {
		Prompt string `msgpack:"prompt"`
		System string `msgpack:"system"`
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := n.lua(ctx, &res, "run_template", id, tctx, args); err != nil {
		return TemplateResult{}, err
	}
	return TemplateResult{Prompt: res.Prompt, System: res.System}, nil
}

func (n *Nvim) RunTemplateCompletion(ctx context.Context, id string, cctx map[string]any) error {
	return n.lua(ctx, nil, "complete_template", id, cctx)
}
