package output

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/llm"
	"github.com/samsaffron/nvim-llm/internal/testutil"
)

func TestParseMode(t *testing.T) {
	for _, in := range []string{"replace", "append", "register", "scratch", "chat", " Chat "} {
		if _, err := ParseMode(in); err != nil {
			t.Errorf("ParseMode(%q): %v", in, err)
		}
	}
	_, err := ParseMode("popup")
	var verr *llm.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("ParseMode(popup) = %v, want ValidationError", err)
	}
}

func TestReplace_SingleMutationAtFinalize(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()
	buf := h.AddBuffer("keep this", "fix me please", "tail")
	sess, err := New(ctx, h, ModeReplace, Options{Selection: host.Selection{
		Buffer: buf, StartRow: 1, StartCol: 4, EndRow: 1, EndCol: 6,
	}})
	if err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{"He", "llo"} {
		if err := sess.Append(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(h.Calls(buf)); n != 0 {
		t.Fatalf("replace mutated the buffer %d times before finalize", n)
	}
	if err := sess.Finalize(ctx); err != nil {
		t.Fatal(err)
	}

	calls := h.Calls(buf)
	if len(calls) != 1 || calls[0].Method != "SetText" {
		t.Fatalf("calls = %+v, want exactly one SetText", calls)
	}
	testutil.AssertLines(t, h.Buffer(buf), []string{"keep this", "fix Hello please", "tail"})
}

func TestReplace_MultilineAndLinewise(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()
	buf := h.AddBuffer("a", "b", "c")
	sess, _ := New(ctx, h, ModeReplace, Options{Selection: host.Selection{
		Buffer: buf, StartRow: 0, StartCol: 0, EndRow: 1, EndCol: -1,
	}})
	sess.Append(ctx, "x\ny\nz")
	if err := sess.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.AssertLines(t, h.Buffer(buf), []string{"x", "y", "z", "c"})
}

func TestReplace_FailLeavesSourceUntouched(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()
	buf := h.AddBuffer("original")
	sess, _ := New(ctx, h, ModeReplace, Options{Selection: host.Selection{Buffer: buf, EndCol: 8}})
	sess.Append(ctx, "partial")
	sess.Fail(ctx, errors.New("boom"))
	testutil.AssertLines(t, h.Buffer(buf), []string{"original"})
	if len(h.Calls(buf)) != 0 {
		t.Error("failed replace must not touch the buffer")
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()

	sess, _ := New(ctx, h, ModeRegister, Options{})
	sess.Append(ctx, "line 1\n")
	sess.Append(ctx, "line 2")
	if _, ok := h.Register(DefaultRegister); ok {
		t.Fatal("register written before finalize")
	}
	if err := sess.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.Register(DefaultRegister); got != "line 1\nline 2" {
		t.Errorf("register = %q", got)
	}
	if sess.Target().Register != DefaultRegister {
		t.Errorf("target = %+v", sess.Target())
	}

	named, _ := New(ctx, h, ModeRegister, Options{Register: "a"})
	named.Append(ctx, "x")
	named.Fail(ctx, "nope")
	if _, ok := h.Register("a"); ok {
		t.Error("failed register session wrote the register")
	}
}

func TestAppend_StreamsAfterSelection(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()
	buf := h.AddBuffer("question", "after")
	sess, err := New(ctx, h, ModeAppend, Options{Selection: host.Selection{Buffer: buf, EndRow: 0, EndCol: 8}})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertLines(t, h.Buffer(buf), []string{"question", "", "after"})

	for _, d := range []string{"ans", "wer\nsecond", " line"} {
		if err := sess.Append(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	// An edit above the insertion point shifts it.
	if err := h.SetLines(ctx, buf, 0, 0, []string{"inserted by user"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.Append(ctx, "!"); err != nil {
		t.Fatal(err)
	}
	if err := sess.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.AssertLines(t, h.Buffer(buf), []string{"inserted by user", "question", "answer", "second line!", "after"})
	if h.MarkCount(buf) != 0 {
		t.Error("mark leaked after finalize")
	}
}

func TestAppend_NoChunksRemovesPlaceholder(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()
	buf := h.AddBuffer("only line")
	sess, _ := New(ctx, h, ModeAppend, Options{Selection: host.Selection{Buffer: buf}})
	if err := sess.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.AssertLines(t, h.Buffer(buf), []string{"only line"})
}

func TestAppend_FailAnnotatesAtMark(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()
	buf := h.AddBuffer("q", "z")
	sess, _ := New(ctx, h, ModeAppend, Options{Selection: host.Selection{Buffer: buf}})
	sess.Append(ctx, "half")
	sess.Fail(ctx, errors.New("connection reset"))
	testutil.AssertLines(t, h.Buffer(buf), []string{"q", "half", ErrorPrefix + "connection reset", "z"})
}

func TestScratch(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewFakeHost()
	sess, err := New(ctx, h, ModeScratch, Options{Title: "Explain"})
	if err != nil {
		t.Fatal(err)
	}
	buf := sess.Target().Buffer
	testutil.AssertLines(t, h.Buffer(buf), []string{"Explain", "=======", ""})

	sess.Append(ctx, "first ")
	sess.Append(ctx, "line\nsec")
	sess.Append(ctx, "ond")
	testutil.AssertLines(t, h.Buffer(buf), []string{"Explain", "=======", "first line", "second"})

	sess.Fail(ctx, map[string]any{"code": 500})
	lines := h.Buffer(buf)
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, ErrorPrefix) || !strings.Contains(last, `"code":500`) {
		t.Errorf("diagnostic line = %q", last)
	}
	if lines[3] != "second" {
		t.Error("fail must keep streamed content")
	}
}

type stringer struct{}

func (stringer) String() string { return "from stringer" }

type nilErr struct{ msg *string }

func (e *nilErr) Error() string { return *e.msg }

func TestFormatReason(t *testing.T) {
	var typedNil *nilErr
	tests := []struct {
		name   string
		reason any
		want   string
	}{
		{"error", errors.New("boom"), "boom"},
		{"string", "Job stopped", "Job stopped"},
		{"nil", nil, "unknown error"},
		{"stringer", stringer{}, "from stringer"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"number", 42, "42"},
		{"channel falls back to %v", make(chan int), ""},
		{"panicking error", typedNil, "unprintable failure (*output.nilErr)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FormatReason(tc.reason)
			if tc.want == "" {
				if got == "" {
					t.Error("empty rendering")
				}
				return
			}
			if got != tc.want {
				t.Errorf("FormatReason = %q, want %q", got, tc.want)
			}
		})
	}
}
