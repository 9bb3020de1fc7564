package stream

import (
	"reflect"
	"strings"
	"testing"
)

func TestAccumulator_Append(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   []string
	}{
		{"empty", nil, []string{""}},
		{"single", []string{"hello"}, []string{"hello"}},
		{"joins open line", []string{"hel", "lo"}, []string{"hello"}},
		{"split inside delta", []string{"a\nb"}, []string{"a", "b"}},
		{"trailing newline opens a line", []string{"a\n"}, []string{"a", ""}},
		{"newline across deltas", []string{"one\ntw", "o\n", "three"}, []string{"one", "two", "three"}},
		{"blank lines", []string{"\n\n"}, []string{"", "", ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			acc := NewAccumulator()
			for _, d := range tc.deltas {
				acc.Append(d)
			}
			if got := acc.Lines(); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Lines() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAccumulator_EmptyAppendIsNoop(t *testing.T) {
	inputs := []string{"", "x", "a\nb\nc", "trailing\n", "\n", "mixed\r\nline endings"}
	for _, in := range inputs {
		acc := NewAccumulator()
		acc.Append(in)
		before := acc.Lines()
		acc.Append("")
		if after := acc.Lines(); !reflect.DeepEqual(before, after) {
			t.Errorf("Append(\"\") after %q changed %q to %q", in, before, after)
		}
	}
}

func TestAccumulator_DrainText(t *testing.T) {
	inputs := [][]string{
		{},
		{"hello"},
		{"a\n", "b", "\nc\n"},
		{"\n\n\n"},
	}
	for _, deltas := range inputs {
		acc := NewAccumulator()
		for _, d := range deltas {
			acc.Append(d)
		}
		want := strings.Join(acc.Lines(), "\n")
		if got := acc.DrainText(); got != want {
			t.Errorf("DrainText() = %q, want %q", got, want)
		}
		if got := acc.Lines(); !reflect.DeepEqual(got, []string{""}) {
			t.Errorf("Lines() after drain = %q, want [\"\"]", got)
		}
	}
}

func TestAccumulator_LinesIsACopy(t *testing.T) {
	acc := NewAccumulator()
	acc.Append("keep")
	lines := acc.Lines()
	lines[0] = "mutated"
	if acc.Lines()[0] != "keep" {
		t.Error("Lines() exposed internal state")
	}
}

func TestAccumulator_ZeroValueUsable(t *testing.T) {
	var acc Accumulator
	if got := acc.Lines(); !reflect.DeepEqual(got, []string{""}) {
		t.Errorf("zero Lines() = %q", got)
	}
	acc.Append("x\ny")
	if acc.Len() != 2 || acc.Text() != "x\ny" {
		t.Errorf("zero value append = %q", acc.Lines())
	}
	acc.Clear()
	if acc.Len() != 1 {
		t.Errorf("Clear left %d lines", acc.Len())
	}
}
