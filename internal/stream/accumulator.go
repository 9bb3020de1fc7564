// Package stream reshapes incremental text deltas into lines.
package stream

import "strings"

// Accumulator collects streamed text as lines. It always holds at least
// one line; the last line is open and extended by the next Append.
type Accumulator struct {
	lines []string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{lines: []string{""}}
}

// Append adds text and returns the current lines. The returned slice is
// owned by the accumulator and must not be modified.
func (a *Accumulator) Append(text string) []string {
	a.init()
	if text == "" {
		return a.lines
	}
	parts := strings.Split(text, "\n")
	last := len(a.lines) - 1
	a.lines[last] += parts[0]
	a.lines = append(a.lines, parts[1:]...)
	return a.lines
}

// Lines returns a copy of the current lines.
func (a *Accumulator) Lines() []string {
	a.init()
	out := make([]string, len(a.lines))
	copy(out, a.lines)
	return out
}

// Len returns the number of lines, including the open one.
func (a *Accumulator) Len() int {
	a.init()
	return len(a.lines)
}

// Text returns the accumulated text without resetting.
func (a *Accumulator) Text() string {
	a.init()
	return strings.Join(a.lines, "\n")
}

// Clear resets to a single empty line.
func (a *Accumulator) Clear() {
	a.lines = []string{""}
}

// DrainText returns the accumulated text and resets.
func (a *Accumulator) DrainText() string {
	text := a.Text()
	a.Clear()
	return text
}

func (a *Accumulator) init() {
	if len(a.lines) == 0 {
		a.lines = []string{""}
	}
}
