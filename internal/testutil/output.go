// Package testutil provides small helpers shared by test packages.
package testutil

import (
	"strings"
	"sync"

	"github.com/keelbuild/keel/internal/engine"
)

// Line is one message captured by RecordingOutput.
type Line struct {
	Verbosity engine.Verbosity
	Message   string
}

// RecordingOutput is an output sink that captures everything the engine
// prints. Safe for concurrent use.
type RecordingOutput struct {
	mu    sync.Mutex
	lines []Line
}

// Func returns the callback to install as Options.Output.
func (o *RecordingOutput) Func() func(engine.Verbosity, string) {
	return func(v engine.Verbosity, msg string) {
		o.mu.Lock()
		o.lines = append(o.lines, Line{Verbosity: v, Message: msg})
		o.mu.Unlock()
	}
}

// Lines returns a copy of everything captured so far.
func (o *RecordingOutput) Lines() []Line {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Line(nil), o.lines...)
}

// Messages returns just the message strings, in arrival order.
func (o *RecordingOutput) Messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.lines))
	for i, l := range o.lines {
		out[i] = l.Message
	}
	return out
}

// Contains reports whether any captured message contains substr.
func (o *RecordingOutput) Contains(substr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, l := range o.lines {
		if strings.Contains(l.Message, substr) {
			return true
		}
	}
	return false
}

// Count returns how many captured messages contain substr.
func (o *RecordingOutput) Count(substr string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, l := range o.lines {
		if strings.Contains(l.Message, substr) {
			n++
		}
	}
	return n
}
