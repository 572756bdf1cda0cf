package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelbuild/keel/internal/key"
)

// TestCodedError_Format tests the code-prefixed rendering.
func TestCodedError_Format(t *testing.T) {
	err := codedErrorf(ErrCodeNoRuleToBuild, "no rule for %s", "k")
	assert.Equal(t, "NO_RULE_TO_BUILD: no rule for k", err.Error())
}

// TestIsCode_Wrapped tests code matching through wrapping.
func TestIsCode_Wrapped(t *testing.T) {
	inner := codedErrorf(ErrCodeNoApplyHere, "blocked")
	wrapped := fmt.Errorf("outer: %w", inner)
	assert.True(t, IsCode(wrapped, ErrCodeNoApplyHere))
	assert.False(t, IsCode(wrapped, ErrCodeNoRuleToBuild))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeNoApplyHere))
}

// TestBuildError_Format tests the stack rendering.
func TestBuildError_Format(t *testing.T) {
	be := &BuildError{
		Target: "a.o",
		Stack:  []key.Key{"a.c", "a.o"},
		Inner:  errors.New("compiler exploded"),
	}
	msg := be.Error()
	assert.Contains(t, msg, "Error when running build system:")
	assert.Contains(t, msg, "* a.c")
	assert.Contains(t, msg, "* a.o")
	assert.Contains(t, msg, "compiler exploded")
}

// TestWrapError_NeverRewraps tests that a structured error passes
// through unchanged.
func TestWrapError_NeverRewraps(t *testing.T) {
	rec := &recorder{}
	g := &Global{opts: testOpts(rec), output: rec.sink()}

	be := &BuildError{Target: "t", Inner: errors.New("x")}
	got := g.wrapError(func() key.Stack { return key.NewStack() }, be)
	assert.Same(t, be, got)

	wrapped := fmt.Errorf("context: %w", be)
	got = g.wrapError(func() key.Stack { return key.NewStack() }, wrapped)
	assert.Same(t, be, got)
}

// TestWrapError_AttachesStack tests stack and target attachment.
func TestWrapError_AttachesStack(t *testing.T) {
	rec := &recorder{}
	g := &Global{opts: testOpts(rec), output: rec.sink()}

	stack := key.NewStack().Push("outer").Push("inner")
	be := g.wrapError(func() key.Stack { return stack }, errors.New("raw"))
	assert.Equal(t, "inner", be.Target)
	assert.Equal(t, []key.Key{"outer", "inner"}, be.Stack)
}

// TestWrapError_StaunchLogs tests the continuation trailer.
func TestWrapError_StaunchLogs(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Staunch = true
	g := &Global{opts: opts, output: rec.sink()}

	g.wrapError(func() key.Stack { return key.NewStack() }, errors.New("raw"))
	assert.True(t, rec.contains("Continuing due to staunch mode"))
}

// TestVerbosity_ParseRoundTrip tests config-name round trips.
func TestVerbosity_ParseRoundTrip(t *testing.T) {
	for _, v := range []Verbosity{Silent, Quiet, Normal, Loud, Chatty, Diagnostic} {
		got, err := ParseVerbosity(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := ParseVerbosity("shouty")
	assert.Error(t, err)
}

// TestLintMode_ParseRoundTrip tests lint-mode names.
func TestLintMode_ParseRoundTrip(t *testing.T) {
	for _, m := range []LintMode{LintNothing, LintBasic, LintFSATrace} {
		got, err := ParseLintMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseLintMode("strict")
	assert.Error(t, err)
}

// TestTimings_Dump tests phase accounting output.
func TestTimings_Dump(t *testing.T) {
	tm := newTimings()
	tm.phase("Alpha")
	tm.phase("Beta")

	var out string
	tm.dump(func(s string) { out = s })
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "Beta")
	assert.Contains(t, out, "Total")

	// Reset: a second dump only carries phases recorded since.
	tm.dump(func(s string) { out = s })
	assert.NotContains(t, out, "Alpha")
}
