package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/keelbuild/keel/internal/key"
)

// ErrorCode categorizes scheduler errors.
type ErrorCode string

const (
	// ErrCodeNoApplyHere indicates Apply was called inside a scope that
	// forbids it (withResource, unsafeExtraThread).
	ErrCodeNoApplyHere ErrorCode = "NO_APPLY_HERE"

	// ErrCodeNoRuleToBuild indicates no rule is registered for the key's
	// type.
	ErrCodeNoRuleToBuild ErrorCode = "NO_RULE_TO_BUILD"

	// ErrCodeRuleTypeMismatch indicates the value type requested at the
	// Apply site differs from the rule's registered result type.
	ErrCodeRuleTypeMismatch ErrorCode = "RULE_TYPE_MISMATCH"

	// ErrCodeLintCwdChanged indicates the working directory drifted
	// between rules while linting.
	ErrCodeLintCwdChanged ErrorCode = "LINT_CWD_CHANGED"

	// ErrCodeLintUsedNotDepended indicates a tracked key was used but
	// never depended upon.
	ErrCodeLintUsedNotDepended ErrorCode = "LINT_USED_NOT_DEPENDED"

	// ErrCodeLintDependedAfterUsed indicates a tracked key was depended
	// upon after being used.
	ErrCodeLintDependedAfterUsed ErrorCode = "LINT_DEPENDED_AFTER_USED"

	// ErrCodeNegativeResource indicates withResources was given a
	// negative quantity.
	ErrCodeNegativeResource ErrorCode = "NEGATIVE_RESOURCE_REQUEST"
)

// CodedError is a scheduler-detected failure with a stable category.
type CodedError struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func codedErrorf(code ErrorCode, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var ce *CodedError
	return errors.As(err, &ce) && ce.Code == code
}

// BuildError is the structured form every failure leaves the engine in:
// the target being built, the key chain that led there, and the inner
// cause. A BuildError is never wrapped in another BuildError.
type BuildError struct {
	// Target labels what was being produced, e.g. the innermost key or
	// "Top-level action/want".
	Target string

	// Stack is the key chain, oldest first.
	Stack []key.Key

	// Inner is the underlying cause.
	Inner error
}

// Error renders the key chain and the cause.
func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString("Error when running build system:\n")
	for _, k := range e.Stack {
		b.WriteString("* " + key.Show(k) + "\n")
	}
	b.WriteString(fmt.Sprintf("%v", e.Inner))
	return b.String()
}

// Unwrap exposes the inner cause to errors.Is/As.
func (e *BuildError) Unwrap() error {
	return e.Inner
}

// wrapError lifts a raw failure into a BuildError, attaching the stack
// produced by getStack. Already-structured errors pass through unchanged.
// In staunch mode the error is also printed with a continuation trailer,
// since only the first failure is raised at the end of the run.
func (g *Global) wrapError(getStack func() key.Stack, raw error) *BuildError {
	var be *BuildError
	if errors.As(raw, &be) {
		return be
	}
	stack := getStack()
	target := "Unknown call stack"
	if top, ok := stack.Top(); ok {
		target = key.Show(top)
	}
	be = &BuildError{Target: target, Stack: stack.Keys(), Inner: raw}
	if g.opts.Staunch && g.opts.Verbosity >= Quiet {
		g.output(Quiet, be.Error()+"\nContinuing due to staunch mode")
	}
	return be
}
