package store

import (
	"errors"
	"fmt"

	"github.com/keelbuild/keel/internal/key"
)

// CycleError is raised when demanding a key that is already on the
// demanding action's call chain.
type CycleError struct {
	// Key is the key that closed the cycle.
	Key key.Key

	// Stack is the chain that was active when the cycle was detected.
	Stack key.Stack
}

// Error cites the key and the chain that reached it.
func (e *CycleError) Error() string {
	return fmt.Sprintf("CYCLE_DETECTED: build of %s depends on itself\n%s",
		key.Show(e.Key), e.Stack.Push(e.Key).String())
}

// IsCycleError reports whether err is a cycle detection error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// ValidityError is returned by CheckValid when a post-build lint check
// fails.
type ValidityError struct {
	Message string
}

// Error implements the error interface.
func (e *ValidityError) Error() string {
	return "Lint checking error: " + e.Message
}

// UnfinishedError is returned by AssertFinished when keys were left
// mid-flight, which indicates a scheduler bug.
type UnfinishedError struct {
	Keys []key.Key
}

// Error implements the error interface.
func (e *UnfinishedError) Error() string {
	return fmt.Sprintf("database is not finished: %d keys still in flight, first %s",
		len(e.Keys), key.Show(e.Keys[0]))
}
