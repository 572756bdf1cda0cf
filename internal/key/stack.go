package key

import "strings"

// Stack is the chain of keys currently being built on one logical call
// path. The top of the stack is the key the current action executes for;
// it is empty for top-level actions.
//
// Stacks are persistent: Push returns a new Stack sharing the prefix, so a
// stack captured by a suspended action is never mutated underneath it.
type Stack struct {
	keys []Key
}

// NewStack returns an empty stack.
func NewStack() Stack {
	return Stack{}
}

// Top returns the most recently pushed key.
func (s Stack) Top() (Key, bool) {
	if len(s.keys) == 0 {
		return nil, false
	}
	return s.keys[len(s.keys)-1], true
}

// Push returns a new stack with k on top.
func (s Stack) Push(k Key) Stack {
	keys := make([]Key, len(s.keys)+1)
	copy(keys, s.keys)
	keys[len(s.keys)] = k
	return Stack{keys: keys}
}

// Contains reports whether k already appears on the chain.
// Used by the database for cycle detection.
func (s Stack) Contains(k Key) bool {
	for _, have := range s.keys {
		if have == k {
			return true
		}
	}
	return false
}

// Len returns the chain depth.
func (s Stack) Len() int {
	return len(s.keys)
}

// Keys returns the chain oldest-first. The returned slice is shared; do
// not mutate it.
func (s Stack) Keys() []Key {
	return s.keys
}

// String renders the chain newest-first, one key per line, the way it
// appears in cycle errors.
func (s Stack) String() string {
	if len(s.keys) == 0 {
		return "<no call stack>"
	}
	var b strings.Builder
	for i := len(s.keys) - 1; i >= 0; i-- {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("* " + Show(s.keys[i]))
	}
	return b.String()
}
