package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStack_Empty tests the empty stack.
func TestStack_Empty(t *testing.T) {
	s := NewStack()
	_, ok := s.Top()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "<no call stack>", s.String())
}

// TestStack_PushTop tests push and top.
func TestStack_PushTop(t *testing.T) {
	s := NewStack().Push("a").Push("b")
	top, ok := s.Top()
	assert.True(t, ok)
	assert.Equal(t, "b", top)
	assert.Equal(t, 2, s.Len())
}

// TestStack_Persistent tests that Push does not mutate the receiver.
func TestStack_Persistent(t *testing.T) {
	base := NewStack().Push("a")
	left := base.Push("b")
	right := base.Push("c")

	assert.Equal(t, []Key{"a", "b"}, left.Keys())
	assert.Equal(t, []Key{"a", "c"}, right.Keys())
	assert.Equal(t, []Key{"a"}, base.Keys())
}

// TestStack_Contains tests cycle membership checks.
func TestStack_Contains(t *testing.T) {
	s := NewStack().Push("a").Push("b")
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("c"))
}

// TestStack_String tests newest-first rendering.
func TestStack_String(t *testing.T) {
	s := NewStack().Push("a").Push("b")
	assert.Equal(t, "* b\n* a", s.String())
}
