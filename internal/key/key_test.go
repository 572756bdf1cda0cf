package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fileKey string

type objValue struct {
	Path string
	Size int
}

// TestShow_PlainString tests that string keys render bare.
func TestShow_PlainString(t *testing.T) {
	assert.Equal(t, "main.c", Show("main.c"))
}

// TestShow_TypedKey tests rendering of non-string keys.
func TestShow_TypedKey(t *testing.T) {
	assert.Equal(t, "main.o", Show(fileKey("main.o")))
	assert.Contains(t, ShowTyped(fileKey("main.o")), "fileKey")
}

// TestGob_RoundTrip tests that registered keys and values survive
// encode/decode.
func TestGob_RoundTrip(t *testing.T) {
	RegisterGob(fileKey(""), objValue{})

	blob, err := EncodeGob(fileKey("main.o"))
	require.NoError(t, err)
	back, err := DecodeGob(blob)
	require.NoError(t, err)
	assert.Equal(t, fileKey("main.o"), back)

	blob, err = EncodeGob(objValue{Path: "main.o", Size: 42})
	require.NoError(t, err)
	back, err = DecodeGob(blob)
	require.NoError(t, err)
	assert.Equal(t, objValue{Path: "main.o", Size: 42}, back)
}

// TestRegisterGob_DuplicateIsHarmless tests repeated registration.
func TestRegisterGob_DuplicateIsHarmless(t *testing.T) {
	RegisterGob(fileKey(""), objValue{})
	RegisterGob(fileKey(""), objValue{})
}
