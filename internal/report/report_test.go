package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelbuild/keel/internal/key"
	"github.com/keelbuild/keel/internal/store"
)

func sampleEntries() []store.ReportEntry {
	return []store.ReportEntry{
		{
			Name:      "app.o",
			Built:     2,
			Changed:   1,
			Execution: 1500 * time.Nanosecond,
			Traces:    []key.Trace{{Message: "cc", Start: 100, Stop: 200}},
			Depends:   [][]int{{1}},
		},
		{
			Name:    "app.c",
			Built:   1,
			Changed: 1,
		},
	}
}

// TestRender_Golden tests the exact canonical bytes of a rendered
// report.
func TestRender_Golden(t *testing.T) {
	body, err := Render("golden-session", sampleEntries())
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "render", body)
}

// TestRender_Deterministic tests byte-stability across renders.
func TestRender_Deterministic(t *testing.T) {
	a, err := Render("s", sampleEntries())
	require.NoError(t, err)
	b, err := Render("s", sampleEntries())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// TestRender_ParsesAsJSON tests that standard decoders accept the
// output.
func TestRender_ParsesAsJSON(t *testing.T) {
	body, err := Render("s", sampleEntries())
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, "s", parsed["session"])
	assert.Len(t, parsed["entries"], 2)
}

// TestMarshalCanonical_SortsKeys tests object key ordering.
func TestMarshalCanonical_SortsKeys(t *testing.T) {
	out, err := marshalCanonical(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

// TestMarshalCanonical_NoHTMLEscaping tests that <, >, & stay literal.
func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := marshalCanonical("a<b>&c")
	require.NoError(t, err)
	assert.Equal(t, `"a<b>&c"`, string(out))
}

// TestMarshalCanonical_RejectsFloatsAndNull tests the restricted
// vocabulary.
func TestMarshalCanonical_RejectsFloatsAndNull(t *testing.T) {
	_, err := marshalCanonical(1.5)
	assert.Error(t, err)
	_, err = marshalCanonical(nil)
	assert.Error(t, err)
	_, err = marshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}
