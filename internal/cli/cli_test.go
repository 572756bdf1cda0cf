package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelbuild/keel/internal/key"
	"github.com/keelbuild/keel/internal/pool"
	"github.com/keelbuild/keel/internal/store"
)

func init() {
	key.RegisterGob("", "")
}

// buildTestDB produces a database file with two built keys.
func buildTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build.db")

	d, err := store.Open(store.Options{Path: path, SessionID: "cli-session"})
	require.NoError(t, err)

	var ops store.BuildOps
	ops.Stored = func(k key.Key) (key.Value, bool, bool) { return nil, false, false }
	ops.Equal = func(k key.Key, old, new key.Value) bool { return old == new }
	ops.Exec = func(stack key.Stack, k key.Key, deliver func(*store.ExecResult, error)) {
		deliver(&store.ExecResult{Value: "v:" + k.(string)}, nil)
	}

	require.NoError(t, pool.Run(false, 2, func(p *pool.Pool) {
		done := make(chan error, 1)
		d.Build(p, ops, key.NewStack(), []key.Key{"k1", "k2"}, func(_ *store.BuildResult, err error) {
			done <- err
		})
		require.NoError(t, <-done)
	}))
	require.NoError(t, d.Close())
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// TestTargets_Text tests the text listing.
func TestTargets_Text(t *testing.T) {
	path := buildTestDB(t)
	out, err := execute(t, "targets", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "session: cli-session")
	assert.Contains(t, out, "string")
}

// TestTargets_JSON tests the json listing.
func TestTargets_JSON(t *testing.T) {
	path := buildTestDB(t)
	out, err := execute(t, "targets", "--db", path, "--format", "json")
	require.NoError(t, err)

	var parsed struct {
		Session string `json:"session"`
		Targets []struct {
			ID      int64  `json:"id"`
			KeyType string `json:"key_type"`
		} `json:"targets"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "cli-session", parsed.Session)
	assert.Len(t, parsed.Targets, 2)
}

// TestTargets_MissingDB tests the command-error exit code.
func TestTargets_MissingDB(t *testing.T) {
	_, err := execute(t, "targets", "--db", filepath.Join(t.TempDir(), "absent", "x.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// TestReport_WritesFile tests report rendering to a file.
func TestReport_WritesFile(t *testing.T) {
	path := buildTestDB(t)
	out := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, "report", "--db", path, "-o", out)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "cli-session", parsed["session"])
	assert.Len(t, parsed["entries"], 2)
}

// TestRoot_RejectsBadFormat tests global flag validation.
func TestRoot_RejectsBadFormat(t *testing.T) {
	path := buildTestDB(t)
	_, err := execute(t, "targets", "--db", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// TestExitCodes tests ExitError plumbing.
func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "x")))
	wrapped := WrapExitError(ExitCommandError, "ctx", assert.AnError)
	assert.Contains(t, wrapped.Error(), "ctx")
	assert.ErrorIs(t, wrapped, assert.AnError)
}
