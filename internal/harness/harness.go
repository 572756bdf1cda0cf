// Package harness runs conformance scenarios against the full engine:
// each scenario registers rules and top-level actions, executes a real
// build with deterministic scheduling, and exposes the output, the live
// key listing, and the error for assertions or golden comparison.
package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keelbuild/keel/internal/engine"
	"github.com/keelbuild/keel/internal/testutil"
)

// FixedSession is the session id used by every scenario, keeping database
// stamps and reports reproducible.
const FixedSession = "test-session"

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are stored
	// under testdata/<Name>.golden.
	Name string

	// Rules registers the scenario's rules and top-level actions.
	Rules func(*engine.Rules)

	// Configure optionally tweaks the options before the run.
	Configure func(*engine.Options)

	// WantErr, when non-empty, must be a substring of the run error.
	// Empty means the run must succeed.
	WantErr string
}

// Result is what a scenario execution produced.
type Result struct {
	Err    error
	Output *testutil.RecordingOutput

	// Live is the live-key listing, one key per line, in record order.
	Live []string
}

// Execute runs the scenario's build with deterministic scheduling and a
// fixed session id, then checks the error expectation.
func (s *Scenario) Execute(t *testing.T) *Result {
	t.Helper()

	dir := t.TempDir()
	livePath := filepath.Join(dir, "live.txt")

	out := &testutil.RecordingOutput{}
	opts := engine.DefaultOptions()
	opts.Deterministic = true
	opts.SessionID = FixedSession
	opts.DatabasePath = filepath.Join(dir, "build.db")
	opts.LiveFiles = []string{livePath}
	opts.Output = out.Func()
	if s.Configure != nil {
		s.Configure(&opts)
	}

	rules := engine.NewRules()
	s.Rules(rules)

	err := engine.Run(opts, rules)
	res := &Result{Err: err, Output: out}

	if s.WantErr != "" {
		require.Error(t, err, "scenario %s should fail", s.Name)
		require.Contains(t, err.Error(), s.WantErr, "scenario %s error mismatch", s.Name)
		return res
	}
	require.NoError(t, err, "scenario %s should succeed", s.Name)

	data, readErr := os.ReadFile(livePath)
	require.NoError(t, readErr, "scenario %s live listing", s.Name)
	res.Live = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	return res
}
