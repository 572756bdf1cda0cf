package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// ExecuteGolden runs the scenario and compares the live-key listing
// against testdata/<Name>.golden. The listing is in record order, which
// deterministic scheduling makes stable.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func (s *Scenario) ExecuteGolden(t *testing.T) *Result {
	t.Helper()

	res := s.Execute(t)
	if s.WantErr != "" {
		return res
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, s.Name, []byte(strings.Join(res.Live, "\n")+"\n"))
	return res
}
