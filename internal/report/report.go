// Package report renders a build database as a profile report: one entry
// per live key with build stamps, execution time, traced spans, and
// dependency groups referencing other entries by index.
//
// Output is canonical JSON so identical builds produce byte-identical
// reports.
package report

import (
	"fmt"
	"os"

	"github.com/keelbuild/keel/internal/store"
)

// Render produces the canonical JSON report body.
func Render(sessionID string, entries []store.ReportEntry) ([]byte, error) {
	list := make([]any, len(entries))
	for i, e := range entries {
		traces := make([]any, len(e.Traces))
		for j, t := range e.Traces {
			traces[j] = map[string]any{
				"message":  t.Message,
				"start_ns": t.Start.Nanoseconds(),
				"stop_ns":  t.Stop.Nanoseconds(),
			}
		}
		groups := make([]any, len(e.Depends))
		for j, g := range e.Depends {
			ids := make([]any, len(g))
			for n, id := range g {
				ids[n] = id
			}
			groups[j] = ids
		}
		list[i] = map[string]any{
			"name":         e.Name,
			"built":        e.Built,
			"changed":      e.Changed,
			"execution_ns": e.Execution.Nanoseconds(),
			"traces":       traces,
			"depends":      groups,
		}
	}

	body := map[string]any{
		"session": sessionID,
		"entries": list,
	}
	out, err := marshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return append(out, '\n'), nil
}

// Write renders the report to path; "-" means stdout.
func Write(path, sessionID string, entries []store.ReportEntry) error {
	body, err := Render(sessionID, entries)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err := os.Stdout.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
