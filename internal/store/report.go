package store

import (
	"fmt"
	"time"

	"github.com/keelbuild/keel/internal/key"
)

// Progress is a point-in-time summary of the session, read by the
// progress reporter while the build runs.
type Progress struct {
	// Done counts keys with a value this session (built or validated).
	Done int

	// Failed counts keys whose rule or validation failed.
	Failed int

	// Running counts rules currently executing.
	Running int

	// Checking counts prior-session records being validated.
	Checking int

	// Unknown counts loaded records not yet demanded.
	Unknown int
}

// Progress summarizes the current session state.
func (d *Database) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	var p Progress
	for _, e := range d.entries {
		switch e.status {
		case statusReady:
			p.Done++
		case statusFailed:
			p.Failed++
		case statusRunning:
			p.Running++
		case statusChecking:
			p.Checking++
		case statusLoaded:
			p.Unknown++
		}
	}
	return p
}

// ReportEntry is one key's row in the profile report. Depends references
// other report entries by index, so the report is self-contained.
type ReportEntry struct {
	Name      string
	Built     int64
	Changed   int64
	Execution time.Duration
	Traces    []key.Trace
	Depends   [][]int
}

// ToReport renders every live record, in record order. Dependency groups
// become index lists into the returned slice; dependencies that are not
// themselves live are omitted from the groups.
func (d *Database) ToReport() []ReportEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	var live []*entry
	for _, e := range d.entries {
		if e.live && e.status == statusReady {
			live = append(live, e)
		}
	}
	sortByID(live)

	index := make(map[key.Key]int, len(live))
	for i, e := range live {
		index[e.k] = i
	}

	out := make([]ReportEntry, len(live))
	for i, e := range live {
		groups := make([][]int, 0, len(e.deps))
		for _, g := range e.deps {
			ids := make([]int, 0, len(g))
			for _, dk := range g {
				if di, ok := index[dk]; ok {
					ids = append(ids, di)
				}
			}
			groups = append(groups, ids)
		}
		out[i] = ReportEntry{
			Name:      key.ShowTyped(e.k),
			Built:     e.built,
			Changed:   e.changed,
			Execution: e.execution,
			Traces:    e.traces,
			Depends:   groups,
		}
	}
	return out
}

// AbsentClaim records one trackChange call that fell outside the calling
// rule's own key: Owner claims Claimed is not tracked by the build.
// Owner is nil for claims made by top-level actions.
type AbsentClaim struct {
	Owner   key.Key
	Claimed key.Key
}

// CheckValid runs the post-build lint checks: every finished record's
// stored value must still match, and every key claimed absent must really
// be absent from the database.
func (d *Database) CheckValid(
	stored func(k key.Key) (key.Value, bool, bool),
	equal func(k key.Key, old, new key.Value) bool,
	absent []AbsentClaim,
) error {
	d.mu.Lock()
	var finished []*entry
	for _, e := range d.entries {
		if e.live && e.status == statusReady {
			finished = append(finished, e)
		}
	}
	sortByID(finished)
	d.mu.Unlock()

	for _, e := range finished {
		v, present, checked := stored(e.k)
		if !checked {
			continue
		}
		if !present || !equal(e.k, e.value, v) {
			return &ValidityError{Message: fmt.Sprintf(
				"stored value of %s changed since it was built", key.Show(e.k))}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, claim := range absent {
		if _, ok := d.entries[claim.Claimed]; ok {
			owner := "a top-level action"
			if claim.Owner != nil {
				owner = key.Show(claim.Owner)
			}
			return &ValidityError{Message: fmt.Sprintf(
				"%s claimed %s is untracked, but the build system tracks it",
				owner, key.Show(claim.Claimed))}
		}
	}
	return nil
}
