package engine

import (
	"strings"
	"sync"
)

// recorder is an output sink capturing everything the engine prints.
// Kept local to the package tests so internals stay inspectable.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) sink() func(Verbosity, string) {
	return func(v Verbosity, msg string) {
		r.mu.Lock()
		r.lines = append(r.lines, msg)
		r.mu.Unlock()
	}
}

func (r *recorder) contains(sub string) bool {
	return r.count(sub) > 0
}

func (r *recorder) count(sub string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if strings.Contains(l, sub) {
			n++
		}
	}
	return n
}

// testOpts returns quiet in-memory options wired to rec.
func testOpts(rec *recorder) Options {
	o := DefaultOptions()
	o.Output = rec.sink()
	return o
}

// srcKey is the workhorse key type of the engine tests: a named string
// whose rule is defined per test.
type srcKey string
