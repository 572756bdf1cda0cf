package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// timings is a coarse named-phase timer for the run driver. Each phase
// runs from its announcement to the next one; dump prints the breakdown
// and resets.
type timings struct {
	mu     sync.Mutex
	origin time.Time
	last   time.Time
	names  []string
	durs   []time.Duration
}

func newTimings() *timings {
	now := time.Now()
	return &timings{origin: now, last: now}
}

// phase closes the previous phase and opens a new one.
func (t *timings) phase(name string) {
	now := time.Now()
	t.mu.Lock()
	if len(t.names) > 0 {
		t.durs[len(t.durs)-1] = now.Sub(t.last)
	}
	t.names = append(t.names, name)
	t.durs = append(t.durs, 0)
	t.last = now
	t.mu.Unlock()
}

// dump renders the phase breakdown through out and resets the timer.
func (t *timings) dump(out func(string)) {
	now := time.Now()
	t.mu.Lock()
	if len(t.names) > 0 {
		t.durs[len(t.durs)-1] = now.Sub(t.last)
	}
	total := now.Sub(t.origin)
	var b strings.Builder
	for i, name := range t.names {
		pct := 0
		if total > 0 {
			pct = int(float64(t.durs[i]) / float64(total) * 100)
		}
		fmt.Fprintf(&b, "%-40s %8.3fs  %3d%%\n", name, t.durs[i].Seconds(), pct)
	}
	fmt.Fprintf(&b, "%-40s %8.3fs", "Total", total.Seconds())
	t.names = nil
	t.durs = nil
	t.origin = now
	t.last = now
	t.mu.Unlock()
	out(b.String())
}
