package key

import "time"

// Trace records one traced span inside a rule execution. Offsets are
// relative to the start of the build, so traces from different actions
// line up on a common timeline in reports.
type Trace struct {
	Message string
	Start   time.Duration
	Stop    time.Duration
}
