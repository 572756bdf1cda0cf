package engine

import (
	"sync/atomic"

	"github.com/keelbuild/keel/internal/store"
)

// ProgressSnapshot is what a progress callback reads on each poll.
type ProgressSnapshot struct {
	store.Progress

	// IsRunning turns false once the build has finished; callbacks use
	// it as their termination condition.
	IsRunning bool

	// FirstFailure is the target of the first recorded failure, empty
	// while the build is clean.
	FirstFailure string
}

// startProgress launches the user progress callback on its own goroutine
// with a lazy snapshot function. The returned stop func flips IsRunning,
// which is the callback's signal to return; the engine does not wait for
// it.
func startProgress(g *Global, firstFailure func() string) (stop func()) {
	var finished atomic.Bool
	if g.opts.Progress == nil {
		return func() { finished.Store(true) }
	}

	snapshot := func() ProgressSnapshot {
		return ProgressSnapshot{
			Progress:     g.db.Progress(),
			IsRunning:    !finished.Load(),
			FirstFailure: firstFailure(),
		}
	}
	go g.opts.Progress(snapshot)
	return func() { finished.Store(true) }
}
