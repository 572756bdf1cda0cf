// Package engine implements the run-time scheduler and action context of
// the keel build system: the machinery that drives user rules to
// completion, records the dependencies they consume, coordinates parallel
// execution over a bounded worker pool, gates sections on user resources,
// memoises per-key results, and lifts failures into structured errors.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/keelbuild/keel/internal/key"
	"github.com/keelbuild/keel/internal/pool"
	"github.com/keelbuild/keel/internal/store"
)

// Global is the per-build shared context. It is immutable after Run
// constructs it except for the interior-mutable cells (first error,
// finalisers, absent claims), which are guarded by their own locks.
type Global struct {
	db    *store.Database
	pool  *pool.Pool
	ops   store.BuildOps
	start time.Time
	rules map[typeTag]*ruleInfo
	opts  Options

	// output is the serialized sink; safe to call from any goroutine.
	output func(Verbosity, string)

	logger *slog.Logger

	// raiseError routes a structured failure per the staunch policy:
	// record-first in staunch mode, terminate the pool otherwise.
	raiseError func(*BuildError)

	afterMu sync.Mutex
	after   []func() // runAfter finalisers, registration order

	absentMu sync.Mutex
	absent   []store.AbsentClaim // trackChange claims, newest first

	lintCwd string // working directory pinned at run start when linting
}

// diagnostic emits a lazily built message at Diagnostic verbosity.
// The thunk never runs below that level.
func (g *Global) diagnostic(msg func() string) {
	if g.opts.Verbosity >= Diagnostic {
		g.output(Diagnostic, msg())
	}
}

// runAfter registers a finaliser executed after the build finishes, in
// reverse registration order.
func (g *Global) runAfter(f func()) {
	g.afterMu.Lock()
	g.after = append(g.after, f)
	g.afterMu.Unlock()
}

// Local is the per-action mutable state. It travels with the action's
// goroutine and is never shared across threads; parallel branches get a
// cleared clone.
type Local struct {
	stack     key.Stack
	verbosity Verbosity

	// depends holds one Depends group per Apply call, newest first.
	depends []key.Depends

	// discount is time this action spent suspended (waiting on builds,
	// resources, or fences); subtracted from its reported duration.
	discount time.Duration

	// traces holds spans recorded by Traced, newest first.
	traces []key.Trace

	// trackUsed holds keys used by the rule but not (yet) depended upon,
	// validated at the end of the rule under fsatrace linting.
	trackUsed []key.Key

	// trackAllows suppress tracking for keys any predicate accepts.
	trackAllows []func(key.Key) bool

	// blockApply, when non-empty, names the scope that forbids Apply.
	blockApply string
}

func newLocal(stack key.Stack, verbosity Verbosity) *Local {
	return &Local{stack: stack, verbosity: verbosity}
}

// cloneClear copies the scope-carrying fields (stack, verbosity,
// blockApply, trackAllows) and clears the accumulating ones. Used at
// parallel branch points.
func (l *Local) cloneClear() *Local {
	allows := make([]func(key.Key) bool, len(l.trackAllows))
	copy(allows, l.trackAllows)
	return &Local{
		stack:       l.stack,
		verbosity:   l.verbosity,
		trackAllows: allows,
		blockApply:  l.blockApply,
	}
}

// mergeFrom folds a finished parallel branch's accumulated state into the
// parent.
func (l *Local) mergeFrom(branch *Local) {
	l.depends = append(branch.depends, l.depends...)
	l.traces = append(branch.traces, l.traces...)
	l.trackUsed = append(l.trackUsed, branch.trackUsed...)
}

// Action is a user computation in the scheduler's context: read access to
// the Global, ownership of a Local, and the ability to suspend off its
// worker slot.
type Action struct {
	global *Global
	local  *Local
}

// Verbosity returns the action's current verbosity.
func (a *Action) Verbosity() Verbosity {
	return a.local.verbosity
}

// WithVerbosity runs f with the verbosity changed, restoring it after.
func (a *Action) WithVerbosity(v Verbosity, f func() error) error {
	old := a.local.verbosity
	a.local.verbosity = v
	defer func() { a.local.verbosity = old }()
	return f()
}

// Output writes a message through the build's serialized sink.
func (a *Action) Output(v Verbosity, msg string) {
	a.global.output(v, msg)
}

// Logger returns the build's diagnostic logger.
func (a *Action) Logger() *slog.Logger {
	return a.global.logger
}

// Stack returns the key chain this action is executing under.
func (a *Action) Stack() key.Stack {
	return a.local.stack
}

// Traced runs f and records a trace span named msg, with offsets relative
// to the build start. The span is synchronous: the worker slot is held
// throughout.
func (a *Action) Traced(msg string, f func() error) error {
	g := a.global
	start := time.Since(g.start)
	g.output(Loud, "% "+msg)
	err := f()
	stop := time.Since(g.start)
	a.local.traces = append([]key.Trace{{Message: msg, Start: start, Stop: stop}}, a.local.traces...)
	return err
}

// resumption carries the result a suspended action is resumed with.
type resumption struct {
	value any
	err   error
}

// suspend detaches the action from its worker slot. setup receives a
// resume callback that must eventually be invoked exactly once, from any
// goroutine; the action then re-acquires a slot and continues with the
// delivered result. Error results re-enter the pool at priority so failed
// continuations surface promptly.
//
// If resume fires before setup returns, the action continues without
// bouncing through the pool queue.
func (a *Action) suspend(setup func(resume func(any, error))) (any, error) {
	ch := make(chan resumption, 1)
	var once sync.Once
	setup(func(v any, err error) {
		once.Do(func() { ch <- resumption{value: v, err: err} })
	})

	select {
	case r := <-ch:
		return r.value, r.err
	default:
	}

	p := a.global.pool
	p.Exit()
	r := <-ch
	p.Reenter(r.err != nil)
	return r.value, r.err
}

// yield releases the slot and immediately queues for a new one, letting
// other ready work run. Priority re-entry queues ahead of normal work.
func (a *Action) yield(priority bool) {
	p := a.global.pool
	p.Exit()
	p.Reenter(priority)
}
