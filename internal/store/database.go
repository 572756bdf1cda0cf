// Package store is the build database: the per-key record of values,
// dependency lists, and build stamps that lets the scheduler skip work
// that is still valid, and the synchronization point that guarantees each
// key's rule runs at most once per session however many actions demand it.
//
// Records persist across sessions in SQLite (see persist.go); within a
// session everything lives in an in-memory map guarded by one mutex. The
// mutex is never held across rule execution or while invoking waiters.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/keelbuild/keel/internal/key"
	"github.com/keelbuild/keel/internal/pool"
)

// BuildOps is the triple of callbacks the scheduler supplies: how to read
// a key's current stored value, how to compare values, and how to execute
// a key's rule. The database owns staleness and at-most-once; the
// scheduler owns everything about actually running rules.
type BuildOps struct {
	// Stored reads the key's current out-of-band value. checked=false
	// means the rule has no stored handler and the check is skipped.
	Stored func(k key.Key) (v key.Value, present bool, checked bool)

	// Equal compares two values of the key's rule family.
	Equal func(k key.Key, old, new key.Value) bool

	// Exec runs the key's rule on a fresh action whose chain is stack,
	// delivering the result exactly once. Exec is invoked on a pool job.
	Exec func(stack key.Stack, k key.Key, deliver func(*ExecResult, error))
}

// ExecResult is what one rule execution produced.
type ExecResult struct {
	Value key.Value

	// Depends holds the rule's recorded dependency groups in apply
	// order.
	Depends []key.Depends

	// Execution is wall time minus the rule's suspension discount.
	Execution time.Duration

	// Traces holds the rule's recorded spans in chronological order.
	Traces []key.Trace
}

// BuildResult is delivered to a Build caller once every demanded key has
// a value.
type BuildResult struct {
	// Wait is how long the caller was suspended; callers add it to
	// their discount.
	Wait time.Duration

	// Depends is the single dependency group this Build call records:
	// the demanded keys, in demand order.
	Depends key.Depends

	// Values holds one value per demanded key, in demand order.
	Values []key.Value
}

// status is the per-session lifecycle of a key record.
type status int

const (
	// statusLoaded: record restored from a prior session, validity
	// unknown.
	statusLoaded status = iota
	// statusChecking: dependency/stored validation in flight.
	statusChecking
	// statusRunning: rule executing.
	statusRunning
	// statusReady: value available this session.
	statusReady
	// statusFailed: rule or validation failed this session.
	statusFailed
)

type entry struct {
	id int64
	k  key.Key

	status status
	value  key.Value
	deps   []key.Depends

	// built/changed are step ordinals: built is the step that last
	// obtained the value, changed the step that last produced a
	// different value. changed <= built always.
	built   int64
	changed int64

	execution time.Duration
	traces    []key.Trace

	// prev holds the superseded value while a stale record re-runs, so
	// the equality cutoff can compare against it.
	prev    key.Value
	hasPrev bool

	err error

	// live marks records demanded during this session.
	live bool

	// waiters fire exactly once, after the entry reaches statusReady or
	// statusFailed. Always invoked with the database unlocked.
	waiters []func()
}

func (e *entry) finished() bool {
	return e.status == statusReady || e.status == statusFailed
}

// Options configures Open.
type Options struct {
	// Path locates the SQLite file. Empty means in-memory only.
	Path string

	// SessionID labels this run in the meta table and reports.
	SessionID string

	// Logger receives database diagnostics. nil means slog.Default.
	Logger *slog.Logger
}

// Database is the build database. All exported methods are safe for
// concurrent use.
type Database struct {
	mu      sync.Mutex
	entries map[key.Key]*entry
	nextID  int64

	// step is this session's ordinal, one past the last persisted
	// session's.
	step int64

	sessionID string
	logger    *slog.Logger

	persist *persistence // nil when in-memory only
}

// Open creates or opens a database. Records that fail to decode (for
// example, rule types no longer registered) are dropped and will rebuild.
func Open(opts Options) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Database{
		entries:   make(map[key.Key]*entry),
		nextID:    1,
		step:      1,
		sessionID: opts.SessionID,
		logger:    logger,
	}
	if opts.Path != "" {
		p, err := openPersistence(opts.Path)
		if err != nil {
			return nil, err
		}
		d.persist = p
		if err := d.load(); err != nil {
			p.close()
			return nil, err
		}
	}
	return d, nil
}

// Close flushes the session stamp and releases the underlying file.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.persist == nil {
		return nil
	}
	if err := d.persist.writeMeta(d.step, d.sessionID); err != nil {
		return err
	}
	return d.persist.close()
}

// Build demands values for keys on behalf of the action whose chain is
// stack. The result is delivered exactly once: synchronously when every
// key is already finished, otherwise from whichever pool job finishes the
// last demanded key. Each key's rule runs at most once per session no
// matter how many concurrent demands arrive.
func (d *Database) Build(p *pool.Pool, ops BuildOps, stack key.Stack, keys []key.Key, deliver func(*BuildResult, error)) {
	for _, k := range keys {
		if stack.Contains(k) {
			deliver(nil, &CycleError{Key: k, Stack: stack})
			return
		}
	}

	start := time.Now()

	d.mu.Lock()
	var unfinished []*entry
	for _, k := range keys {
		e := d.demandLocked(p, ops, stack, k)
		if !e.finished() {
			unfinished = append(unfinished, e)
		}
	}

	finish := func() {
		d.mu.Lock()
		values := make([]key.Value, len(keys))
		var firstErr error
		for i, k := range keys {
			e := d.entries[k]
			if e.err != nil && firstErr == nil {
				firstErr = e.err
			}
			values[i] = e.value
		}
		d.mu.Unlock()
		if firstErr != nil {
			deliver(nil, firstErr)
			return
		}
		deliver(&BuildResult{
			Wait:    time.Since(start),
			Depends: key.Depends(keys),
			Values:  values,
		}, nil)
	}

	if len(unfinished) == 0 {
		d.mu.Unlock()
		finish()
		return
	}

	var joinMu sync.Mutex
	pending := len(unfinished)
	for _, e := range unfinished {
		e.waiters = append(e.waiters, func() {
			joinMu.Lock()
			pending--
			last := pending == 0
			joinMu.Unlock()
			if last {
				finish()
			}
		})
	}
	d.mu.Unlock()
}

// demandLocked looks up or creates the entry for k and kicks off whatever
// work its state requires. Caller holds d.mu.
func (d *Database) demandLocked(p *pool.Pool, ops BuildOps, stack key.Stack, k key.Key) *entry {
	e, ok := d.entries[k]
	if !ok {
		e = &entry{id: d.nextID, k: k, status: statusRunning, live: true}
		d.nextID++
		d.entries[k] = e
		d.spawnExec(p, ops, stack, e)
		return e
	}
	e.live = true
	if e.status == statusLoaded {
		e.status = statusChecking
		d.spawnCheck(p, ops, stack, e)
	}
	return e
}

// spawnExec schedules k's rule on the pool. Caller holds d.mu.
func (d *Database) spawnExec(p *pool.Pool, ops BuildOps, stack key.Stack, e *entry) {
	childStack := stack.Push(e.k)
	p.Spawn(func() {
		ops.Exec(childStack, e.k, func(res *ExecResult, err error) {
			d.finishExec(ops, e, res, err)
		})
	})
}

// finishExec records a rule execution's outcome and releases waiters.
func (d *Database) finishExec(ops BuildOps, e *entry, res *ExecResult, err error) {
	d.mu.Lock()
	if err != nil {
		e.status = statusFailed
		e.err = err
	} else {
		e.status = statusReady
		e.err = nil
		unchanged := e.hasPrev && ops.Equal(e.k, e.prev, res.Value)
		if !unchanged {
			e.changed = d.step
		}
		e.built = d.step
		e.value = res.Value
		e.deps = res.Depends
		e.execution = res.Execution
		e.traces = res.Traces
		e.prev = nil
		e.hasPrev = false
		d.persistEntryLocked(e)
	}
	waiters := e.waiters
	e.waiters = nil
	d.mu.Unlock()

	for _, w := range waiters {
		w()
	}
}

// spawnCheck schedules validation of a record loaded from a prior
// session: rebuild its recorded dependencies, compare their change stamps
// against this record's build stamp, then confirm the stored value still
// matches. Any miss re-runs the rule. Caller holds d.mu.
func (d *Database) spawnCheck(p *pool.Pool, ops BuildOps, stack key.Stack, e *entry) {
	childStack := stack.Push(e.k)
	depKeys := flattenDepends(e.deps)
	p.Spawn(func() {
		if len(depKeys) == 0 {
			d.finishCheck(p, ops, childStack, e, true)
			return
		}
		d.Build(p, ops, childStack, depKeys, func(res *BuildResult, err error) {
			if err != nil {
				d.failCheck(e, err)
				return
			}
			d.mu.Lock()
			fresh := true
			for _, dk := range depKeys {
				de := d.entries[dk]
				if de == nil || de.status != statusReady || de.changed > e.built {
					fresh = false
					break
				}
			}
			d.mu.Unlock()
			d.finishCheck(p, ops, childStack, e, fresh)
		})
	})
}

// finishCheck resolves a validation: a fresh record becomes Ready with
// its loaded value; a stale one re-runs its rule with the old value kept
// for the equality cutoff.
func (d *Database) finishCheck(p *pool.Pool, ops BuildOps, childStack key.Stack, e *entry, depsFresh bool) {
	valid := depsFresh
	if valid {
		if v, present, checked := ops.Stored(e.k); checked {
			valid = present && ops.Equal(e.k, e.value, v)
		}
	}

	d.mu.Lock()
	if valid {
		e.status = statusReady
		waiters := e.waiters
		e.waiters = nil
		d.mu.Unlock()
		for _, w := range waiters {
			w()
		}
		return
	}

	e.prev = e.value
	e.hasPrev = true
	e.status = statusRunning
	d.mu.Unlock()

	// Back through the pool: a stale-record re-run may be arbitrarily
	// expensive and must not run inside another key's waiter chain.
	p.Spawn(func() {
		ops.Exec(childStack, e.k, func(res *ExecResult, err error) {
			d.finishExec(ops, e, res, err)
		})
	})
}

// failCheck fails a record whose recorded dependencies failed to build.
func (d *Database) failCheck(e *entry, err error) {
	d.mu.Lock()
	e.status = statusFailed
	e.err = err
	waiters := e.waiters
	e.waiters = nil
	d.mu.Unlock()
	for _, w := range waiters {
		w()
	}
}

// ListDepends expands one recorded dependency group into its keys.
func (d *Database) ListDepends(ds key.Depends) []key.Key {
	return []key.Key(ds)
}

// LookupDependencies returns every key k depends on, flattened across its
// dependency groups in apply order. Unknown keys have no dependencies.
func (d *Database) LookupDependencies(k key.Key) []key.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[k]
	if !ok {
		return nil
	}
	return flattenDepends(e.deps)
}

// ListLive returns the keys demanded during this session, in record
// order.
func (d *Database) ListLive() []key.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	var live []*entry
	for _, e := range d.entries {
		if e.live {
			live = append(live, e)
		}
	}
	sortByID(live)
	keys := make([]key.Key, len(live))
	for i, e := range live {
		keys[i] = e.k
	}
	return keys
}

// AssertFinished verifies no key was left mid-flight once the pool has
// drained. A failure here is a scheduler bug, not a user error.
func (d *Database) AssertFinished() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var stuck []key.Key
	for _, e := range d.entries {
		if e.live && !e.finished() || len(e.waiters) > 0 {
			stuck = append(stuck, e.k)
		}
	}
	if len(stuck) > 0 {
		return &UnfinishedError{Keys: stuck}
	}
	return nil
}

func flattenDepends(groups []key.Depends) []key.Key {
	var out []key.Key
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func sortByID(es []*entry) {
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && es[j-1].id > es[j].id; j-- {
			es[j-1], es[j] = es[j], es[j-1]
		}
	}
}
