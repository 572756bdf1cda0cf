package engine

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/keelbuild/keel/internal/key"
	"github.com/keelbuild/keel/internal/store"
)

// Apply demands values for keys, blocking (cooperatively) until every key
// has been built or validated. The call records one dependency group on
// the action, in key order. Missing rules and result-type disagreements
// fail before anything is scheduled.
func Apply[K comparable, V any](a *Action, keys []K) ([]V, error) {
	if a.local.blockApply != "" {
		return nil, codedErrorf(ErrCodeNoApplyHere,
			"apply is not allowed here: %s", a.local.blockApply)
	}

	want := reflect.TypeFor[V]()
	for _, k := range keys {
		ri, ok := a.global.rules[key.TypeOf(k)]
		if !ok {
			return nil, codedErrorf(ErrCodeNoRuleToBuild,
				"no rule to build key %s, expected result type %s",
				key.ShowTyped(k), want)
		}
		if ri.resultType != want {
			return nil, codedErrorf(ErrCodeRuleTypeMismatch,
				"rule for %s produces %s, but %s was requested",
				key.ShowTyped(k), ri.resultType, want)
		}
	}

	erased := make([]key.Key, len(keys))
	for i, k := range keys {
		erased[i] = k
	}
	values, err := a.applyKeyValue(erased)
	if err != nil {
		return nil, err
	}
	out := make([]V, len(values))
	for i, v := range values {
		out[i] = v.(V)
	}
	return out, nil
}

// Apply1 is Apply for a single key.
func Apply1[K comparable, V any](a *Action, k K) (V, error) {
	vs, err := Apply[K, V](a, []K{k})
	if err != nil {
		var zero V
		return zero, err
	}
	return vs[0], nil
}

// applyKeyValue suspends the action, drives the database build, and on
// resume charges the wait to the discount and records the dependency
// group.
func (a *Action) applyKeyValue(keys []key.Key) ([]key.Value, error) {
	g := a.global
	res, err := a.suspend(func(resume func(any, error)) {
		g.db.Build(g.pool, g.ops, a.local.stack, keys, func(r *store.BuildResult, err error) {
			if err != nil {
				resume(nil, err)
				return
			}
			resume(r, nil)
		})
	})
	if err != nil {
		return nil, err
	}
	br := res.(*store.BuildResult)
	a.local.discount += br.Wait
	a.local.depends = append([]key.Depends{br.Depends}, a.local.depends...)
	return br.Values, nil
}

// runKey is the exec callback handed to the database: run k's rule on a
// fresh action whose chain is stack. It executes synchronously on the
// calling pool job and delivers exactly once.
func (g *Global) runKey(stack key.Stack, k key.Key, deliver func(*store.ExecResult, error)) {
	fail := func(err error) {
		deliver(nil, g.wrapError(func() key.Stack { return stack }, err))
	}

	ri, ok := g.rules[key.TypeOf(k)]
	if !ok {
		fail(codedErrorf(ErrCodeNoRuleToBuild,
			"no rule to build key %s", key.ShowTyped(k)))
		return
	}

	local := newLocal(stack, g.opts.Verbosity)
	a := &Action{global: g, local: local}
	if g.opts.Verbosity >= Chatty {
		g.output(Chatty, "# "+key.Show(k))
	}

	start := time.Now()
	value, err := runRecovered(func() (key.Value, error) {
		return ri.execute(a, k)
	})
	if err == nil && g.opts.Lint == LintFSATrace {
		err = a.trackCheckUsed()
	}
	if err == nil && g.lintCwd != "" {
		err = checkCwd(g.lintCwd)
	}
	if err != nil {
		fail(err)
		return
	}

	deliver(&store.ExecResult{
		Value:     value,
		Depends:   reverseDepends(local.depends),
		Execution: time.Since(start) - local.discount,
		Traces:    reverseTraces(local.traces),
	}, nil)
}

// runRecovered converts a panic in user rule code into an error, so one
// broken rule fails its key instead of the whole process.
func runRecovered(f func() (key.Value, error)) (v key.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic in rule: %w", e)
				return
			}
			err = fmt.Errorf("panic in rule: %v", r)
		}
	}()
	return f()
}

// checkCwd asserts the working directory has not drifted since the run
// started. Rules must not chdir: the engine runs them concurrently in one
// process.
func checkCwd(want string) error {
	got, err := os.Getwd()
	if err != nil {
		return codedErrorf(ErrCodeLintCwdChanged, "cannot read working directory: %v", err)
	}
	if got != want {
		return codedErrorf(ErrCodeLintCwdChanged,
			"current directory changed\nWanted: %s\nGot: %s", want, got)
	}
	return nil
}

// reverseDepends converts newest-first accumulation to apply order.
func reverseDepends(ds []key.Depends) []key.Depends {
	out := make([]key.Depends, len(ds))
	for i, d := range ds {
		out[len(ds)-1-i] = d
	}
	return out
}

// reverseTraces converts newest-first accumulation to chronological
// order.
func reverseTraces(ts []key.Trace) []key.Trace {
	out := make([]key.Trace, len(ts))
	for i, t := range ts {
		out[len(ts)-1-i] = t
	}
	return out
}
