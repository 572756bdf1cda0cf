package engine

import (
	"fmt"
	"sync"
)

// Parallel runs acts as structured sub-actions of a and returns their
// results in submission order. The parent suspends while branches run;
// each branch gets a cleared clone of the parent's Local. The first
// failure (in completion order) resumes the parent immediately and
// cancels branches that have not started; already-running branches finish
// but their results are discarded. On full success the branches' recorded
// dependencies and traces merge back into the parent in branch order.
func Parallel[T any](a *Action, acts []func(*Action) (T, error)) ([]T, error) {
	switch len(acts) {
	case 0:
		return nil, nil
	case 1:
		// A single branch runs in the parent directly; no scheduling.
		v, err := acts[0](a)
		if err != nil {
			return nil, err
		}
		return []T{v}, nil
	}

	g := a.global

	type state struct {
		mu      sync.Mutex
		todo    int // -1 once resolved (all done or first failure)
		results []T
		locals  []*Local
	}
	st := &state{todo: len(acts), results: make([]T, len(acts)), locals: make([]*Local, len(acts))}

	res, err := a.suspend(func(resume func(any, error)) {
		for i, act := range acts {
			branch := &Action{global: g, local: a.local.cloneClear()}
			g.pool.Spawn(func() {
				st.mu.Lock()
				cancelled := st.todo < 0
				st.mu.Unlock()
				if cancelled {
					return
				}

				v, err := runBranch(branch, act)

				st.mu.Lock()
				if st.todo < 0 {
					st.mu.Unlock()
					return
				}
				if err != nil {
					st.todo = -1
					st.mu.Unlock()
					resume(nil, err)
					return
				}
				st.results[i] = v
				st.locals[i] = branch.local
				st.todo--
				finished := st.todo == 0
				if finished {
					st.todo = -1
				}
				st.mu.Unlock()
				if finished {
					resume(st, nil)
				}
			})
		}
	})
	if err != nil {
		return nil, err
	}

	done := res.(*state)
	for _, l := range done.locals {
		a.local.mergeFrom(l)
	}
	return done.results, nil
}

// runBranch executes one parallel branch with panic recovery, so a
// panicking branch fails the combinator instead of the process.
func runBranch[T any](b *Action, act func(*Action) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic in parallel branch: %w", e)
				return
			}
			err = fmt.Errorf("panic in parallel branch: %v", r)
		}
	}()
	return act(b)
}

// OrderOnly runs act and then discards any dependencies it recorded: the
// work happens, the ordering holds, but nothing act built is treated as
// an input of the calling rule. Traces, discount, and lint state are
// kept.
func (a *Action) OrderOnly(act func() error) error {
	saved := a.local.depends
	defer func() { a.local.depends = saved }()
	return act()
}

// UnsafeExtraThread runs act with the pool's concurrency limit raised by
// one, for actions that burn a thread outside the engine's control (for
// example, an interactive subprocess). Apply is forbidden inside act.
// Afterwards the action gives its borrowed slot back by re-entering the
// pool queue, at priority when act failed, so failing continuations
// surface promptly.
func (a *Action) UnsafeExtraThread(act func() error) error {
	release := a.global.pool.Increase()

	oldBlock := a.local.blockApply
	a.local.blockApply = "Within unsafeExtraThread"
	err := act()
	a.local.blockApply = oldBlock

	release()
	a.yield(err != nil)
	return err
}
