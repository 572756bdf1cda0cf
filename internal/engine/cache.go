package engine

import (
	"sync"
	"time"

	"github.com/keelbuild/keel/internal/key"
)

// fence is a one-shot promise: signalled exactly once, waitable any
// number of times before or after.
type fence struct {
	mu      sync.Mutex
	done    bool
	deps    []key.Depends
	value   any
	err     error
	waiters []func(deps []key.Depends, value any, err error)
}

// wait registers cb, invoking it immediately when the fence has already
// been signalled. cb runs outside the fence lock.
func (f *fence) wait(cb func(deps []key.Depends, value any, err error)) {
	f.mu.Lock()
	if f.done {
		deps, value, err := f.deps, f.value, f.err
		f.mu.Unlock()
		cb(deps, value, err)
		return
	}
	f.waiters = append(f.waiters, cb)
	f.mu.Unlock()
}

// signal resolves the fence and releases every waiter. Signalling twice
// is a bug in the caller; the second signal is ignored.
func (f *fence) signal(deps []key.Depends, value any, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.deps, f.value, f.err = deps, value, err
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()
	for _, w := range waiters {
		w(deps, value, err)
	}
}

// cacheHit carries a resolved fence result through suspend.
type cacheHit struct {
	deps  []key.Depends
	value any
}

// NewCache builds a per-key memo around f. Within one build, f runs
// exactly once per key however many concurrent actions ask; every caller
// observes the same value and replays the dependency groups f recorded
// during its single run, so dependency semantics survive the memoisation.
// Each NewCache call is an independent cache.
func NewCache[K comparable, V any](f func(*Action, K) (V, error)) func(*Action, K) (V, error) {
	var mu sync.Mutex
	fences := make(map[K]*fence)

	return func(a *Action, k K) (V, error) {
		var zero V

		mu.Lock()
		fn, hit := fences[k]
		if !hit {
			fn = &fence{}
			fences[k] = fn
		}
		mu.Unlock()

		if hit {
			start := time.Now()
			res, err := a.suspend(func(resume func(any, error)) {
				fn.wait(func(deps []key.Depends, value any, err error) {
					if err != nil {
						resume(nil, err)
						return
					}
					resume(&cacheHit{deps: deps, value: value}, nil)
				})
			})
			a.local.discount += time.Since(start)
			if err != nil {
				return zero, err
			}
			h := res.(*cacheHit)
			a.local.depends = append(append([]key.Depends{}, h.deps...), a.local.depends...)
			return h.value.(V), nil
		}

		before := len(a.local.depends)
		v, err := f(a, k)
		if err != nil {
			fn.signal(nil, nil, err)
			return zero, err
		}
		delta := make([]key.Depends, len(a.local.depends)-before)
		copy(delta, a.local.depends[:len(a.local.depends)-before])
		fn.signal(delta, v, nil)
		return v, nil
	}
}
