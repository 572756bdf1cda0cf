package engine

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// resourceOrd hands every resource a position in a process-wide total
// order. WithResources acquires in this order, which rules out
// lock-ordering deadlock between concurrent callers.
var resourceOrd atomic.Int64

// Resource gates sections of actions on a finite or rate-limited
// capacity. Create with NewResource or NewThrottle; acquire via
// (*Action).WithResource.
type Resource struct {
	ord  int64
	name string
	impl resourceImpl
}

// Name returns the user-supplied resource name.
func (r *Resource) Name() string {
	return r.name
}

// String implements fmt.Stringer.
func (r *Resource) String() string {
	return "Resource " + r.name
}

type resourceImpl interface {
	// acquire takes n units. When they are available right away it
	// returns immediate=true and never calls grant; otherwise the
	// request queues and grant is invoked exactly once when served.
	// Queued requests are served in submission order, subject to fit.
	acquire(n int, grant func()) (immediate bool, err error)

	// release returns n units.
	release(n int)
}

// NewResource creates a finite resource: at most capacity units may be
// held at once across all actions in the build.
func NewResource(name string, capacity int) (*Resource, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("resource %s: negative capacity %d", name, capacity)
	}
	return &Resource{
		ord:  resourceOrd.Add(1),
		name: name,
		impl: &finite{name: name, capacity: capacity, available: capacity},
	}, nil
}

// NewThrottle creates a rate-limiting resource: count units exist, and a
// released unit only becomes available again period after its release.
func NewThrottle(name string, count int, period time.Duration) (*Resource, error) {
	if count < 0 {
		return nil, fmt.Errorf("throttle %s: negative count %d", name, count)
	}
	return &Resource{
		ord:  resourceOrd.Add(1),
		name: name,
		impl: &throttle{name: name, count: count, period: period, available: count},
	}, nil
}

// waiter is one queued acquire.
type waiter struct {
	n     int
	grant func()
}

// grantFitting walks the queue in submission order, collecting every
// waiter the available units can satisfy and skipping over ones that do
// not fit. Returns the grants to fire and the remaining queue.
func grantFitting(available int, waiters []waiter) (int, []func(), []waiter) {
	var grants []func()
	var keep []waiter
	for _, w := range waiters {
		if w.n <= available {
			available -= w.n
			grants = append(grants, w.grant)
			continue
		}
		keep = append(keep, w)
	}
	return available, grants, keep
}

// finite is a counting resource with a hard capacity.
type finite struct {
	mu        sync.Mutex
	name      string
	capacity  int
	available int
	waiters   []waiter
}

func (f *finite) acquire(n int, grant func()) (bool, error) {
	if n > f.capacity {
		return false, fmt.Errorf("resource %s: acquiring %d units but capacity is only %d", f.name, n, f.capacity)
	}
	f.mu.Lock()
	if len(f.waiters) == 0 && n <= f.available {
		f.available -= n
		f.mu.Unlock()
		return true, nil
	}
	f.waiters = append(f.waiters, waiter{n: n, grant: grant})
	f.mu.Unlock()
	return false, nil
}

func (f *finite) release(n int) {
	f.mu.Lock()
	var grants []func()
	f.available, grants, f.waiters = grantFitting(f.available+n, f.waiters)
	f.mu.Unlock()
	for _, g := range grants {
		g()
	}
}

// throttle is a token resource whose released tokens regenerate period
// after release time.
type throttle struct {
	mu        sync.Mutex
	name      string
	count     int
	period    time.Duration
	available int
	waiters   []waiter
}

func (t *throttle) acquire(n int, grant func()) (bool, error) {
	if n > t.count {
		return false, fmt.Errorf("throttle %s: acquiring %d units but only %d exist", t.name, n, t.count)
	}
	t.mu.Lock()
	if len(t.waiters) == 0 && n <= t.available {
		t.available -= n
		t.mu.Unlock()
		return true, nil
	}
	t.waiters = append(t.waiters, waiter{n: n, grant: grant})
	t.mu.Unlock()
	return false, nil
}

func (t *throttle) release(n int) {
	time.AfterFunc(t.period, func() {
		t.mu.Lock()
		var grants []func()
		t.available, grants, t.waiters = grantFitting(t.available+n, t.waiters)
		t.mu.Unlock()
		for _, g := range grants {
			g()
		}
	})
}

// WithResource runs act while holding n units of r. The acquire wait is
// suspended (no worker slot held) and charged to the action's discount;
// Apply is forbidden inside act; the units are released on every exit
// path.
func (a *Action) WithResource(r *Resource, n int, act func() error) error {
	if n < 0 {
		return codedErrorf(ErrCodeNegativeResource,
			"acquiring %d units of %s", n, r.name)
	}
	g := a.global
	start := time.Now()
	if _, err := a.suspend(func(resume func(any, error)) {
		immediate, err := r.impl.acquire(n, func() { resume(nil, nil) })
		if err != nil {
			resume(nil, err)
			return
		}
		if immediate {
			resume(nil, nil)
			return
		}
		g.diagnostic(func() string {
			return fmt.Sprintf("%s: waiting to acquire %d units", r, n)
		})
	}); err != nil {
		return err
	}
	a.local.discount += time.Since(start)
	g.diagnostic(func() string {
		return fmt.Sprintf("%s: acquired %d units", r, n)
	})

	oldBlock := a.local.blockApply
	a.local.blockApply = "Within withResource using " + r.name
	defer func() {
		a.local.blockApply = oldBlock
		r.impl.release(n)
		g.diagnostic(func() string {
			return fmt.Sprintf("%s: released %d units", r, n)
		})
	}()
	return act()
}

// ResourcePair is one (resource, quantity) request for WithResources.
type ResourcePair struct {
	Resource *Resource
	Count    int
}

// WithResources acquires several resources around act. Quantities per
// resource are summed so each resource is acquired exactly once, and
// acquisition nests in the process-wide resource order, so concurrent
// callers that all go through WithResources cannot deadlock on each
// other.
func (a *Action) WithResources(pairs []ResourcePair, act func() error) error {
	for _, p := range pairs {
		if p.Count < 0 {
			return codedErrorf(ErrCodeNegativeResource,
				"acquiring %d units of %s", p.Count, p.Resource.name)
		}
	}

	total := make(map[*Resource]int)
	var order []*Resource
	for _, p := range pairs {
		if _, seen := total[p.Resource]; !seen {
			order = append(order, p.Resource)
		}
		total[p.Resource] += p.Count
	}
	sort.Slice(order, func(i, j int) bool { return order[i].ord < order[j].ord })

	var nest func(i int) error
	nest = func(i int) error {
		if i == len(order) {
			return act()
		}
		r := order[i]
		return a.WithResource(r, total[r], func() error {
			return nest(i + 1)
		})
	}
	return nest(0)
}
