// Package pool implements the bounded worker pool the scheduler runs on.
//
// The pool hands out *slots*, not threads. A spawned job holds one slot
// while it runs on its own goroutine; it may give the slot up mid-flight
// with Exit (the goroutine keeps running, typically to park on a channel)
// and later claim a fresh slot with Reenter. At most `limit` slot-holders
// execute concurrently at any instant; everything else queues.
//
// Queued work dispatches FIFO within a priority class, priority entries
// before normal ones. Priority is used to resume failed continuations
// ahead of starting new work.
package pool

import (
	"runtime"
	"sync"
)

// Pool is a cooperative job queue with bounded concurrency.
type Pool struct {
	mu sync.Mutex

	limit   int // current concurrency limit; Increase raises it temporarily
	running int // slot-holders currently executing
	alive   int // spawned jobs not yet finished (queued, running, or parked)

	priority []entry // entries dispatched before normal ones
	normal   []entry

	terminated bool  // advisory: a fatal error has been recorded
	err        error // first fatal error, returned by Run

	idle *sync.Cond // signalled when alive drops to zero
}

// entry is one unit of queued demand for a slot: either a new job to start
// or a grant handing the slot to a parked goroutine waiting in Reenter.
type entry struct {
	job   func()
	grant chan struct{}
}

// Run creates a pool with n slots, calls body, and blocks until every
// spawned job has finished. With n <= 0 the detected processor count is
// used. Deterministic mode forces a single slot so the queue drains in
// strict FIFO order, which makes scheduling reproducible for tests.
//
// Run returns the first error recorded via Terminate, after all live work
// has drained.
func Run(deterministic bool, n int, body func(*Pool)) error {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if deterministic {
		n = 1
	}
	p := &Pool{limit: n}
	p.idle = sync.NewCond(&p.mu)

	body(p)

	p.mu.Lock()
	for p.alive > 0 {
		p.idle.Wait()
	}
	err := p.err
	p.mu.Unlock()
	return err
}

// Spawn submits a job at normal priority. The job runs on its own
// goroutine once a slot is free.
func (p *Pool) Spawn(job func()) {
	p.add(entry{job: job}, false)
}

// SpawnPriority submits a job ahead of all normal-priority work.
func (p *Pool) SpawnPriority(job func()) {
	p.add(entry{job: job}, true)
}

func (p *Pool) add(e entry, priority bool) {
	p.mu.Lock()
	if e.job != nil {
		p.alive++
	}
	if priority {
		p.priority = append(p.priority, e)
	} else {
		p.normal = append(p.normal, e)
	}
	p.dispatch()
	p.mu.Unlock()
}

// Exit gives up the calling job's slot without finishing the job. The
// caller keeps running (it must not do slot-accounted work) and claims a
// slot again with Reenter before continuing.
func (p *Pool) Exit() {
	p.mu.Lock()
	p.running--
	p.dispatch()
	p.mu.Unlock()
}

// Reenter blocks until the calling goroutine holds a slot again. With
// priority set the grant queues ahead of normal work, so failed
// continuations surface promptly. Grants are honoured even after
// Terminate, so parked goroutines always drain.
func (p *Pool) Reenter(priority bool) {
	p.mu.Lock()
	if p.running < p.limit && len(p.priority) == 0 && len(p.normal) == 0 {
		p.running++
		p.mu.Unlock()
		return
	}
	grant := make(chan struct{})
	e := entry{grant: grant}
	if priority {
		p.priority = append(p.priority, e)
	} else {
		p.normal = append(p.normal, e)
	}
	p.dispatch()
	p.mu.Unlock()
	<-grant
}

// Increase temporarily raises the concurrency limit by one. The returned
// release func restores the limit and must be called exactly once.
func (p *Pool) Increase() (release func()) {
	p.mu.Lock()
	p.limit++
	p.dispatch()
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.limit--
			p.mu.Unlock()
		})
	}
}

// Terminate records the first fatal error. Queued and running work still
// drains, since dropping a queued job could strand a continuation waiting
// on it; jobs that poll Terminated can bail out early. Run returns err
// once the pool is idle.
func (p *Pool) Terminate(err error) {
	p.mu.Lock()
	if !p.terminated {
		p.terminated = true
		p.err = err
	}
	p.mu.Unlock()
}

// Terminated reports whether a fatal error has been recorded. Jobs that
// observe this may discard their work early.
func (p *Pool) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// dispatch fills free slots from the queues. Caller holds p.mu.
func (p *Pool) dispatch() {
	for p.running < p.limit {
		e, ok := p.pop()
		if !ok {
			break
		}
		if e.grant != nil {
			p.running++
			close(e.grant)
			continue
		}
		p.running++
		job := e.job
		go func() {
			job()
			p.mu.Lock()
			p.running--
			p.finishLocked()
			p.dispatch()
			p.mu.Unlock()
		}()
	}
}

// pop removes the next entry, priority class first, FIFO within class.
// Caller holds p.mu.
func (p *Pool) pop() (entry, bool) {
	if len(p.priority) > 0 {
		e := p.priority[0]
		p.priority[0] = entry{}
		p.priority = p.priority[1:]
		return e, true
	}
	if len(p.normal) > 0 {
		e := p.normal[0]
		p.normal[0] = entry{}
		p.normal = p.normal[1:]
		return e, true
	}
	return entry{}, false
}

// finishLocked retires one alive job. Caller holds p.mu.
func (p *Pool) finishLocked() {
	p.alive--
	if p.alive == 0 {
		p.idle.Broadcast()
	}
}
