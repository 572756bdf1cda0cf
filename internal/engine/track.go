package engine

import (
	"strings"

	"github.com/keelbuild/keel/internal/key"
	"github.com/keelbuild/keel/internal/store"
)

// TrackUse declares that the rule read k outside the engine's knowledge
// (typically reported by an external tracing tool). The use is legal when
// k is the key being built, an already-recorded dependency, or accepted
// by a TrackAllow predicate; anything else is remembered and validated at
// the end of the rule under fsatrace linting.
func (a *Action) TrackUse(k key.Key) {
	if top, ok := a.local.stack.Top(); ok && top == k {
		return
	}
	for _, group := range a.local.depends {
		for _, dep := range group {
			if dep == k {
				return
			}
		}
	}
	if a.trackAllowed(k) {
		return
	}
	a.local.trackUsed = append(a.local.trackUsed, k)
}

// TrackChange declares that the rule wrote k. Writing the key being built
// or an allowed key is legal; any other write records a claim that k is
// not tracked by the build, verified by the post-build lint check.
func (a *Action) TrackChange(k key.Key) {
	if top, ok := a.local.stack.Top(); ok && top == k {
		return
	}
	if a.trackAllowed(k) {
		return
	}
	var owner key.Key
	if top, ok := a.local.stack.Top(); ok {
		owner = top
	}
	g := a.global
	g.absentMu.Lock()
	g.absent = append([]store.AbsentClaim{{Owner: owner, Claimed: k}}, g.absent...)
	g.absentMu.Unlock()
}

// TrackAllow installs a predicate that exempts matching keys from
// tracking, scoped to this action. The predicate only sees keys of type
// K; other key families never match.
func TrackAllow[K comparable](a *Action, pred func(K) bool) {
	a.local.trackAllows = append(a.local.trackAllows, func(k key.Key) bool {
		kk, ok := k.(K)
		return ok && pred(kk)
	})
}

func (a *Action) trackAllowed(k key.Key) bool {
	for _, pred := range a.local.trackAllows {
		if pred(k) {
			return true
		}
	}
	return false
}

// trackCheckUsed validates the uses TrackUse deferred, at the end of the
// rule. Two invariants: every used key must by now be a recorded
// dependency, and every used key must be a source (nothing the build
// itself produces from other keys), because using a generated key before
// depending on it can observe a stale value.
func (a *Action) trackCheckUsed() error {
	db := a.global.db

	var undepended, generated []string
	for _, used := range a.local.trackUsed {
		found := false
		for _, group := range a.local.depends {
			for _, dep := range group {
				if dep == used {
					found = true
				}
			}
		}
		if !found {
			undepended = append(undepended, key.Show(used))
			continue
		}
		if len(db.LookupDependencies(used)) > 0 {
			generated = append(generated, key.Show(used))
		}
	}

	if len(undepended) > 0 {
		return codedErrorf(ErrCodeLintUsedNotDepended,
			"keys used but not depended upon:\n  %s", strings.Join(undepended, "\n  "))
	}
	if len(generated) > 0 {
		return codedErrorf(ErrCodeLintDependedAfterUsed,
			"keys depended upon after being used:\n  %s", strings.Join(generated, "\n  "))
	}
	return nil
}
