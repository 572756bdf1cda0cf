// Package keel is a general-purpose, dependency-directed build engine.
//
// Users register rules, each mapping a typed key to an action producing
// a typed value, plus top-level actions, and call Run. The engine
// discovers dependencies as actions execute, persists results across
// builds, re-runs only stale work, executes independent work in parallel
// under a bounded worker pool, and reports structured failures.
//
// A minimal build:
//
//	rules := keel.NewRules()
//	keel.AddRule(rules, func(a *keel.Action, k SourceKey) (string, error) {
//		return readSource(k)
//	})
//	rules.Action(func(a *keel.Action) error {
//		_, err := keel.Apply1[SourceKey, string](a, SourceKey("main.c"))
//		return err
//	})
//	err := keel.Run(keel.DefaultOptions(), rules)
package keel

import (
	"time"

	"github.com/keelbuild/keel/internal/config"
	"github.com/keelbuild/keel/internal/engine"
)

// Core types re-exported from the engine.
type (
	// Action is a user computation in the scheduler's context.
	Action = engine.Action
	// Options configures a call to Run.
	Options = engine.Options
	// Abbreviation is one output rewrite.
	Abbreviation = engine.Abbreviation
	// Rules accumulates rule registrations and top-level actions.
	Rules = engine.Rules
	// Resource gates action sections on finite or throttled capacity.
	Resource = engine.Resource
	// ResourcePair is one (resource, quantity) request for WithResources.
	ResourcePair = engine.ResourcePair
	// Verbosity is an output threshold.
	Verbosity = engine.Verbosity
	// LintMode selects post-build invariant checking.
	LintMode = engine.LintMode
	// BuildError is the structured failure Run returns.
	BuildError = engine.BuildError
	// CodedError is a scheduler-detected failure with a stable category.
	CodedError = engine.CodedError
	// ProgressSnapshot is what a progress callback reads on each poll.
	ProgressSnapshot = engine.ProgressSnapshot
)

// Verbosity levels.
const (
	Silent     = engine.Silent
	Quiet      = engine.Quiet
	Normal     = engine.Normal
	Loud       = engine.Loud
	Chatty     = engine.Chatty
	Diagnostic = engine.Diagnostic
)

// Lint modes.
const (
	LintNothing  = engine.LintNothing
	LintBasic    = engine.LintBasic
	LintFSATrace = engine.LintFSATrace
)

// NewRules returns an empty ruleset.
func NewRules() *Rules {
	return engine.NewRules()
}

// DefaultOptions returns the recommended starting options.
func DefaultOptions() Options {
	return engine.DefaultOptions()
}

// LoadOptions reads options from a YAML file validated against the
// built-in schema.
func LoadOptions(path string) (Options, error) {
	return config.Load(path)
}

// Run executes a build. See engine.Run.
func Run(opts Options, rules *Rules) error {
	return engine.Run(opts, rules)
}

// AddRule registers the rule building keys of type K into values of
// type V.
func AddRule[K comparable, V any](r *Rules, run func(*Action, K) (V, error), opts ...engine.RuleOption[K, V]) {
	engine.AddRule(r, run, opts...)
}

// WithStored installs a stored-value reader on a rule registration.
func WithStored[K comparable, V any](f func(K) (V, bool)) engine.RuleOption[K, V] {
	return engine.WithStored[K, V](f)
}

// WithEqual replaces a rule's value comparison.
func WithEqual[K comparable, V any](f func(K, V, V) bool) engine.RuleOption[K, V] {
	return engine.WithEqual[K, V](f)
}

// Apply demands values for keys, recording one dependency group.
func Apply[K comparable, V any](a *Action, keys []K) ([]V, error) {
	return engine.Apply[K, V](a, keys)
}

// Apply1 is Apply for a single key.
func Apply1[K comparable, V any](a *Action, k K) (V, error) {
	return engine.Apply1[K, V](a, k)
}

// Parallel runs acts as structured sub-actions, returning results in
// submission order.
func Parallel[T any](a *Action, acts []func(*Action) (T, error)) ([]T, error) {
	return engine.Parallel(a, acts)
}

// NewCache memoises f per key within a build, replaying dependencies to
// every caller.
func NewCache[K comparable, V any](f func(*Action, K) (V, error)) func(*Action, K) (V, error) {
	return engine.NewCache(f)
}

// NewResource creates a finite resource.
func NewResource(name string, capacity int) (*Resource, error) {
	return engine.NewResource(name, capacity)
}

// NewThrottle creates a rate-limiting resource.
func NewThrottle(name string, count int, period time.Duration) (*Resource, error) {
	return engine.NewThrottle(name, count, period)
}

// TrackAllow installs a tracking exemption predicate scoped to the
// action.
func TrackAllow[K comparable](a *Action, pred func(K) bool) {
	engine.TrackAllow(a, pred)
}
