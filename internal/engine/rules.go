package engine

import (
	"fmt"
	"reflect"

	"github.com/keelbuild/keel/internal/key"
)

// typeTag identifies a rule family: the dynamic type of its keys.
type typeTag = reflect.Type

// ruleInfo is the erased form of one registered rule.
type ruleInfo struct {
	keyType    reflect.Type
	resultType reflect.Type

	execute func(*Action, key.Key) (key.Value, error)

	// stored reads the key's current out-of-band value, nil when the
	// rule has none. It must be a pure synchronous function of the key.
	stored func(key.Key) (key.Value, bool)

	// equal compares two values of this family; nil means
	// reflect.DeepEqual.
	equal func(key.Key, key.Value, key.Value) bool
}

// Rules accumulates what Run consumes: the top-level actions and the rule
// registry. Construct with NewRules, register with AddRule and Action.
type Rules struct {
	actions []func(*Action) error
	rules   map[typeTag]*ruleInfo
}

// NewRules returns an empty ruleset.
func NewRules() *Rules {
	return &Rules{rules: make(map[typeTag]*ruleInfo)}
}

// Action registers a top-level action to run when the build starts.
func (r *Rules) Action(f func(*Action) error) {
	r.actions = append(r.actions, f)
}

// RuleOption customizes one rule registration.
type RuleOption[K comparable, V any] func(*ruleConfig[K, V])

type ruleConfig[K comparable, V any] struct {
	stored func(K) (V, bool)
	equal  func(K, V, V) bool
}

// WithStored installs a stored-value reader for the rule, enabling
// staleness and lint checks against the key's out-of-band state.
func WithStored[K comparable, V any](f func(K) (V, bool)) RuleOption[K, V] {
	return func(c *ruleConfig[K, V]) { c.stored = f }
}

// WithEqual replaces the default reflect.DeepEqual value comparison.
func WithEqual[K comparable, V any](f func(K, V, V) bool) RuleOption[K, V] {
	return func(c *ruleConfig[K, V]) { c.equal = f }
}

// AddRule registers the rule for key type K producing values of type V.
// Registering the same key type twice panics: rule wiring is programmer
// error, caught at startup.
//
// The key and value types are registered with gob so records persist
// across sessions.
func AddRule[K comparable, V any](r *Rules, run func(*Action, K) (V, error), opts ...RuleOption[K, V]) {
	var cfg ruleConfig[K, V]
	for _, opt := range opts {
		opt(&cfg)
	}

	keyType := reflect.TypeFor[K]()
	if _, dup := r.rules[keyType]; dup {
		panic(fmt.Sprintf("rule for key type %s registered twice", keyType))
	}

	info := &ruleInfo{
		keyType:    keyType,
		resultType: reflect.TypeFor[V](),
		execute: func(a *Action, k key.Key) (key.Value, error) {
			return run(a, k.(K))
		},
	}
	if cfg.stored != nil {
		stored := cfg.stored
		info.stored = func(k key.Key) (key.Value, bool) {
			v, ok := stored(k.(K))
			return v, ok
		}
	}
	if cfg.equal != nil {
		equal := cfg.equal
		info.equal = func(k key.Key, old, new key.Value) bool {
			oldV, okOld := old.(V)
			newV, okNew := new.(V)
			if !okOld || !okNew {
				return false
			}
			return equal(k.(K), oldV, newV)
		}
	}
	r.rules[keyType] = info

	var kSample K
	var vSample V
	key.RegisterGob(kSample, vSample)
}

// runStored is the stored callback handed to the database. checked=false
// means the key's rule (if any) has no stored handler.
func (g *Global) runStored(k key.Key) (key.Value, bool, bool) {
	ri, ok := g.rules[key.TypeOf(k)]
	if !ok || ri.stored == nil {
		return nil, false, false
	}
	v, present := ri.stored(k)
	return v, present, true
}

// runEqual is the equality callback handed to the database.
func (g *Global) runEqual(k key.Key, old, new key.Value) bool {
	if ri, ok := g.rules[key.TypeOf(k)]; ok && ri.equal != nil {
		return ri.equal(k, old, new)
	}
	return reflect.DeepEqual(old, new)
}
