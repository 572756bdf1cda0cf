package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTrackUse_OwnKeyAccepted tests that a rule touching its own key is
// never flagged.
func TestTrackUse_OwnKeyAccepted(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintFSATrace

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		a.TrackUse(k)
		return "", nil
	})
	rules.Action(func(a *Action) error {
		_, err := Apply1[srcKey, string](a, "self")
		return err
	})

	require.NoError(t, Run(opts, rules))
}

// TestTrackUse_DependencyAccepted tests that using an already-applied
// key is legal.
func TestTrackUse_DependencyAccepted(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintFSATrace

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		if k == "top" {
			if _, err := Apply1[srcKey, string](a, "dep"); err != nil {
				return "", err
			}
			a.TrackUse(srcKey("dep"))
		}
		return "", nil
	})
	rules.Action(func(a *Action) error {
		_, err := Apply1[srcKey, string](a, "top")
		return err
	})

	require.NoError(t, Run(opts, rules))
}

// TestTrackUse_UndependedFails tests the used-but-not-depended lint
// error.
func TestTrackUse_UndependedFails(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintFSATrace

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		a.TrackUse(srcKey("phantom"))
		return "", nil
	})
	rules.Action(func(a *Action) error {
		_, err := Apply1[srcKey, string](a, "top")
		return err
	})

	err := Run(opts, rules)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeLintUsedNotDepended), "got %v", err)
	assert.Contains(t, err.Error(), "phantom")
}

// TestTrackUse_DependedAfterUsedFails tests using a generated key before
// depending on it.
func TestTrackUse_DependedAfterUsedFails(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintFSATrace

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		switch k {
		case "top":
			// Use first, depend afterwards: the generated key may have
			// been observed stale.
			a.TrackUse(srcKey("generated"))
			if _, err := Apply1[srcKey, string](a, "generated"); err != nil {
				return "", err
			}
		case "generated":
			if _, err := Apply1[srcKey, string](a, "leaf"); err != nil {
				return "", err
			}
		}
		return "", nil
	})
	rules.Action(func(a *Action) error {
		_, err := Apply1[srcKey, string](a, "top")
		return err
	})

	err := Run(opts, rules)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeLintDependedAfterUsed), "got %v", err)
	assert.Contains(t, err.Error(), "generated")
}

// TestTrackAllow_SuppressesTracking tests the scoped exemption
// predicate.
func TestTrackAllow_SuppressesTracking(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintFSATrace

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		TrackAllow(a, func(k srcKey) bool { return k == "scratch" })
		a.TrackUse(srcKey("scratch"))
		return "", nil
	})
	rules.Action(func(a *Action) error {
		_, err := Apply1[srcKey, string](a, "top")
		return err
	})

	require.NoError(t, Run(opts, rules))
}

// TestTrackAllow_TypeScoped tests that a predicate never matches other
// key families.
func TestTrackAllow_TypeScoped(t *testing.T) {
	type otherKey string

	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintFSATrace

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		TrackAllow(a, func(k otherKey) bool { return true })
		a.TrackUse(srcKey("phantom"))
		return "", nil
	})
	rules.Action(func(a *Action) error {
		_, err := Apply1[srcKey, string](a, "top")
		return err
	})

	err := Run(opts, rules)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeLintUsedNotDepended), "got %v", err)
}

// TestTrackChange_ClaimChecked tests that writing a tracked key is
// caught by the post-build validity check.
func TestTrackChange_ClaimChecked(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintBasic

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		return string(k), nil
	})
	rules.Action(func(a *Action) error {
		if _, err := Apply1[srcKey, string](a, "tracked"); err != nil {
			return err
		}
		a.TrackChange(srcKey("tracked"))
		return nil
	})

	err := Run(opts, rules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "untracked")
}

// TestTrackChange_OwnKeyAccepted tests that a rule writing its own key
// records no claim.
func TestTrackChange_OwnKeyAccepted(t *testing.T) {
	rec := &recorder{}
	opts := testOpts(rec)
	opts.Lint = LintBasic

	rules := NewRules()
	AddRule(rules, func(a *Action, k srcKey) (string, error) {
		a.TrackChange(k)
		return "", nil
	})
	rules.Action(func(a *Action) error {
		_, err := Apply1[srcKey, string](a, "self")
		return err
	})

	require.NoError(t, Run(opts, rules))
}
