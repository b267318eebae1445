package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/rule"
)

// stub is a configurable test rule.
type stub struct {
	meta    rule.Meta
	applies func(*rule.Context) bool
	apply   func(*rule.Context) (rule.Patch, error)
}

func (s *stub) Meta() rule.Meta { return s.meta }

func (s *stub) Applies(ctx *rule.Context) bool {
	if s.applies == nil {
		return true
	}
	return s.applies(ctx)
}

func (s *stub) Apply(ctx *rule.Context) (rule.Patch, error) {
	if s.apply == nil {
		return rule.Patch{}, nil
	}
	return s.apply(ctx)
}

func TestCompileOrdersByPriorityThenName(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "zeta", Priority: 10}},
		&stub{meta: rule.Meta{Name: "alpha", Priority: 20}},
		&stub{meta: rule.Meta{Name: "mid", Priority: 10}},
	}

	rs, err := Compile(rules)
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "zeta", "alpha"}, rs.Order())
}

func TestCompileIsDeterministic(t *testing.T) {
	build := func() []rule.Rule {
		return []rule.Rule{
			&stub{meta: rule.Meta{Name: "c", Priority: 5, After: []string{"a"}}},
			&stub{meta: rule.Meta{Name: "a", Priority: 5}},
			&stub{meta: rule.Meta{Name: "b", Priority: 1}},
		}
	}

	first, err := Compile(build(), WithName("t"), WithVersion("1"))
	require.NoError(t, err)

	// Same rules in a different input order compile to the same plan.
	shuffled := build()
	shuffled[0], shuffled[2] = shuffled[2], shuffled[0]
	second, err := Compile(shuffled, WithName("t"), WithVersion("1"))
	require.NoError(t, err)

	assert.Equal(t, first.Order(), second.Order())
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
}

func TestCompileExplicitEdges(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "late", Priority: 1, After: []string{"early"}}},
		&stub{meta: rule.Meta{Name: "early", Priority: 100}},
		&stub{meta: rule.Meta{Name: "first", Priority: 200, Before: []string{"early"}}},
	}

	rs, err := Compile(rules)
	require.NoError(t, err)
	// Edges outrank priority: first -> early -> late despite priorities
	// pulling the opposite way.
	assert.Equal(t, []string{"first", "early", "late"}, rs.Order())
}

func TestCompileDataFlowEdges(t *testing.T) {
	rules := []rule.Rule{
		// reader has the lower priority, so without the data-flow edge it
		// would run before writer.
		&stub{meta: rule.Meta{Name: "reader", Priority: 1, Reads: []string{"brand_id"}}},
		&stub{meta: rule.Meta{Name: "writer", Priority: 99, Writes: []string{"brand_id"}}},
	}

	plain, err := Compile(rules)
	require.NoError(t, err)
	assert.Equal(t, []string{"reader", "writer"}, plain.Order())

	flowed, err := Compile(rules, WithDataFlowEdges())
	require.NoError(t, err)
	assert.Equal(t, []string{"writer", "reader"}, flowed.Order())
	assert.Equal(t, map[string][]string{"writer": {"reader"}}, flowed.Edges())
}

func TestCompileRejectsCycle(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "a", Before: []string{"b"}}},
		&stub{meta: rule.Meta{Name: "b", Before: []string{"c"}}},
		&stub{meta: rule.Meta{Name: "c", Before: []string{"a"}}},
	}

	_, err := Compile(rules, WithName("cyclic"))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cyclic", ce.Ruleset)
	require.Len(t, ce.Problems, 1)
	assert.Contains(t, ce.Problems[0], "cycle")
	assert.Contains(t, ce.Problems[0], "a -> b -> c -> a")
}

func TestCompileRejectsPhantomTargets(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "a", Before: []string{"ghost"}}},
		&stub{meta: rule.Meta{Name: "b", After: []string{"phantom"}}},
	}

	_, err := Compile(rules)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Problems, `rule "a": before target "ghost" does not exist`)
	assert.Contains(t, ce.Problems, `rule "b": after target "phantom" does not exist`)
}

func TestCompileRejectsDuplicateNames(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "dup"}},
		&stub{meta: rule.Meta{Name: "dup"}},
	}

	_, err := Compile(rules)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Problems, `duplicate rule name "dup"`)
}

func TestCompileWriteConflict(t *testing.T) {
	unordered := []rule.Rule{
		&stub{meta: rule.Meta{Name: "a", Writes: []string{"tags", "name"}}},
		&stub{meta: rule.Meta{Name: "b", Writes: []string{"tags"}}},
	}

	// last_wins tolerates the overlap.
	_, err := Compile(unordered)
	require.NoError(t, err)

	// error_on_conflict refuses it while the pair is unordered.
	_, err = Compile(unordered, WithPolicy(ErrorOnConflict))
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Problems, 1)
	assert.Contains(t, ce.Problems[0], `"a" and "b" both write tags`)

	// An ordering edge resolves the conflict.
	ordered := []rule.Rule{
		&stub{meta: rule.Meta{Name: "a", Writes: []string{"tags"}, Before: []string{"b"}}},
		&stub{meta: rule.Meta{Name: "b", Writes: []string{"tags"}}},
	}
	_, err = Compile(ordered, WithPolicy(ErrorOnConflict))
	require.NoError(t, err)
}

func TestCompileWriteConflictTransitivelyOrdered(t *testing.T) {
	// a -> mid -> b orders a and b even without a direct edge.
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "a", Writes: []string{"tags"}, Before: []string{"mid"}}},
		&stub{meta: rule.Meta{Name: "mid", Before: []string{"b"}}},
		&stub{meta: rule.Meta{Name: "b", Writes: []string{"tags"}}},
	}

	_, err := Compile(rules, WithPolicy(ErrorOnConflict))
	require.NoError(t, err)
}

func TestCompileRejectsFlagsOutsideManifest(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "a", Flags: []string{"menu.untracked"}}},
	}

	_, err := Compile(rules)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Problems, `rule "a" reads flag "menu.untracked" outside the manifest`)

	_, err = Compile(rules, WithFlagManifest(flag.Manifest{"menu.untracked"}))
	require.NoError(t, err)
}

func TestCompileCollectsAllProblems(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "a", Before: []string{"ghost"}, Flags: []string{"menu.untracked"}}},
		&stub{meta: rule.Meta{Name: ""}},
	}

	_, err := Compile(rules)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Problems, 3)
}

func TestCompileFingerprintTracksConfiguration(t *testing.T) {
	rules := func() []rule.Rule {
		return []rule.Rule{&stub{meta: rule.Meta{Name: "a", Writes: []string{"name"}}}}
	}

	v1, err := Compile(rules(), WithName("t"), WithVersion("1"))
	require.NoError(t, err)
	v2, err := Compile(rules(), WithName("t"), WithVersion("2"))
	require.NoError(t, err)

	assert.NotEqual(t, v1.Fingerprint(), v2.Fingerprint())
	assert.Len(t, v1.Fingerprint(), 12)
}

func TestCompilePlan(t *testing.T) {
	rules := []rule.Rule{
		&stub{meta: rule.Meta{Name: "b", Priority: 2}},
		&stub{meta: rule.Meta{Name: "a", Priority: 1}},
	}

	rs, err := Compile(rules)
	require.NoError(t, err)
	assert.Equal(t, []PlanEntry{{Name: "a", Priority: 1}, {Name: "b", Priority: 2}}, rs.Plan())
}
