package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestDeterministic(t *testing.T) {
	obj := map[string]any{
		"menu.autotag":           true,
		"menu.silent_updates":    false,
		"menu.strict_brand_match": true,
	}

	d1, err := Digest(DomainFlags, obj)
	require.NoError(t, err)

	d2, err := Digest(DomainFlags, obj)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestDigestDomainSeparation(t *testing.T) {
	obj := map[string]any{"a": 1}

	d1, err := Digest(DomainFlags, obj)
	require.NoError(t, err)

	d2, err := Digest(DomainRuleset, obj)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestDigestInsensitiveToKeyOrder(t *testing.T) {
	// Maps iterate in random order; the canonical serialization must make
	// the digest independent of it. Two structurally equal maps built in
	// different insertion orders hash the same.
	a := map[string]any{}
	a["x"] = 1
	a["y"] = 2
	a["z"] = 3

	b := map[string]any{}
	b["z"] = 3
	b["x"] = 1
	b["y"] = 2

	da, err := Digest(DomainFlags, a)
	require.NoError(t, err)
	db, err := Digest(DomainFlags, b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
}

func TestDigestValueSensitive(t *testing.T) {
	d1, err := Digest(DomainFlags, map[string]any{"menu.autotag": true})
	require.NoError(t, err)

	d2, err := Digest(DomainFlags, map[string]any{"menu.autotag": false})
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestShortDigestLength(t *testing.T) {
	d, err := ShortDigest(DomainFlags, map[string]any{"a": true})
	require.NoError(t, err)
	assert.Len(t, d, ShortLen)

	full, err := Digest(DomainFlags, map[string]any{"a": true})
	require.NoError(t, err)
	assert.Equal(t, full[:ShortLen], d)
}

func TestDigestErrorOnFloat(t *testing.T) {
	_, err := Digest(DomainFlags, map[string]any{"bad": 1.5})
	require.Error(t, err)
}

func TestMustShortDigestPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustShortDigest(DomainFlags, map[string]any{"bad": 1.5})
	})
}
