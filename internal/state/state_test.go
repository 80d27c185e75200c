package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saga/internal/errors"
)

func TestParsePath(t *testing.T) {
	t.Run("DottedKeys", func(t *testing.T) {
		p, err := ParsePath("character.stats.hp")
		require.NoError(t, err)
		assert.Equal(t, Path{Key("character"), Key("stats"), Key("hp")}, p)
		assert.Equal(t, "character.stats.hp", p.String())
	})

	t.Run("IndexedSegments", func(t *testing.T) {
		p, err := ParsePath("inventory[3].quantity")
		require.NoError(t, err)
		assert.Equal(t, Path{Key("inventory"), Index(3), Key("quantity")}, p)
		assert.Equal(t, "inventory[3].quantity", p.String())
	})

	t.Run("NestedIndexes", func(t *testing.T) {
		p, err := ParsePath("grid[1][2]")
		require.NoError(t, err)
		assert.Equal(t, Path{Key("grid"), Index(1), Index(2)}, p)
		assert.Equal(t, "grid[1][2]", p.String())
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, raw := range []string{"", "a..b", "a[", "a[x]", "a[-1]"} {
			_, err := ParsePath(raw)
			assert.Error(t, err, "path %q should not parse", raw)
		}
	})
}

func TestPathHasPrefix(t *testing.T) {
	p, err := ParsePath("inventory[3].quantity")
	require.NoError(t, err)
	prefix, err := ParsePath("inventory[3]")
	require.NoError(t, err)
	other, err := ParsePath("inventory[2]")
	require.NoError(t, err)

	assert.True(t, p.HasPrefix(prefix))
	assert.True(t, p.HasPrefix(p))
	assert.False(t, p.HasPrefix(other))
	assert.False(t, prefix.HasPrefix(p))
}

func TestGetSetRemove(t *testing.T) {
	s := State{
		"name": "Aria",
		"stats": map[string]any{
			"hp": 10,
		},
		"inventory": []any{
			map[string]any{"id": "sword", "quantity": 1},
		},
	}

	t.Run("Get", func(t *testing.T) {
		p, err := ParsePath("inventory[0].quantity")
		require.NoError(t, err)
		v, ok := Get(s, p)
		require.True(t, ok)
		assert.Equal(t, 1, v)

		p, err = ParsePath("stats.mp")
		require.NoError(t, err)
		_, ok = Get(s, p)
		assert.False(t, ok)
	})

	t.Run("SetExistingAndNewKey", func(t *testing.T) {
		p, err := ParsePath("stats.hp")
		require.NoError(t, err)
		require.NoError(t, Set(s, p, 12))

		p, err = ParsePath("stats.mp")
		require.NoError(t, err)
		require.NoError(t, Set(s, p, 4))

		v, ok := Get(s, p)
		require.True(t, ok)
		assert.Equal(t, 4, v)
	})

	t.Run("SetInsideMissingContainerFails", func(t *testing.T) {
		p, err := ParsePath("spells.known.fireball")
		require.NoError(t, err)
		err = Set(s, p, true)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypePathNotFound))
	})

	t.Run("RemoveAbsentKeyIsNoop", func(t *testing.T) {
		p, err := ParsePath("stats.luck")
		require.NoError(t, err)
		assert.NoError(t, Remove(s, p))

		p, err = ParsePath("missing.deeply.nested")
		require.NoError(t, err)
		assert.NoError(t, Remove(s, p))
	})

	t.Run("Remove", func(t *testing.T) {
		p, err := ParsePath("stats.mp")
		require.NoError(t, err)
		require.NoError(t, Remove(s, p))
		_, ok := Get(s, p)
		assert.False(t, ok)
	})
}

func TestCloneIsDeep(t *testing.T) {
	original := State{
		"stats":     map[string]any{"hp": 10},
		"inventory": []any{map[string]any{"id": "sword"}},
	}

	cloned := CloneState(original)
	cloned["stats"].(map[string]any)["hp"] = 99
	cloned["inventory"].([]any)[0].(map[string]any)["id"] = "axe"

	assert.Equal(t, 10, original["stats"].(map[string]any)["hp"])
	assert.Equal(t, "sword", original["inventory"].([]any)[0].(map[string]any)["id"])
}

func TestEqual(t *testing.T) {
	t.Run("NumericAcrossRepresentations", func(t *testing.T) {
		assert.True(t, Equal(10, float64(10)))
		assert.True(t, Equal(int64(3), 3))
		assert.False(t, Equal(10, float64(10.5)))
		assert.False(t, Equal(10, "10"))
	})

	t.Run("Nested", func(t *testing.T) {
		a := State{"stats": map[string]any{"hp": 10}, "tags": []any{"brave", "quick"}}
		b := State{"stats": map[string]any{"hp": float64(10)}, "tags": []any{"brave", "quick"}}
		assert.True(t, Equal(a, b))

		b["tags"] = []any{"quick", "brave"}
		assert.False(t, Equal(a, b))
	})

	t.Run("Nil", func(t *testing.T) {
		assert.True(t, Equal(nil, nil))
		assert.False(t, Equal(nil, 0))
	})
}
