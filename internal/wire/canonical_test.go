package wire

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zebra": 1.0,
		"alpha": 2.0,
		"mid":   3.0,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"q": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b>&c"}`, string(got))
}

func TestMarshalCanonical_IntegralFloats(t *testing.T) {
	got, err := MarshalCanonical([]any{1.0, 2.5, -3.0})
	require.NoError(t, err)
	assert.Equal(t, `[1,2.5,-3]`, string(got))
}

func TestMarshalCanonical_Golden(t *testing.T) {
	value := map[string]any{
		"b":   2.0,
		"a":   "x",
		"arr": []any{1.0, 2.5, nil, true},
		"obj": map[string]any{"k": "v"},
	}
	data, err := MarshalCanonical(value)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "canonical_basic", data)
}

func TestCanonicalHash_StableAcrossKeyOrder(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"a": 1.0, "b": []any{"x"}})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"b": []any{"x"}, "a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCanonicalHash_DiffersOnContent(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"a": 1.0})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"a": 2.0})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestArrayify(t *testing.T) {
	assert.Equal(t, []any{1.0, 2.0}, Arrayify([]any{1.0, 2.0}))
	assert.Equal(t, []any{"solo"}, Arrayify("solo"))
	assert.Equal(t, []any{nil}, Arrayify(nil))
}

func TestConcat_PreservesOrder(t *testing.T) {
	joined := Concat([]any{"a"}, nil, []any{"b", "c"})
	assert.Equal(t, []any{"a", "b", "c"}, joined)
}
