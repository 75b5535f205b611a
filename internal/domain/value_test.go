package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/domain"
)

func TestFromNative_JSONNumbers(t *testing.T) {
	assert.Equal(t, domain.KindInt, domain.FromNative(json.Number("42")).Kind())
	assert.Equal(t, domain.KindFloat, domain.FromNative(json.Number("4.5")).Kind())
	assert.Equal(t, domain.KindInt, domain.FromNative(float64(3)).Kind())
	assert.Equal(t, domain.KindFloat, domain.FromNative(3.25).Kind())
}

func TestValue_UnmarshalJSON_Nested(t *testing.T) {
	var v domain.Value
	require.NoError(t, json.Unmarshal([]byte(`{"ids":["a","b"],"n":7,"x":null}`), &v))

	m, ok := v.AsMap()
	require.True(t, ok)
	ids, ok := m["ids"].AsList()
	require.True(t, ok)
	assert.Len(t, ids, 2)
	n, ok := m["n"].AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)
	assert.True(t, m["x"].IsNull())
}

func TestValue_StringRendersListsAsJSON(t *testing.T) {
	v := domain.List(domain.Text("a"), domain.Int(2))
	assert.Equal(t, `["a",2]`, v.String())
	assert.Equal(t, "", domain.Null().String())
	assert.Equal(t, "true", domain.Bool(true).String())
}

func TestValue_IsScalar(t *testing.T) {
	assert.True(t, domain.Text("x").IsScalar())
	assert.True(t, domain.Null().IsScalar())
	assert.False(t, domain.List().IsScalar())
	assert.False(t, domain.Map(nil).IsScalar())
}

func TestNormalizeCollectionID(t *testing.T) {
	assert.Equal(t,
		domain.NormalizeCollectionID("1a2b3c4d5e6f7081920a1b2c3d4e5f60"),
		domain.NormalizeCollectionID("1A2B3C4D-5E6F-7081-920A-1B2C3D4E5F60"))
}

func TestProperty_NativeConversionPreservesValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("text lists survive native conversion", prop.ForAll(
		func(items []string) bool {
			vals := make([]domain.Value, len(items))
			for i, s := range items {
				vals[i] = domain.Text(s)
			}
			v := domain.List(vals...)
			return domain.FromNative(v.Native()).Equal(v)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("integers survive JSON encoding", prop.ForAll(
		func(n int64) bool {
			data, err := json.Marshal(domain.Int(n))
			if err != nil {
				return false
			}
			var back domain.Value
			if err := json.Unmarshal(data, &back); err != nil {
				return false
			}
			return back.Equal(domain.Int(n))
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
