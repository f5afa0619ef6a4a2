package jsonsafe

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatSubstitutions(t *testing.T) {
	assert.Nil(t, Float(math.NaN()))
	assert.Equal(t, 1e9, Float(math.Inf(1)))
	assert.Equal(t, -1e9, Float(math.Inf(-1)))
	assert.Equal(t, 0.5, Float(0.5))
	assert.Equal(t, -3.25, Float(-3.25))
}

func TestSanitizeNested(t *testing.T) {
	in := map[string]interface{}{
		"nan":    math.NaN(),
		"pos":    math.Inf(1),
		"neg":    float32(math.Inf(-1)),
		"int":    7,
		"str":    "x",
		"bool":   true,
		"nil":    nil,
		"list":   []interface{}{1.5, math.NaN(), []float64{math.Inf(1)}},
		"nested": map[string]float64{"a": math.NaN(), "b": 2},
	}

	got := Sanitize(in).(map[string]interface{})
	assert.Nil(t, got["nan"])
	assert.Equal(t, 1e9, got["pos"])
	assert.Equal(t, -1e9, got["neg"])
	assert.Equal(t, 7, got["int"])
	assert.Equal(t, "x", got["str"])
	assert.Equal(t, true, got["bool"])
	assert.Nil(t, got["nil"])
	assert.Equal(t, []interface{}{1.5, nil, []interface{}{1e9}}, got["list"])
	assert.Equal(t, map[string]interface{}{"a": nil, "b": 2.0}, got["nested"])

	_, err := json.Marshal(got)
	require.NoError(t, err)
}

func TestSanitizeAlwaysMarshals(t *testing.T) {
	values := []float64{0, -0.0, 1, -1, math.MaxFloat64, math.SmallestNonzeroFloat64, math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, v := range values {
		_, err := json.Marshal(Sanitize(v))
		assert.NoError(t, err, "value %v", v)
	}
	_, err := json.Marshal(Sanitize(values))
	assert.NoError(t, err)
}

func TestSanitizePointersAndFallback(t *testing.T) {
	f := math.NaN()
	assert.Nil(t, Sanitize(&f))

	var nilPtr *float64
	assert.Nil(t, Sanitize(nilPtr))

	type point struct{ X, Y int }
	assert.Equal(t, "{1 2}", Sanitize(point{1, 2}))

	assert.Equal(t, map[string]interface{}{"1": "a"}, Sanitize(map[int]string{1: "a"}))
	assert.Equal(t, []interface{}{int32(1), int32(2)}, Sanitize([2]int32{1, 2}))
}
