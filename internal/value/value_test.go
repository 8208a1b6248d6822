package value_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coryv/rustflow/internal/value"
)

func TestValueGetDotNotation(t *testing.T) {
	v := value.FromGo(map[string]interface{}{
		"user": map[string]interface{}{
			"address": map[string]interface{}{
				"city": "Austin",
			},
		},
	})

	got, ok := v.Get("user.address.city")
	require.True(t, ok)
	s, isStr := got.String()
	require.True(t, isStr)
	assert.Equal(t, "Austin", s)

	_, ok = v.Get("user.address.zip")
	assert.False(t, ok)
}

func TestValueCloneIsIndependent(t *testing.T) {
	original := value.FromGo(map[string]interface{}{
		"items": []interface{}{1.0, 2.0},
	})
	clone := original.Clone()

	m, _ := clone.Map()
	arr, _ := m["items"].Array()
	arr[0] = value.Number(99)

	origM, _ := original.Map()
	origArr, _ := origM["items"].Array()
	n, _ := origArr[0].Number()
	assert.Equal(t, 1.0, n, "mutating the clone must not affect the original")
}

func TestValueRoundTripJSON(t *testing.T) {
	v := value.FromGo(map[string]interface{}{
		"message": "hi",
		"count":   3.0,
		"ok":      true,
		"tags":    []interface{}{"a", "b"},
	})

	data, err := v.MarshalJSON()
	require.NoError(t, err)

	var back value.Value
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, v.ToGo(), back.ToGo())
}
