package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList_Scan(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		var l StringList
		require.NoError(t, l.Scan([]byte(`["forward","left"]`)))
		assert.Equal(t, StringList{"forward", "left"}, l)
	})

	t.Run("nil becomes empty list", func(t *testing.T) {
		var l StringList
		require.NoError(t, l.Scan(nil))
		assert.Empty(t, l)
		assert.NotNil(t, l)
	})

	t.Run("unexpected type", func(t *testing.T) {
		var l StringList
		assert.Error(t, l.Scan(42))
	})
}

func TestStringList_Value(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		v, err := StringList{"a", "b"}.Value()
		require.NoError(t, err)

		var back StringList
		require.NoError(t, back.Scan(v.([]byte)))
		assert.Equal(t, StringList{"a", "b"}, back)
	})

	t.Run("nil serializes as empty array", func(t *testing.T) {
		v, err := StringList(nil).Value()
		require.NoError(t, err)
		assert.Equal(t, "[]", string(v.([]byte)))
	})
}

func TestAngleRange_Contains(t *testing.T) {
	r := &AngleRange{MinAngle: -45, MaxAngle: 45}

	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(-45))
	assert.True(t, r.Contains(45))
	assert.False(t, r.Contains(-45.01))
	assert.False(t, r.Contains(90))
}
