package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeValue tests typed value decoding
func TestDecodeValue(t *testing.T) {
	t.Run("number", func(t *testing.T) {
		v := DecodeValue("42.5", ValueTypeNumber)
		assert.Equal(t, ValueTypeNumber, v.Kind)
		assert.Equal(t, 42.5, v.Val)
	})

	t.Run("boolean", func(t *testing.T) {
		v := DecodeValue("true", ValueTypeBool)
		assert.Equal(t, ValueTypeBool, v.Kind)
		assert.Equal(t, true, v.Val)
	})

	t.Run("json", func(t *testing.T) {
		v := DecodeValue(`{"limit": 10}`, ValueTypeJSON)
		assert.Equal(t, ValueTypeJSON, v.Kind)
		assert.Equal(t, map[string]any{"limit": float64(10)}, v.Val)
	})

	t.Run("malformed number degrades to string", func(t *testing.T) {
		v := DecodeValue("not-a-number", ValueTypeNumber)
		assert.Equal(t, ValueTypeString, v.Kind)
		assert.Equal(t, "not-a-number", v.Val)
	})

	t.Run("malformed json degrades to string", func(t *testing.T) {
		v := DecodeValue(`{"broken":`, ValueTypeJSON)
		assert.Equal(t, ValueTypeString, v.Kind)
		assert.Equal(t, `{"broken":`, v.Val)
		assert.Equal(t, `{"broken":`, v.Raw)
	})
}

// TestEncodeValue tests value wire encoding
func TestEncodeValue(t *testing.T) {
	t.Run("string passes through", func(t *testing.T) {
		raw, vt, err := EncodeValue("plain")
		require.NoError(t, err)
		assert.Equal(t, "plain", raw)
		assert.Equal(t, ValueTypeString, vt)
	})

	t.Run("bool", func(t *testing.T) {
		raw, vt, err := EncodeValue(false)
		require.NoError(t, err)
		assert.Equal(t, "false", raw)
		assert.Equal(t, ValueTypeBool, vt)
	})

	t.Run("int", func(t *testing.T) {
		raw, vt, err := EncodeValue(7)
		require.NoError(t, err)
		assert.Equal(t, "7", raw)
		assert.Equal(t, ValueTypeNumber, vt)
	})

	t.Run("structured value becomes json", func(t *testing.T) {
		raw, vt, err := EncodeValue([]string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, `["a","b"]`, raw)
		assert.Equal(t, ValueTypeJSON, vt)
	})
}

// TestOverrideExpired tests override expiry checks
func TestOverrideExpired(t *testing.T) {
	now := time.Now()

	forever := Override{Key: "a"}
	assert.False(t, forever.Expired(now))

	past := now.Add(-time.Minute)
	expired := Override{Key: "b", ExpiresAt: &past}
	assert.True(t, expired.Expired(now))

	future := now.Add(time.Minute)
	live := Override{Key: "c", ExpiresAt: &future}
	assert.False(t, live.Expired(now))
}
