package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_RetryStorage(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		h := NewErrorHandler()

		calls := 0
		result, ok := h.RetryStorage("op", func() (any, error) {
			calls++
			return "value", nil
		})

		require.True(t, ok)
		assert.Equal(t, "value", result)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds on retry", func(t *testing.T) {
		h := NewErrorHandler()

		calls := 0
		result, ok := h.RetryStorage("op", func() (any, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return 42, nil
		})

		require.True(t, ok)
		assert.Equal(t, 42, result)
		assert.Equal(t, 3, calls)
	})

	t.Run("falls back to cached result", func(t *testing.T) {
		h := NewErrorHandler()

		// Seed the cache with a successful run
		_, ok := h.RetryStorage("op", func() (any, error) { return "cached", nil })
		require.True(t, ok)

		result, ok := h.RetryStorage("op", func() (any, error) {
			return nil, errors.New("storage down")
		})

		require.True(t, ok)
		assert.Equal(t, "cached", result)
	})

	t.Run("no cache yields not ok", func(t *testing.T) {
		h := NewErrorHandler()

		calls := 0
		result, ok := h.RetryStorage("op", func() (any, error) {
			calls++
			return nil, errors.New("storage down")
		})

		assert.False(t, ok)
		assert.Nil(t, result)
		assert.Equal(t, retryMaxAttempts, calls)
	})

	t.Run("cache is per operation signature", func(t *testing.T) {
		h := NewErrorHandler()

		_, ok := h.RetryStorage("op(a)", func() (any, error) { return "a", nil })
		require.True(t, ok)

		_, ok = h.RetryStorage("op(b)", func() (any, error) { return nil, errors.New("down") })
		assert.False(t, ok)
	})
}

func TestErrorHandler_ClearCache(t *testing.T) {
	h := NewErrorHandler()

	_, ok := h.RetryStorage("op", func() (any, error) { return "cached", nil })
	require.True(t, ok)
	assert.Equal(t, []string{"op"}, h.CachedKeys())

	h.ClearCache()
	assert.Empty(t, h.CachedKeys())

	// After a clear the fallback is gone...
	_, ok = h.RetryStorage("op", func() (any, error) { return nil, errors.New("down") })
	assert.False(t, ok)

	// ...until a successful query repopulates the same entry
	result, ok := h.RetryStorage("op", func() (any, error) { return "fresh", nil })
	require.True(t, ok)
	assert.Equal(t, "fresh", result)

	cached, ok := h.RetryStorage("op", func() (any, error) { return nil, errors.New("down") })
	require.True(t, ok)
	assert.Equal(t, "fresh", cached)
}

func TestErrorHandler_FaultLoggers(t *testing.T) {
	h := NewErrorHandler()

	// Fault loggers must never panic, logger initialized or not
	msg := NewMessage("angle_value", Payload{"angle": 500.0})
	h.HandleValidationError(msg, ValidationResult{
		Valid:  false,
		Errors: []string{"out of range"},
	})
	h.HandleSubscriberError("sub-1", errors.New("boom"), msg.ID)
	h.HandleTimerError(errors.New("tick"))
}
