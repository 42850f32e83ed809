package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCache_StoreAndRead(t *testing.T) {
	cache := NewFrameCache()
	now := time.Now()
	detections := []Detection{{BBox: [4]int{1, 2, 3, 4}, Score: 0.9, Class: "person", ClassID: 0}}

	cache.Store("cam-1", []byte("raw"), []byte("drawn"), now, detections)

	t.Run("drawn frame with detections", func(t *testing.T) {
		found, frame, capturedAt, got := cache.ReadLatest("cam-1", true)
		require.True(t, found)
		assert.Equal(t, []byte("drawn"), frame)
		assert.Equal(t, now, capturedAt)
		assert.Equal(t, detections, got)
	})

	t.Run("raw frame without detections", func(t *testing.T) {
		found, frame, _, got := cache.ReadLatest("cam-1", false)
		require.True(t, found)
		assert.Equal(t, []byte("raw"), frame)
		assert.Nil(t, got)
	})

	t.Run("absent camera returns not found", func(t *testing.T) {
		found, frame, _, _ := cache.ReadLatest("cam-9", true)
		assert.False(t, found)
		assert.Nil(t, frame)
	})
}

func TestFrameCache_ReturnsCopies(t *testing.T) {
	cache := NewFrameCache()
	original := []byte("frame")
	detections := []Detection{{Score: 0.5, Class: "person"}}

	cache.Store("cam-1", original, original, time.Now(), detections)

	// Mutating the stored-from buffer must not affect the cache
	original[0] = 'X'
	_, frame, _, _ := cache.ReadLatest("cam-1", false)
	assert.Equal(t, []byte("frame"), frame)

	// Mutating a read buffer must not affect later reads
	frame[0] = 'Y'
	_, again, _, got := cache.ReadLatest("cam-1", true)
	assert.Equal(t, []byte("frame"), again)

	got[0].Score = 0.1
	_, _, _, fresh := cache.ReadLatest("cam-1", true)
	assert.Equal(t, 0.5, fresh[0].Score)
}

func TestFrameCache_LastWriterWins(t *testing.T) {
	cache := NewFrameCache()

	cache.Store("cam-1", []byte("first"), []byte("first"), time.Now(), nil)
	cache.Store("cam-1", []byte("second"), []byte("second"), time.Now(), nil)

	_, frame, _, _ := cache.ReadLatest("cam-1", false)
	assert.Equal(t, []byte("second"), frame)
}

func TestFrameCache_Info(t *testing.T) {
	cache := NewFrameCache()

	t.Run("absent camera", func(t *testing.T) {
		info := cache.Info("cam-1")
		assert.Equal(t, "cam-1", info.CameraID)
		assert.False(t, info.HasRawFrame)
		assert.False(t, info.HasDrawnFrame)
		assert.Nil(t, info.Timestamp)
		assert.Zero(t, info.DetectionCount)
	})

	t.Run("stored camera", func(t *testing.T) {
		detections := []Detection{
			{Class: "person", Score: 0.9},
			{Class: "person", Score: 0.8},
			{Class: "dog", Score: 0.7},
		}
		cache.Store("cam-1", []byte("raw"), []byte("drawn"), time.Now().Add(-2*time.Second), detections)

		info := cache.Info("cam-1")
		assert.True(t, info.HasRawFrame)
		assert.True(t, info.HasDrawnFrame)
		require.NotNil(t, info.AgeSeconds)
		assert.GreaterOrEqual(t, *info.AgeSeconds, 2.0)
		assert.Equal(t, 3, info.DetectionCount)
		assert.Equal(t, 2, info.PersonCount)
	})
}

func TestFrameCache_Clear(t *testing.T) {
	cache := NewFrameCache()
	cache.Store("cam-1", []byte("a"), []byte("a"), time.Now(), nil)
	cache.Store("cam-2", []byte("b"), []byte("b"), time.Now(), nil)

	cache.Clear("cam-1")
	found, _, _, _ := cache.ReadLatest("cam-1", false)
	assert.False(t, found)
	found, _, _, _ = cache.ReadLatest("cam-2", false)
	assert.True(t, found)

	cache.ClearAll()
	found, _, _, _ = cache.ReadLatest("cam-2", false)
	assert.False(t, found)
}

func TestFrameCache_ConcurrentAccess(t *testing.T) {
	cache := NewFrameCache()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			cache.Store("cam-1", []byte("frame"), []byte("frame"), time.Now(), nil)
		}
	}()

	for i := 0; i < 200; i++ {
		cache.ReadLatest("cam-1", true)
		cache.Info("cam-1")
	}
	<-done
}
