package detection

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// Detection is one object found in a frame.
type Detection struct {
	BBox    [4]int  `json:"bbox"` // x1, y1, x2, y2
	Score   float64 `json:"score"`
	Class   string  `json:"class"`
	ClassID int     `json:"class_id"`
}

// FrameInfo summarizes a cached entry without exposing the buffers.
type FrameInfo struct {
	CameraID       string     `json:"camera_id"`
	HasRawFrame    bool       `json:"has_raw_frame"`
	HasDrawnFrame  bool       `json:"has_drawn_frame"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	AgeSeconds     *float64   `json:"age_seconds,omitempty"`
	DetectionCount int        `json:"detection_count"`
	PersonCount    int        `json:"person_count"`
}

type frameEntry struct {
	mu         sync.Mutex
	rawFrame   []byte
	drawnFrame []byte
	capturedAt time.Time
	detections []Detection
}

// FrameCache stores the latest raw and annotated frame per camera. Writes
// copy incoming buffers and reads return copies; each camera has its own
// lock. Entries persist until an explicit clear.
type FrameCache struct {
	mu      sync.Mutex
	entries map[string]*frameEntry
}

// NewFrameCache creates an empty frame cache.
func NewFrameCache() *FrameCache {
	return &FrameCache{entries: make(map[string]*frameEntry)}
}

func (c *FrameCache) entry(cameraID string) *frameEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cameraID]
	if !ok {
		e = &frameEntry{}
		c.entries[cameraID] = e
	}
	return e
}

func (c *FrameCache) lookup(cameraID string) (*frameEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cameraID]
	return e, ok
}

// Store records the latest frames and detections for a camera.
func (c *FrameCache) Store(cameraID string, rawFrame, drawnFrame []byte, capturedAt time.Time, detections []Detection) {
	e := c.entry(cameraID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rawFrame = cloneBytes(rawFrame)
	e.drawnFrame = cloneBytes(drawnFrame)
	e.capturedAt = capturedAt
	e.detections = cloneDetections(detections)
}

// ReadLatest returns the latest frame for a camera. With drawn true the
// annotated frame and its detections are returned; otherwise the raw frame.
// A camera without a stored frame yields found=false, not an error.
func (c *FrameCache) ReadLatest(cameraID string, drawn bool) (found bool, frame []byte, capturedAt time.Time, detections []Detection) {
	e, ok := c.lookup(cameraID)
	if !ok {
		logger.Debug("No frames stored for camera", zap.String("camera_id", cameraID))
		return false, nil, time.Time{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stored := e.rawFrame
	if drawn {
		stored = e.drawnFrame
	}
	if stored == nil {
		return false, nil, time.Time{}, nil
	}

	if drawn {
		detections = cloneDetections(e.detections)
	}
	return true, cloneBytes(stored), e.capturedAt, detections
}

// Info reports what is cached for a camera.
func (c *FrameCache) Info(cameraID string) FrameInfo {
	info := FrameInfo{CameraID: cameraID}

	e, ok := c.lookup(cameraID)
	if !ok {
		return info
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	info.HasRawFrame = e.rawFrame != nil
	info.HasDrawnFrame = e.drawnFrame != nil

	if !e.capturedAt.IsZero() {
		ts := e.capturedAt
		age := time.Since(ts).Seconds()
		info.Timestamp = &ts
		info.AgeSeconds = &age
	}

	info.DetectionCount = len(e.detections)
	for _, d := range e.detections {
		if d.Class == "person" {
			info.PersonCount++
		}
	}
	return info
}

// Clear drops the cached entry for one camera.
func (c *FrameCache) Clear(cameraID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cameraID)
	logger.Info("Cleared frame cache for camera", zap.String("camera_id", cameraID))
}

// ClearAll drops every cached entry.
func (c *FrameCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*frameEntry)
	logger.Info("Cleared all frame cache entries")
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

func cloneDetections(ds []Detection) []Detection {
	if ds == nil {
		return nil
	}
	cp := make([]Detection, len(ds))
	copy(cp, ds)
	return cp
}
