package detection

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// Detector runs object detection over a frame, producing a copy annotated
// with the detection overlays. The inference engine itself is pluggable:
// platform builds supply an accelerator-backed implementation through
// DetectorFactory.
type Detector interface {
	DetectAndDraw(frame []byte) (annotated []byte, detections []Detection, err error)
	Close() error
}

// DetectorFactory builds a detector from a model artifact path.
type DetectorFactory func(modelPath string) (Detector, error)

// Capture pulls frames from a camera stream. The underlying transport keeps
// its own read thread so ReadLatest never blocks on the network.
type Capture interface {
	Start() error
	ReadLatest() (frame []byte, ok bool)
	Release()
}

// CaptureFactory opens a capture against a stream URL. The connect timeout
// bounds stream setup, the read timeout bounds an individual frame read.
type CaptureFactory func(url string, connectTimeout, readTimeout time.Duration) (Capture, error)

// NewPassDetector loads a detector that validates the model artifact but
// performs no inference, returning frames unmodified with no detections.
// It stands in on hosts without an accelerator backend.
func NewPassDetector(modelPath string) (Detector, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path is empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model artifact not available: %w", err)
	}
	logger.Warn("Using pass-through detector, no inference backend loaded",
		zap.String("model_path", modelPath))
	return &passDetector{}, nil
}

type passDetector struct{}

func (*passDetector) DetectAndDraw(frame []byte) ([]byte, []Detection, error) {
	annotated := make([]byte, len(frame))
	copy(annotated, frame)
	return annotated, nil, nil
}

func (*passDetector) Close() error { return nil }
