package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/api/service"
	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/detection"
	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/pkg/utils"
)

// StreamHandler serves the realtime WebSocket surfaces: the message stream
// fed by the dispatch service and the per-camera detection frame stream.
type StreamHandler struct {
	dispatch *service.DispatchService
	broker   *broker.Broker
	frames   *detection.FrameCache
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(dispatch *service.DispatchService, b *broker.Broker, frames *detection.FrameCache) *StreamHandler {
	return &StreamHandler{
		dispatch: dispatch,
		broker:   b,
		frames:   frames,
	}
}

// WebSocketMessages streams admitted messages to the client. On connect the
// client receives a current_state frame, then every admitted message.
func (h *StreamHandler) WebSocketMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow connections from any origin in development
	})
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "Connection closed")

	subscriber := h.dispatch.Subscribe(ctx, 100)
	defer h.dispatch.Unsubscribe(subscriber.ID)

	logger.Info("WebSocket client connected", zap.String("subscriber_id", subscriber.ID))

	// Current state first so the client can render before any event flows
	if err := h.writeMessage(ctx, conn, h.dispatch.CurrentState()); err != nil {
		logger.Error("Failed to send current state",
			zap.String("subscriber_id", subscriber.ID),
			zap.Error(err))
		return
	}

	for {
		select {
		case msg, ok := <-subscriber.MessageCh:
			if !ok {
				return
			}
			if err := h.writeMessage(ctx, conn, msg); err != nil {
				logger.Error("Failed to send WebSocket message",
					zap.String("subscriber_id", subscriber.ID),
					zap.Error(err))
				return
			}

		case <-ctx.Done():
			logger.Info("WebSocket context cancelled", zap.String("subscriber_id", subscriber.ID))
			return
		}
	}
}

func (h *StreamHandler) writeMessage(ctx context.Context, conn *websocket.Conn, msg service.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		// Serialization failure surfaces as an error frame, not a close
		errFrame, _ := json.Marshal(service.OutboundMessage{
			Type:      "error",
			Timestamp: time.Now().Format(time.RFC3339),
			Data:      map[string]any{"error": err.Error()},
		})
		return conn.Write(ctx, websocket.MessageText, errFrame)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// WebSocketFrames streams annotated detection frames for a camera as binary
// messages. Cycles without a cached frame are skipped.
func (h *StreamHandler) WebSocketFrames(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	if cameraID == "" {
		utils.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "Camera ID is required", nil)
		return
	}

	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "Connection closed")

	logger.Info("Frame stream client connected", zap.String("camera_id", cameraID))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Info("Frame stream context cancelled", zap.String("camera_id", cameraID))
			return
		case <-ticker.C:
			found, frame, capturedAt, _ := h.frames.ReadLatest(cameraID, true)
			if !found || !capturedAt.After(lastSent) {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				logger.Debug("Frame stream client gone",
					zap.String("camera_id", cameraID),
					zap.Error(err))
				return
			}
			lastSent = capturedAt
		}
	}
}
