package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/detection"
	"github.com/cinvymoe/patrol_server/internal/mapper"
	"github.com/cinvymoe/patrol_server/internal/scheduler"
	"github.com/cinvymoe/patrol_server/pkg/utils"
)

// StatusHandler serves broker, data manager and monitor introspection.
type StatusHandler struct {
	broker       *broker.Broker
	dataManager  *broker.DataManager
	mapper       *mapper.CameraMapper
	frames       *detection.FrameCache
	detectionMon *detection.Monitor
	cameraMon    *scheduler.CameraMonitor
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(b *broker.Broker, dm *broker.DataManager, cm *mapper.CameraMapper,
	frames *detection.FrameCache, detectionMon *detection.Monitor, cameraMon *scheduler.CameraMonitor) *StatusHandler {
	return &StatusHandler{
		broker:       b,
		dataManager:  dm,
		mapper:       cm,
		frames:       frames,
		detectionMon: detectionMon,
		cameraMon:    cameraMon,
	}
}

// BrokerStats returns broker counters and registered types.
func (h *StatusHandler) BrokerStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"stats":            h.broker.Stats(),
		"registered_types": h.broker.RegisteredTypes(),
	})
}

// BrokerSubscribers returns subscriber metadata for a message type.
func (h *StatusHandler) BrokerSubscribers(w http.ResponseWriter, r *http.Request) {
	msgType := chi.URLParam(r, "type")
	if !h.broker.IsTypeRegistered(msgType) {
		utils.RespondError(w, http.StatusNotFound, "NOT_FOUND", "Message type not registered", msgType)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.broker.Subscribers(msgType))
}

// DataManagerStats returns the data manager counters and slot state.
func (h *StatusHandler) DataManagerStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.dataManager.Stats())
}

// DirectionMappings returns the direction-to-cameras snapshot.
func (h *StatusHandler) DirectionMappings(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.mapper.AllDirectionMappings())
}

// AngleRanges returns the enabled angle ranges with their cameras.
func (h *StatusHandler) AngleRanges(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.mapper.AllAngleRanges())
}

// ClearMapperCache drops the mapper's cached query results.
func (h *StatusHandler) ClearMapperCache(w http.ResponseWriter, r *http.Request) {
	h.mapper.ClearCache()
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// DetectionStatus returns the detection monitor state.
func (h *StatusHandler) DetectionStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.detectionMon.Status())
}

// FrameInfo returns cache metadata for a camera's frames.
func (h *StatusHandler) FrameInfo(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	if cameraID == "" {
		utils.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "Camera ID is required", nil)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.frames.Info(cameraID))
}

// ClearFrames clears the frame cache for one camera or all cameras.
func (h *StatusHandler) ClearFrames(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	if cameraID == "" {
		h.frames.ClearAll()
	} else {
		h.frames.Clear(cameraID)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// CameraMonitorStatus returns the camera status monitor state.
func (h *StatusHandler) CameraMonitorStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.cameraMon.Status())
}
