package mapper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

// DirectionAliases maps a motion command to the direction strings a stored
// camera may carry for it.
var DirectionAliases = map[string][]string{
	"turn_left":  {"turn_left", "left"},
	"turn_right": {"turn_right", "right"},
	"forward":    {"forward"},
	"backward":   {"backward"},
	"stationary": {"stationary"},
}

// Directions enumerates the commands a state snapshot covers.
var Directions = []string{"forward", "backward", "turn_left", "turn_right", "stationary"}

const queryTimeout = 2 * time.Second

// CameraStore is the camera lookup surface the mapper needs.
type CameraStore interface {
	ListEnabled(ctx context.Context) ([]*models.Camera, error)
	ListEnabledByIDs(ctx context.Context, ids []string) ([]*models.Camera, error)
}

// AngleRangeStore is the angle range lookup surface the mapper needs.
type AngleRangeStore interface {
	ListEnabled(ctx context.Context) ([]*models.AngleRange, error)
	ListEnabledContaining(ctx context.Context, angle float64) ([]*models.AngleRange, error)
}

// AngleRangeInfo is a state-snapshot entry: one enabled angle range with its
// resolved cameras.
type AngleRangeInfo struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	MinAngle float64             `json:"min_angle"`
	MaxAngle float64             `json:"max_angle"`
	Cameras  []broker.CameraInfo `json:"cameras"`
}

// CameraMapper resolves messages to camera lists through the relational
// store. Every lookup is total: storage faults are retried by the error
// handler and degrade to the cached or empty result, never an error.
type CameraMapper struct {
	cameras      CameraStore
	angleRanges  AngleRangeStore
	errorHandler *broker.ErrorHandler
}

// NewCameraMapper creates a camera mapper.
func NewCameraMapper(cameras CameraStore, angleRanges AngleRangeStore, errorHandler *broker.ErrorHandler) *CameraMapper {
	if errorHandler == nil {
		errorHandler = broker.NewErrorHandler()
	}
	return &CameraMapper{
		cameras:      cameras,
		angleRanges:  angleRanges,
		errorHandler: errorHandler,
	}
}

// CamerasByDirection returns the enabled cameras whose stored directions
// intersect the acceptable strings for the command. A camera matching more
// than one alias appears once.
func (m *CameraMapper) CamerasByDirection(direction string) []broker.CameraInfo {
	aliases, ok := DirectionAliases[direction]
	if !ok {
		aliases = []string{direction}
	}

	result, ok := m.errorHandler.RetryStorage(
		fmt.Sprintf("cameras_by_direction(%s)", direction),
		func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()

			cameras, err := m.cameras.ListEnabled(ctx)
			if err != nil {
				return nil, err
			}

			matching := []broker.CameraInfo{}
			for _, camera := range cameras {
				if directionsIntersect(camera.Directions, aliases) {
					matching = append(matching, toCameraInfo(camera))
				}
			}

			logger.Info("Resolved cameras for direction",
				zap.String("direction", direction),
				zap.Strings("aliases", aliases),
				zap.Int("cameras", len(matching)))

			return matching, nil
		})
	if !ok {
		logger.Warn("Returning empty camera list after all retries failed",
			zap.String("direction", direction))
		return []broker.CameraInfo{}
	}
	return result.([]broker.CameraInfo)
}

// CamerasByAngle returns the enabled cameras associated with every enabled
// angle range covering the angle.
func (m *CameraMapper) CamerasByAngle(angle float64) []broker.CameraInfo {
	result, ok := m.errorHandler.RetryStorage(
		fmt.Sprintf("cameras_by_angle(%g)", angle),
		func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()

			ranges, err := m.angleRanges.ListEnabledContaining(ctx, angle)
			if err != nil {
				return nil, err
			}

			idSet := map[string]struct{}{}
			ids := []string{}
			for _, ar := range ranges {
				for _, id := range ar.CameraIDs {
					if _, seen := idSet[id]; !seen {
						idSet[id] = struct{}{}
						ids = append(ids, id)
					}
				}
			}

			infos := []broker.CameraInfo{}
			if len(ids) > 0 {
				cameras, err := m.cameras.ListEnabledByIDs(ctx, ids)
				if err != nil {
					return nil, err
				}
				for _, camera := range cameras {
					infos = append(infos, toCameraInfo(camera))
				}
			}

			logger.Info("Resolved cameras for angle",
				zap.Float64("angle", angle),
				zap.Int("ranges", len(ranges)),
				zap.Int("cameras", len(infos)))

			return infos, nil
		})
	if !ok {
		logger.Warn("Returning empty camera list after all retries failed",
			zap.Float64("angle", angle))
		return []broker.CameraInfo{}
	}
	return result.([]broker.CameraInfo)
}

// CamerasByIDs resolves camera descriptors for a list of camera ids, used
// when re-hydrating a managed message for delivery.
func (m *CameraMapper) CamerasByIDs(ids []string) []broker.CameraInfo {
	if len(ids) == 0 {
		return []broker.CameraInfo{}
	}

	result, ok := m.errorHandler.RetryStorage(
		fmt.Sprintf("cameras_by_ids(%v)", ids),
		func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()

			cameras, err := m.cameras.ListEnabledByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}

			infos := []broker.CameraInfo{}
			for _, camera := range cameras {
				infos = append(infos, toCameraInfo(camera))
			}
			return infos, nil
		})
	if !ok {
		return []broker.CameraInfo{}
	}
	return result.([]broker.CameraInfo)
}

// CamerasByAlert resolves cameras for an AI alert. Reserved: alerts carry
// their own camera context, so the mapping is empty for now.
func (m *CameraMapper) CamerasByAlert(alertData broker.Payload) []broker.CameraInfo {
	alertType, _ := broker.GetString(alertData, "alert_type")
	logger.Debug("AI alert camera mapping called", zap.String("alert_type", alertType))
	return []broker.CameraInfo{}
}

// CamerasFor dispatches a message to the lookup matching its type.
func (m *CameraMapper) CamerasFor(msg *broker.Message) []broker.CameraInfo {
	switch msg.Type {
	case "direction_result":
		command, _ := broker.GetString(msg.Data, "command")
		return m.CamerasByDirection(command)
	case "angle_value":
		angle, _ := broker.GetFloat(msg.Data, "angle")
		return m.CamerasByAngle(angle)
	case "ai_alert":
		return m.CamerasByAlert(msg.Data)
	default:
		return []broker.CameraInfo{}
	}
}

// AllDirectionMappings returns the direction-to-cameras snapshot sent to a
// newly connected consumer.
func (m *CameraMapper) AllDirectionMappings() map[string][]broker.CameraInfo {
	mappings := make(map[string][]broker.CameraInfo, len(Directions))
	for _, direction := range Directions {
		mappings[direction] = m.CamerasByDirection(direction)
	}
	return mappings
}

// AllAngleRanges returns every enabled angle range with its cameras.
func (m *CameraMapper) AllAngleRanges() []AngleRangeInfo {
	result, ok := m.errorHandler.RetryStorage(
		"all_angle_ranges",
		func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()

			ranges, err := m.angleRanges.ListEnabled(ctx)
			if err != nil {
				return nil, err
			}

			infos := []AngleRangeInfo{}
			for _, ar := range ranges {
				cameras := []broker.CameraInfo{}
				if len(ar.CameraIDs) > 0 {
					resolved, err := m.cameras.ListEnabledByIDs(ctx, ar.CameraIDs)
					if err != nil {
						return nil, err
					}
					for _, camera := range resolved {
						cameras = append(cameras, toCameraInfo(camera))
					}
				}
				infos = append(infos, AngleRangeInfo{
					ID:       ar.ID,
					Name:     ar.Name,
					MinAngle: ar.MinAngle,
					MaxAngle: ar.MaxAngle,
					Cameras:  cameras,
				})
			}

			return infos, nil
		})
	if !ok {
		logger.Warn("Returning empty angle ranges list after all retries failed")
		return []AngleRangeInfo{}
	}
	return result.([]AngleRangeInfo)
}

// ClearCache drops the error handler's cached query results.
func (m *CameraMapper) ClearCache() {
	m.errorHandler.ClearCache()
}

func toCameraInfo(camera *models.Camera) broker.CameraInfo {
	return broker.CameraInfo{
		ID:         camera.ID,
		Name:       camera.Name,
		URL:        camera.URL,
		Status:     camera.Status,
		Directions: camera.Directions,
	}
}

func directionsIntersect(stored models.StringList, aliases []string) bool {
	for _, dir := range stored {
		for _, alias := range aliases {
			if dir == alias {
				return true
			}
		}
	}
	return false
}
