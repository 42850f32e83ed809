package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// MessagePriorities maps channel names to arbitration priority; higher wins.
var MessagePriorities = map[string]int{
	"ai_alert":         3,
	"angle_value":      2,
	"direction_result": 1,
}

// DefaultMessageDuration is how long an admitted message occupies the slot.
const DefaultMessageDuration = 3 * time.Second

// ManagedMessage is the single active message held by the DataManager.
type ManagedMessage struct {
	Type       string    `json:"message_type"`
	MessageID  string    `json:"message_id"`
	Data       Payload   `json:"data"`
	Cameras    []string  `json:"cameras"` // camera ids, ascending
	Priority   int       `json:"priority"`
	Timestamp  time.Time `json:"timestamp"`
	ExpireTime time.Time `json:"expire_time"`
}

// IsExpired reports whether the message has outlived its slot time.
func (m *ManagedMessage) IsExpired() bool {
	return !time.Now().Before(m.ExpireTime)
}

// IsSame reports duplicate equality: same type and same sorted camera list.
func (m *ManagedMessage) IsSame(other *ManagedMessage) bool {
	if m.Type != other.Type || len(m.Cameras) != len(other.Cameras) {
		return false
	}
	for i := range m.Cameras {
		if m.Cameras[i] != other.Cameras[i] {
			return false
		}
	}
	return true
}

// RemainingTime returns the seconds until slot expiry, never negative.
func (m *ManagedMessage) RemainingTime() float64 {
	remaining := time.Until(m.ExpireTime).Seconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CameraGetter resolves the camera list for a delivered message.
type CameraGetter func(*Message) []CameraInfo

// MessageCallback consumes admitted messages. Callbacks run on the
// publishing goroutine and must return promptly.
type MessageCallback func(*ManagedMessage)

// DataManagerStats is a snapshot of the manager's counters and slot state.
type DataManagerStats struct {
	MessagesReceived    int64           `json:"messages_received"`
	MessagesSent        int64           `json:"messages_sent"`
	MessagesInterrupted int64           `json:"messages_interrupted"`
	MessagesDuplicated  int64           `json:"messages_duplicated"`
	MessagesExpired     int64           `json:"messages_expired"`
	MessagesNoCameras   int64           `json:"messages_no_cameras"`
	HasCurrentMessage   bool            `json:"has_current_message"`
	CurrentMessage      *ManagedMessage `json:"current_message"`
}

type registeredCallback struct {
	id string
	fn MessageCallback
}

// DataManager subscribes to the broker's built-in channels and arbitrates a
// single active message slot: priority preemption, duplicate suppression and
// timed expiry. Admitted messages are dispatched to registered callbacks.
type DataManager struct {
	broker       *Broker
	cameraGetter CameraGetter
	duration     time.Duration

	mu              sync.Mutex
	current         *ManagedMessage
	callbacks       []registeredCallback
	subscriptions   map[string]string // message type -> subscription id
	timer           *time.Timer
	timerGeneration uint64

	stats struct {
		received    int64
		sent        int64
		interrupted int64
		duplicated  int64
		expired     int64
		noCameras   int64
	}
}

// NewDataManager creates a data manager. cameraGetter may be nil, in which
// case every message resolves to an empty camera list.
func NewDataManager(b *Broker, cameraGetter CameraGetter, duration time.Duration) *DataManager {
	if duration <= 0 {
		duration = DefaultMessageDuration
	}
	return &DataManager{
		broker:        b,
		cameraGetter:  cameraGetter,
		duration:      duration,
		subscriptions: make(map[string]string),
	}
}

// Initialize registers the data_manager introspection channel and subscribes
// to the built-in message types.
func (dm *DataManager) Initialize() error {
	if !dm.broker.IsTypeRegistered("data_manager") {
		if err := dm.broker.Register("data_manager", NewPassthroughHandler("data_manager"), false); err != nil {
			return fmt.Errorf("failed to register data_manager type: %w", err)
		}
	}

	for _, msgType := range []string{"direction_result", "angle_value", "ai_alert"} {
		subID, err := dm.broker.Subscribe(msgType, dm.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", msgType, err)
		}
		dm.mu.Lock()
		dm.subscriptions[msgType] = subID
		dm.mu.Unlock()
		logger.Info("DataManager subscribed",
			zap.String("message_type", msgType),
			zap.String("subscriber_id", subID))
	}

	logger.Info("DataManager initialized")
	return nil
}

// RegisterCallback adds a message callback, invoked in registration order
// after each admission. The returned id removes it again.
func (dm *DataManager) RegisterCallback(fn MessageCallback) string {
	id := uuid.New().String()
	dm.mu.Lock()
	dm.callbacks = append(dm.callbacks, registeredCallback{id: id, fn: fn})
	dm.mu.Unlock()
	logger.Info("Registered message callback", zap.String("callback_id", id))
	return id
}

// UnregisterCallback removes a callback by id. Returns false if not found.
func (dm *DataManager) UnregisterCallback(id string) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for i, cb := range dm.callbacks {
		if cb.id == id {
			dm.callbacks = append(dm.callbacks[:i:i], dm.callbacks[i+1:]...)
			logger.Info("Unregistered message callback", zap.String("callback_id", id))
			return true
		}
	}
	return false
}

// handleMessage is the broker delivery path: resolve cameras, build the
// managed message, run the admission rule and dispatch on success.
func (dm *DataManager) handleMessage(msg *Message) {
	cameras := dm.resolveCameras(msg)

	now := time.Now()
	managed := &ManagedMessage{
		Type:       msg.Type,
		MessageID:  msg.ID,
		Data:       msg.Data,
		Cameras:    sortedCameraIDs(cameras),
		Priority:   MessagePriorities[msg.Type],
		Timestamp:  now,
		ExpireTime: now.Add(dm.duration),
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.stats.received++

	if !dm.shouldSendLocked(managed) {
		return
	}

	dm.current = managed
	dm.dispatchLocked(managed)
	dm.restartTimerLocked()
}

// shouldSendLocked applies the admission rule. Caller holds dm.mu.
//
// Rules, in order: empty camera list drops everything but ai_alert; an empty
// or expired slot admits; a duplicate drops; equal-or-higher priority admits
// (strictly higher counts as interruption); lower priority drops.
func (dm *DataManager) shouldSendLocked(incoming *ManagedMessage) bool {
	if len(incoming.Cameras) == 0 && incoming.Type != "ai_alert" {
		dm.stats.noCameras++
		logger.Debug("Message has no cameras, not sending",
			zap.String("message_type", incoming.Type),
			zap.String("message_id", incoming.MessageID))
		return false
	}

	if dm.current == nil {
		return true
	}

	if dm.current.IsExpired() {
		dm.stats.expired++
		logger.Debug("Current message expired, admitting new message")
		return true
	}

	if dm.current.IsSame(incoming) {
		dm.stats.duplicated++
		logger.Debug("Duplicate message detected, not sending",
			zap.String("message_type", incoming.Type))
		return false
	}

	if incoming.Priority >= dm.current.Priority {
		if incoming.Priority > dm.current.Priority {
			dm.stats.interrupted++
			logger.Info("Higher priority message interrupting",
				zap.String("incoming_type", incoming.Type),
				zap.Int("incoming_priority", incoming.Priority),
				zap.String("current_type", dm.current.Type),
				zap.Int("current_priority", dm.current.Priority))
		}
		return true
	}

	logger.Debug("Lower priority message ignored",
		zap.String("incoming_type", incoming.Type),
		zap.Int("incoming_priority", incoming.Priority),
		zap.Int("current_priority", dm.current.Priority))
	return false
}

// dispatchLocked invokes the registered callbacks in order. Caller holds
// dm.mu; callbacks must not block or re-enter the manager.
func (dm *DataManager) dispatchLocked(msg *ManagedMessage) {
	dm.stats.sent++

	logger.Info("Sending message",
		zap.String("message_type", msg.Type),
		zap.String("message_id", msg.MessageID),
		zap.Int("cameras", len(msg.Cameras)),
		zap.Int("priority", msg.Priority))

	for _, cb := range dm.callbacks {
		dm.invokeCallback(cb, msg)
	}
}

func (dm *DataManager) invokeCallback(cb registeredCallback, msg *ManagedMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Message callback failed",
				zap.String("callback_id", cb.id),
				zap.String("message_id", msg.MessageID),
				zap.Error(recoveredError(r)))
		}
	}()
	cb.fn(msg)
}

// restartTimerLocked cancels any outstanding expiry timer and arms a new
// one. The generation guard keeps a late-firing timer from clearing a slot
// it was not started for. Caller holds dm.mu.
func (dm *DataManager) restartTimerLocked() {
	if dm.timer != nil {
		dm.timer.Stop()
	}

	dm.timerGeneration++
	generation := dm.timerGeneration
	dm.timer = time.AfterFunc(dm.duration, func() {
		dm.onTimerExpired(generation)
	})
}

// onTimerExpired clears the slot if the firing timer is still current.
func (dm *DataManager) onTimerExpired(generation uint64) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if generation != dm.timerGeneration {
		logger.Debug("Stale expiry timer ignored")
		return
	}

	if dm.current != nil {
		logger.Debug("Message expired",
			zap.String("message_type", dm.current.Type),
			zap.String("message_id", dm.current.MessageID))
		dm.current = nil
		dm.stats.expired++
	}
}

// CurrentMessage returns the active message, or nil when the slot is empty
// or the message has logically expired.
func (dm *DataManager) CurrentMessage() *ManagedMessage {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.current == nil || dm.current.IsExpired() {
		return nil
	}
	cp := *dm.current
	return &cp
}

// Stats returns a snapshot of the manager counters.
func (dm *DataManager) Stats() DataManagerStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	stats := DataManagerStats{
		MessagesReceived:    dm.stats.received,
		MessagesSent:        dm.stats.sent,
		MessagesInterrupted: dm.stats.interrupted,
		MessagesDuplicated:  dm.stats.duplicated,
		MessagesExpired:     dm.stats.expired,
		MessagesNoCameras:   dm.stats.noCameras,
		HasCurrentMessage:   dm.current != nil,
	}
	if dm.current != nil && !dm.current.IsExpired() {
		cp := *dm.current
		stats.CurrentMessage = &cp
	}
	return stats
}

// resolveCameras asks the configured getter for the message's cameras.
// Faults degrade to an empty list; the getter never aborts delivery.
func (dm *DataManager) resolveCameras(msg *Message) (cameras []CameraInfo) {
	if dm.cameraGetter == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Camera getter failed",
				zap.String("message_id", msg.ID),
				zap.Error(recoveredError(r)))
			cameras = nil
		}
	}()
	return dm.cameraGetter(msg)
}

// Shutdown cancels the timer, unsubscribes from the broker and clears all
// state.
func (dm *DataManager) Shutdown() {
	logger.Info("Shutting down DataManager")

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.timer != nil {
		dm.timer.Stop()
		dm.timer = nil
	}
	dm.timerGeneration++

	for msgType, subID := range dm.subscriptions {
		if ok := dm.broker.Unsubscribe(msgType, subID); ok {
			logger.Info("Unsubscribed",
				zap.String("message_type", msgType),
				zap.String("subscriber_id", subID))
		}
	}
	dm.subscriptions = make(map[string]string)

	dm.current = nil
	dm.callbacks = nil

	logger.Info("DataManager shutdown complete")
}
