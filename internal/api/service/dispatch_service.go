package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/internal/mapper"
)

// OutboundMessage is the wire shape delivered to stream consumers.
type OutboundMessage struct {
	Type          string              `json:"type"`
	MessageID     string              `json:"message_id,omitempty"`
	Timestamp     string              `json:"timestamp"`
	Data          any                 `json:"data,omitempty"`
	Cameras       []broker.CameraInfo `json:"cameras,omitempty"`
	Priority      int                 `json:"priority,omitempty"`
	RemainingTime float64             `json:"remaining_time,omitempty"`
}

// StreamSubscriber is one connected consumer with its own buffered queue.
// A consumer that cannot keep up loses messages rather than stalling the
// dispatch path.
type StreamSubscriber struct {
	ID        string
	MessageCh chan OutboundMessage
	ctx       context.Context
	cancel    context.CancelFunc
}

// DispatchService fans admitted messages out to stream consumers. The
// DataManager callback only enqueues: camera re-hydration and delivery run
// on the service's own worker so the manager's slot lock is never held
// across storage lookups.
type DispatchService struct {
	dataManager *broker.DataManager
	mapper      *mapper.CameraMapper

	queue  chan *broker.ManagedMessage
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.RWMutex
	subscribers map[string]*StreamSubscriber
	callbackID  string
}

// NewDispatchService creates a dispatch service and hooks it into the data
// manager.
func NewDispatchService(dm *broker.DataManager, cm *mapper.CameraMapper) *DispatchService {
	s := &DispatchService{
		dataManager: dm,
		mapper:      cm,
		queue:       make(chan *broker.ManagedMessage, 256),
		stopCh:      make(chan struct{}),
		subscribers: make(map[string]*StreamSubscriber),
	}
	s.callbackID = dm.RegisterCallback(s.onMessage)

	s.wg.Add(1)
	go s.dispatchLoop()
	return s
}

// onMessage is the DataManager callback. It must return promptly, so it
// only hands the message to the worker queue.
func (s *DispatchService) onMessage(msg *broker.ManagedMessage) {
	select {
	case s.queue <- msg:
	default:
		logger.Warn("Dispatch queue full, dropping message",
			zap.String("message_id", msg.MessageID))
	}
}

func (s *DispatchService) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case msg := <-s.queue:
			s.broadcast(s.buildOutbound(msg))
		}
	}
}

// Subscribe creates a consumer queue. The caller must Unsubscribe when the
// connection closes.
func (s *DispatchService) Subscribe(ctx context.Context, bufferSize int) *StreamSubscriber {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	subCtx, cancel := context.WithCancel(ctx)
	subscriber := &StreamSubscriber{
		ID:        uuid.New().String(),
		MessageCh: make(chan OutboundMessage, bufferSize),
		ctx:       subCtx,
		cancel:    cancel,
	}

	s.mu.Lock()
	s.subscribers[subscriber.ID] = subscriber
	s.mu.Unlock()

	logger.Info("Stream consumer subscribed", zap.String("subscriber_id", subscriber.ID))
	return subscriber
}

// Unsubscribe removes a consumer and closes its queue.
func (s *DispatchService) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subscriber, exists := s.subscribers[subscriberID]; exists {
		subscriber.cancel()
		close(subscriber.MessageCh)
		delete(s.subscribers, subscriberID)
		logger.Info("Stream consumer unsubscribed", zap.String("subscriber_id", subscriberID))
	}
}

// SubscriberCount returns the number of connected consumers.
func (s *DispatchService) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// broadcast delivers one outbound message to every consumer, never
// blocking on a full queue.
func (s *DispatchService) broadcast(outbound OutboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, subscriber := range s.subscribers {
		select {
		case subscriber.MessageCh <- outbound:
		case <-subscriber.ctx.Done():
		default:
			logger.Warn("Consumer queue full, dropping message",
				zap.String("subscriber_id", subscriber.ID),
				zap.String("message_id", outbound.MessageID))
		}
	}
}

func (s *DispatchService) buildOutbound(msg *broker.ManagedMessage) OutboundMessage {
	return OutboundMessage{
		Type:          msg.Type,
		MessageID:     msg.MessageID,
		Timestamp:     msg.Timestamp.Format(time.RFC3339),
		Data:          Normalize(map[string]any(msg.Data)),
		Cameras:       s.mapper.CamerasByIDs(msg.Cameras),
		Priority:      msg.Priority,
		RemainingTime: msg.RemainingTime(),
	}
}

// CurrentState builds the snapshot message sent to a consumer on connect:
// all direction mappings, all angle ranges and the active slot if any.
func (s *DispatchService) CurrentState() OutboundMessage {
	state := map[string]any{
		"direction_mappings": s.mapper.AllDirectionMappings(),
		"angle_ranges":       s.mapper.AllAngleRanges(),
	}

	if current := s.dataManager.CurrentMessage(); current != nil {
		state["current_message"] = map[string]any{
			"message_type":   current.Type,
			"message_id":     current.MessageID,
			"data":           Normalize(map[string]any(current.Data)),
			"cameras":        current.Cameras,
			"priority":       current.Priority,
			"remaining_time": current.RemainingTime(),
		}
	}

	return OutboundMessage{
		Type:      "current_state",
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      state,
	}
}

// StatsMessage builds a stats frame for a consumer that requests one.
func (s *DispatchService) StatsMessage(brokerStats broker.Stats) OutboundMessage {
	return OutboundMessage{
		Type:      "stats",
		Timestamp: time.Now().Format(time.RFC3339),
		Data: map[string]any{
			"broker":       brokerStats,
			"data_manager": s.dataManager.Stats(),
			"consumers":    s.SubscriberCount(),
		},
	}
}

// Close detaches the service from the data manager, stops the worker and
// drops all consumers.
func (s *DispatchService) Close() {
	s.dataManager.UnregisterCallback(s.callbackID)
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, subscriber := range s.subscribers {
		subscriber.cancel()
		close(subscriber.MessageCh)
		delete(s.subscribers, id)
	}
}
