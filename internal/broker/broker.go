package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// Broker routes typed messages from publishers to subscribers. One instance
// exists per process; components receive it by reference from the composition
// root, or through Default for the legacy accessor contract.
type Broker struct {
	handlerMu sync.RWMutex
	handlers  map[string]TypeHandler

	subMu       sync.Mutex
	subscribers map[string][]*SubscriptionInfo

	errorHandler *ErrorHandler

	published atomic.Int64
	failed    atomic.Int64
	subCount  atomic.Int64

	closed atomic.Bool
}

var (
	defaultMu     sync.Mutex
	defaultBroker *Broker
)

// Default returns the process-wide broker, constructing it on first use.
// After Shutdown, the next call constructs a fresh instance.
func Default() *Broker {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBroker == nil || defaultBroker.closed.Load() {
		defaultBroker = newBroker()
		logger.Info("MessageBroker instance created")
	}
	return defaultBroker
}

// newBroker builds an empty broker. Deliberately unexported: external
// packages obtain the instance through Default.
func newBroker() *Broker {
	return &Broker{
		handlers:     make(map[string]TypeHandler),
		subscribers:  make(map[string][]*SubscriptionInfo),
		errorHandler: NewErrorHandler(),
	}
}

// ErrorHandler returns the broker's fault handler.
func (b *Broker) ErrorHandler() *ErrorHandler {
	return b.errorHandler
}

// RegisterDefaults registers the built-in message channels.
func (b *Broker) RegisterDefaults() error {
	for _, h := range []TypeHandler{DirectionHandler{}, AngleHandler{}, AIAlertHandler{}} {
		if err := b.Register(h.TypeName(), h, false); err != nil {
			return err
		}
	}
	logger.Info("Registered default message handlers",
		zap.Strings("types", []string{"direction_result", "angle_value", "ai_alert"}))
	return nil
}

// Register binds a handler to a message type. With allowOverride false a
// second registration of the same type fails with ErrAlreadyRegistered. On
// override the existing subscriber list is preserved.
func (b *Broker) Register(msgType string, handler TypeHandler, allowOverride bool) error {
	if handler == nil {
		return fmt.Errorf("%w: handler for '%s' is nil", ErrInvalidHandler, msgType)
	}
	if handler.TypeName() != msgType {
		return fmt.Errorf("%w: handler reports type '%s', registered as '%s'",
			ErrInvalidHandler, handler.TypeName(), msgType)
	}

	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()

	if _, exists := b.handlers[msgType]; exists {
		if !allowOverride {
			return fmt.Errorf("%w: '%s'", ErrAlreadyRegistered, msgType)
		}
		logger.Warn("Overriding existing handler", zap.String("message_type", msgType))
	}

	b.handlers[msgType] = handler

	// Subscribers registered before an override (or a re-register after
	// Unregister) keep receiving messages.
	b.subMu.Lock()
	if _, ok := b.subscribers[msgType]; !ok {
		b.subscribers[msgType] = nil
	}
	b.subMu.Unlock()

	logger.Info("Registered message type", zap.String("message_type", msgType))
	return nil
}

// Unregister removes the handler for a type. The subscriber list is kept so
// a later re-register restores delivery. Returns false if the type was not
// registered.
func (b *Broker) Unregister(msgType string) bool {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()

	if _, exists := b.handlers[msgType]; !exists {
		logger.Warn("Cannot unregister message type: not registered",
			zap.String("message_type", msgType))
		return false
	}

	delete(b.handlers, msgType)
	logger.Info("Unregistered message type", zap.String("message_type", msgType))
	return true
}

// Subscribe registers a callback for a message type and returns the
// subscription id used for Unsubscribe. The callback receives every message
// published after Subscribe returns.
func (b *Broker) Subscribe(msgType string, callback Callback) (string, error) {
	if callback == nil {
		return "", ErrInvalidCallback
	}

	b.handlerMu.RLock()
	_, registered := b.handlers[msgType]
	b.handlerMu.RUnlock()
	if !registered {
		return "", fmt.Errorf("%w: '%s'", ErrUnknownType, msgType)
	}

	sub := &SubscriptionInfo{
		ID:        uuid.New().String(),
		Type:      msgType,
		Callback:  callback,
		CreatedAt: time.Now(),
	}

	b.subMu.Lock()
	b.subscribers[msgType] = append(b.subscribers[msgType], sub)
	count := len(b.subscribers[msgType])
	b.subMu.Unlock()
	b.subCount.Add(1)

	logger.Info("Subscriber registered",
		zap.String("subscriber_id", sub.ID),
		zap.String("message_type", msgType),
		zap.Int("type_subscribers", count))

	return sub.ID, nil
}

// Unsubscribe removes a subscription. Returns false when the id is unknown;
// calling it twice is harmless.
func (b *Broker) Unsubscribe(msgType, subscriptionID string) bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	subs, ok := b.subscribers[msgType]
	if !ok {
		logger.Warn("Cannot unsubscribe: message type not found",
			zap.String("subscriber_id", subscriptionID),
			zap.String("message_type", msgType))
		return false
	}

	for i, sub := range subs {
		if sub.ID == subscriptionID {
			b.subscribers[msgType] = append(subs[:i:i], subs[i+1:]...)
			b.subCount.Add(-1)
			logger.Info("Unsubscribed",
				zap.String("subscriber_id", subscriptionID),
				zap.String("message_type", msgType),
				zap.Int("remaining", len(b.subscribers[msgType])))
			return true
		}
	}

	logger.Warn("Cannot unsubscribe: subscription not found",
		zap.String("subscriber_id", subscriptionID),
		zap.String("message_type", msgType))
	return false
}

// Publish validates, processes and fans a message out to the type's
// subscribers. Validation failures are reported in the result, never raised.
// Subscriber failures are isolated: the publish call never propagates them.
func (b *Broker) Publish(msgType string, data Payload) (PublishResult, error) {
	start := time.Now()

	b.handlerMu.RLock()
	handler, registered := b.handlers[msgType]
	b.handlerMu.RUnlock()
	if !registered {
		b.failed.Add(1)
		return PublishResult{}, fmt.Errorf("%w: '%s'", ErrUnknownType, msgType)
	}

	msg := NewMessage(msgType, data)

	validation := handler.Validate(data)
	if !validation.Valid {
		b.failed.Add(1)
		b.errorHandler.HandleValidationError(msg, validation)
		return PublishResult{
			Success:   false,
			MessageID: msg.ID,
			Errors:    validation.Errors,
		}, nil
	}
	for _, w := range validation.Warnings {
		logger.Warn("Validation warning",
			zap.String("message_id", msg.ID),
			zap.String("message_type", msgType),
			zap.String("warning", w))
	}

	msg.Data = handler.Process(data)

	notified := b.notifySubscribers(msgType, msg)
	b.published.Add(1)

	logger.Debug("Published message",
		zap.String("message_id", msg.ID),
		zap.String("message_type", msgType),
		zap.Int("subscribers_notified", notified),
		zap.Duration("elapsed", time.Since(start)))

	return PublishResult{
		Success:             true,
		MessageID:           msg.ID,
		SubscribersNotified: notified,
	}, nil
}

// notifySubscribers delivers msg to a snapshot of the type's subscribers in
// order. A panicking callback is handed to the error handler and the
// remaining subscribers still run.
func (b *Broker) notifySubscribers(msgType string, msg *Message) int {
	b.subMu.Lock()
	snapshot := make([]*SubscriptionInfo, len(b.subscribers[msgType]))
	copy(snapshot, b.subscribers[msgType])
	b.subMu.Unlock()

	if len(snapshot) == 0 {
		logger.Debug("No subscribers for message type", zap.String("message_type", msgType))
		return 0
	}

	notified := 0
	for _, sub := range snapshot {
		if b.invokeCallback(sub, msg) {
			notified++
		}
	}

	if failed := len(snapshot) - notified; failed > 0 {
		logger.Warn("Some subscribers failed",
			zap.String("message_id", msg.ID),
			zap.Int("notified", notified),
			zap.Int("failed", failed))
	}

	return notified
}

// invokeCallback runs one subscriber callback, converting a panic into a
// logged subscriber error.
func (b *Broker) invokeCallback(sub *SubscriptionInfo, msg *Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.errorHandler.HandleSubscriberError(sub.ID, recoveredError(r), msg.ID)
		}
	}()
	sub.Callback(msg)
	return true
}

// IsTypeRegistered reports whether a handler exists for the type.
func (b *Broker) IsTypeRegistered(msgType string) bool {
	b.handlerMu.RLock()
	defer b.handlerMu.RUnlock()
	_, ok := b.handlers[msgType]
	return ok
}

// RegisteredTypes returns the registered message type names.
func (b *Broker) RegisteredTypes() []string {
	b.handlerMu.RLock()
	defer b.handlerMu.RUnlock()
	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	return types
}

// Handler returns the handler registered for a type, or nil.
func (b *Broker) Handler(msgType string) TypeHandler {
	b.handlerMu.RLock()
	defer b.handlerMu.RUnlock()
	return b.handlers[msgType]
}

// SubscriberCount returns the number of subscribers for a type, or the
// total across all types when msgType is empty.
func (b *Broker) SubscriberCount(msgType string) int {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if msgType != "" {
		return len(b.subscribers[msgType])
	}
	total := 0
	for _, subs := range b.subscribers {
		total += len(subs)
	}
	return total
}

// Subscribers returns subscriber metadata for a type, without callbacks.
func (b *Broker) Subscribers(msgType string) []SubscriptionInfo {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	infos := make([]SubscriptionInfo, 0, len(b.subscribers[msgType]))
	for _, sub := range b.subscribers[msgType] {
		infos = append(infos, SubscriptionInfo{
			ID:        sub.ID,
			Type:      sub.Type,
			CreatedAt: sub.CreatedAt,
		})
	}
	return infos
}

// Stats returns a snapshot of the broker counters.
func (b *Broker) Stats() Stats {
	return Stats{
		MessagesPublished: b.published.Load(),
		MessagesFailed:    b.failed.Load(),
		SubscribersCount:  b.subCount.Load(),
	}
}

// Shutdown clears handlers and subscribers. A subsequent Default call
// constructs a fresh instance.
func (b *Broker) Shutdown() {
	logger.Info("Shutting down MessageBroker")

	b.subMu.Lock()
	b.subscribers = make(map[string][]*SubscriptionInfo)
	b.subMu.Unlock()

	b.handlerMu.Lock()
	b.handlers = make(map[string]TypeHandler)
	b.handlerMu.Unlock()

	b.subCount.Store(0)
	b.closed.Store(true)

	logger.Info("MessageBroker shutdown complete")
}
