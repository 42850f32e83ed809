package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// Sentinel errors for the strict broker operations. Callers check them with
// errors.Is; Publish never propagates subscriber or validation failures.
var (
	ErrAlreadyRegistered = errors.New("message type already registered")
	ErrInvalidHandler    = errors.New("invalid message type handler")
	ErrUnknownType       = errors.New("message type not registered")
	ErrInvalidCallback   = errors.New("callback must not be nil")
)

const (
	retryMaxAttempts  = 3
	retryInitialDelay = 100 * time.Millisecond
)

// ErrorHandler classifies broker faults: validation failures are rejected
// outright, storage faults are retried with exponential backoff and fall back
// to the last cached result, subscriber failures are isolated and logged.
type ErrorHandler struct {
	mu    sync.Mutex
	cache map[string]any
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		cache: make(map[string]any),
	}
}

// HandleValidationError logs a rejected message. Validation failures are
// never retried; the caller returns the errors in the PublishResult.
func (h *ErrorHandler) HandleValidationError(msg *Message, result ValidationResult) {
	logger.Error("Message validation failed",
		zap.String("message_id", msg.ID),
		zap.String("message_type", msg.Type),
		zap.Strings("errors", result.Errors),
		zap.Strings("warnings", result.Warnings))
}

// HandleSubscriberError logs a failed subscriber callback. The failure is
// isolated: remaining subscribers still receive the message.
func (h *ErrorHandler) HandleSubscriberError(subscriberID string, err error, messageID string) {
	logger.Error("Subscriber callback failed",
		zap.String("subscriber_id", subscriberID),
		zap.String("message_id", messageID),
		zap.Error(err))
}

// HandleTimerError logs a fault inside a slot expiry timer.
func (h *ErrorHandler) HandleTimerError(err error) {
	logger.Error("Timer failure", zap.Error(err))
}

// RetryStorage runs a storage operation with up to three attempts and
// exponential backoff (100ms, 200ms). On success the result is cached under
// the operation name. When every attempt fails, the last cached result for
// the same operation is returned; absent a cache entry, ok is false and the
// caller degrades to an empty result.
func (h *ErrorHandler) RetryStorage(operationName string, op func() (any, error)) (any, bool) {
	var lastErr error
	delay := retryInitialDelay

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			h.mu.Lock()
			h.cache[operationName] = result
			h.mu.Unlock()
			if attempt > 1 {
				logger.Info("Storage operation succeeded on retry",
					zap.String("operation", operationName),
					zap.Int("attempt", attempt))
			}
			return result, true
		}

		lastErr = err
		if attempt < retryMaxAttempts {
			logger.Warn("Storage operation failed, retrying",
				zap.String("operation", operationName),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			time.Sleep(delay)
			delay *= 2
		}
	}

	logger.Error("Storage operation failed after all retries",
		zap.String("operation", operationName),
		zap.Int("retries", retryMaxAttempts),
		zap.Error(lastErr))

	return h.cachedResult(operationName)
}

// cachedResult returns the last successful result for an operation.
func (h *ErrorHandler) cachedResult(operationName string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if result, ok := h.cache[operationName]; ok {
		logger.Info("Returning cached result", zap.String("operation", operationName))
		return result, true
	}

	logger.Warn("No cached result available", zap.String("operation", operationName))
	return nil, false
}

// ClearCache drops every cached operation result.
func (h *ErrorHandler) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = make(map[string]any)
	logger.Debug("Error handler cache cleared")
}

// CachedKeys returns the cached operation names, for introspection.
func (h *ErrorHandler) CachedKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.cache))
	for k := range h.cache {
		keys = append(keys, k)
	}
	return keys
}

// recoveredError normalizes a recovered panic value into an error.
func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
