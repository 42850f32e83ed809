package broker

import (
	"time"

	"github.com/google/uuid"
)

// Payload is the free-form keyed data carried by a message. Values are
// restricted by convention to bool, numbers, strings, time.Time, []any and
// nested map[string]any; per-type validation lives with the handler.
type Payload = map[string]any

// Message is a typed, validated packet flowing through the broker.
type Message struct {
	ID        string
	Type      string
	Data      Payload
	Timestamp time.Time
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(msgType string, data Payload) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ValidationResult is the outcome of a handler's payload validation.
// Errors is empty iff Valid; Warnings may be non-empty either way.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// PublishResult reports the outcome of a Publish call.
type PublishResult struct {
	Success             bool
	MessageID           string
	SubscribersNotified int
	Errors              []string
}

// Callback is a synchronous consumer of published messages.
type Callback func(*Message)

// SubscriptionInfo tracks one registered subscriber for a message type.
type SubscriptionInfo struct {
	ID        string
	Type      string
	Callback  Callback
	CreatedAt time.Time
}

// CameraInfo describes a camera resolved for a message.
type CameraInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Status     string   `json:"status"` // online, offline
	Directions []string `json:"directions"`
}

// Stats is a snapshot of broker counters.
type Stats struct {
	MessagesPublished int64 `json:"messages_published"`
	MessagesFailed    int64 `json:"messages_failed"`
	SubscribersCount  int64 `json:"subscribers_count"`
}

// GetString extracts a string value from a payload.
func GetString(data Payload, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat extracts a numeric value from a payload, accepting any of the
// numeric types JSON decoding or native producers may hand over.
func GetFloat(data Payload, key string) (float64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// GetInt extracts an integer value from a payload.
func GetInt(data Payload, key string) (int, bool) {
	f, ok := GetFloat(data, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// GetBool extracts a boolean value from a payload.
func GetBool(data Payload, key string) (bool, bool) {
	v, ok := data[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetMap extracts a nested payload value.
func GetMap(data Payload, key string) (Payload, bool) {
	v, ok := data[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}
