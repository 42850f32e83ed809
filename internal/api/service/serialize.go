package service

import (
	"fmt"
	"math"
	"time"
)

// Normalize makes a payload value safe for JSON emission: non-finite floats
// become nil, timestamps become RFC3339 strings and non-string map keys are
// stringified. Everything else passes through for the encoder.
func Normalize(value any) any {
	switch v := value.(type) {
	case float64:
		return normalizeFloat(v)
	case float32:
		return normalizeFloat(float64(v))
	case time.Time:
		return v.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprintf("%v", k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
