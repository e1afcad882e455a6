package protocol

import (
	"encoding/base64"
	"fmt"
	"math"
)

// Normalize converts a decoded CBOR value tree into JSON-native Go
// values: map[string]interface{}, []interface{}, int64, float64, bool,
// string, nil. Downstream consumers (task results, HTTP responses) only
// understand JSON types, so typed numeric arrays become plain nested
// lists here.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, int64, float64:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return normalizeUint(uint64(val))
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return normalizeUint(val)
	case float32:
		return float64(val)
	case []byte:
		// Binary payloads survive as base64 strings, matching what
		// encoding/json would emit for them.
		return base64.StdEncoding.EncodeToString(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(Normalize(k))] = Normalize(item)
		}
		return out
	default:
		return fmt.Sprint(val)
	}
}

func normalizeUint(v uint64) interface{} {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}
