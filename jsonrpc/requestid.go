package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
// Whole numbers are held as int64.
type RequestID struct {
	value interface{}
}

// NewRequestID creates a new RequestID from a string or an integer.
func NewRequestID(value interface{}) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: int64(v)}
	case int32:
		return &RequestID{value: int64(v)}
	case int64:
		return &RequestID{value: v}
	case uint32:
		return &RequestID{value: int64(v)}
	case uint64:
		return &RequestID{value: int64(v)}
	case float64:
		if v == float64(int64(v)) {
			return &RequestID{value: int64(v)}
		}
		return &RequestID{value: v}
	default:
		return &RequestID{value: nil}
	}
}

// String returns the string representation of the ID.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}

	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Key returns a map key for the ID that keeps the numeric id 1 and the
// string id "1" apart.
func (id *RequestID) Key() string {
	if id == nil || id.value == nil {
		return ""
	}
	if _, ok := id.value.(string); ok {
		return "s:" + id.String()
	}
	return "n:" + id.String()
}

// Equal reports whether both ids hold the same value.
func (id *RequestID) Equal(other *RequestID) bool {
	return id.Key() == other.Key()
}

// Value returns the underlying value.
func (id *RequestID) Value() interface{} {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil returns true if the ID is nil/empty.
func (id *RequestID) IsNil() bool {
	if id == nil {
		return true
	}

	return id.value == nil
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}

	return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
}
