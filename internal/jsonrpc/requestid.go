package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// RequestID is a JSON-RPC id. It holds a string, an int64 or a
// non-integral float64; a nil *RequestID or an empty one encodes as null.
type RequestID struct {
	v any
}

// NewRequestID wraps a string or numeric id. Integral numbers are stored as
// int64 so that 7 and 7.0 compare equal. Any other type yields a null id.
func NewRequestID(v any) *RequestID {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return &RequestID{v: rv.String()}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &RequestID{v: rv.Int()}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &RequestID{v: int64(rv.Uint())}
	case reflect.Float32, reflect.Float64:
		return &RequestID{v: canonicalFloat(rv.Float())}
	}
	return &RequestID{}
}

func canonicalFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return int64(f)
	}
	return f
}

// String renders the id for logs and map keys. Null ids render empty.
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}
	switch v := id.v.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return ""
}

// IsNil reports whether id is absent or null.
func (id *RequestID) IsNil() bool { return id == nil || id.v == nil }

func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.v)
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		id.v = nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		id.v = s
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("jsonrpc: id must be a string or number, got %s", data)
		}
		if i, err := n.Int64(); err == nil {
			id.v = i
			return nil
		}
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("jsonrpc: id %s: %w", data, err)
		}
		id.v = canonicalFloat(f)
	}
	return nil
}
