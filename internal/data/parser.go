// internal/data/parser.go
package data

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedInput is returned when a payload is not a JSON object.
var ErrMalformedInput = errors.New("malformed input")

// ParseRaw decodes a request body into a RawEvent. Numbers are kept as
// json.Number so epoch-millisecond timestamps survive untouched.
func ParseRaw(body []byte) (RawEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	obj, ok := generic.(map[string]interface{})
	if !ok || obj == nil {
		return nil, fmt.Errorf("%w: top-level value is %s, want object", ErrMalformedInput, jsonKind(generic))
	}
	return RawEvent(obj), nil
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// getObject returns the nested mapping under key, or nil when the key is absent
// or holds something other than an object.
func (e RawEvent) getObject(key string) RawEvent {
	if m, ok := e[key].(map[string]interface{}); ok {
		return m
	}
	if m, ok := e[key].(RawEvent); ok {
		return m
	}
	return nil
}

func (e RawEvent) getString(key, def string) string {
	if s, ok := e[key].(string); ok {
		return s
	}
	return def
}

func (e RawEvent) getFloat(key string) (float64, bool) {
	switch v := e[key].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (e RawEvent) getInt64(key string) (int64, bool) {
	if n, ok := e[key].(json.Number); ok && !strings.ContainsAny(n.String(), ".eE") {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	// float64(math.MaxInt64) rounds up to 2^63, hence >=.
	f, ok := e.getFloat(key)
	if !ok || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func (e RawEvent) getInt(key string, def int) int {
	if i, ok := e.getInt64(key); ok {
		return int(i)
	}
	return def
}
