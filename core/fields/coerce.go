package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Layouts used for rendering and parsing temporal kinds.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

var (
	errInteger  = errors.New("Not a valid integer.")
	errNumber   = errors.New("Not a valid number.")
	errBoolean  = errors.New("Not a valid boolean.")
	errString   = errors.New("Not a valid string.")
	errDate     = errors.New("Not a valid date.")
	errDateTime = errors.New("Not a valid datetime.")
	errTime     = errors.New("Not a valid time.")
	errEmail    = errors.New("Not a valid email address.")
	errURL      = errors.New("Not a valid URL.")
	errUUID     = errors.New("Not a valid UUID.")
	errULID     = errors.New("Not a valid ULID.")
	errDict     = errors.New("Not a valid mapping type.")
	errList     = errors.New("Not a valid list.")
)

func passthrough(v any) (any, error) { return v, nil }

// toInt64 accepts every integral representation produced by encoding/json,
// database/sql drivers and Go callers.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return toFloat64(float64(n))
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return toFloat64(f)
	case []byte:
		return toFloat64(string(n))
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func loadInt(v any) (any, error) {
	if _, isBool := v.(bool); isBool {
		return nil, errInteger
	}
	i, ok := toInt64(v)
	if !ok {
		return nil, errInteger
	}
	return i, nil
}

func dumpInt(v any) (any, error) {
	i, ok := toInt64(v)
	if !ok {
		return nil, fmt.Errorf("integer field: cannot render %T", v)
	}
	return i, nil
}

func loadFloat(v any) (any, error) {
	if _, isBool := v.(bool); isBool {
		return nil, errNumber
	}
	f, ok := toFloat64(v)
	if !ok {
		return nil, errNumber
	}
	return f, nil
}

func dumpFloat(v any) (any, error) {
	f, ok := toFloat64(v)
	if !ok {
		return nil, fmt.Errorf("number field: cannot render %T", v)
	}
	return f, nil
}

// Decimals keep the client's textual representation so no precision is lost.
func loadDecimal(v any) (any, error) {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	default:
		if i, ok := toInt64(v); ok {
			return strconv.FormatInt(i, 10), nil
		}
		return nil, errNumber
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errNumber
	}
	return s, nil
}

func dumpDecimal(v any) (any, error) {
	switch n := v.(type) {
	case string:
		return n, nil
	case []byte:
		return string(n), nil
	case json.Number:
		return n.String(), nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	if i, ok := toInt64(v); ok {
		return strconv.FormatInt(i, 10), nil
	}
	return nil, fmt.Errorf("decimal field: cannot render %T", v)
}

var truthy = map[string]bool{
	"true": true, "t": true, "yes": true, "y": true, "on": true, "1": true,
	"false": false, "f": false, "no": false, "n": false, "off": false, "0": false,
}

func loadBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if val, ok := truthy[strings.ToLower(strings.TrimSpace(b))]; ok {
			return val, nil
		}
		return nil, errBoolean
	}
	if i, ok := toInt64(v); ok && (i == 0 || i == 1) {
		return i == 1, nil
	}
	return nil, errBoolean
}

func dumpBool(v any) (any, error) {
	b, err := loadBool(v)
	if err != nil {
		return nil, fmt.Errorf("boolean field: cannot render %T", v)
	}
	return b, nil
}

func loadString(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errString
	}
	return s, nil
}

func dumpString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return fmt.Sprint(v), nil
}

func loadEmail(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errEmail
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return nil, errEmail
	}
	return s, nil
}

func loadURL(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errURL
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errURL
	}
	return s, nil
}

func loadUUID(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errUUID
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, errUUID
	}
	return id.String(), nil
}

func loadULID(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errULID
	}
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return nil, errULID
	}
	return id.String(), nil
}

func loadDict(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errDict
	}
	return m, nil
}

func loadList(v any) (any, error) {
	l, ok := v.([]any)
	if !ok {
		return nil, errList
	}
	return l, nil
}

func loadDate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return truncateDay(t), nil
	case string:
		parsed, err := time.Parse(DateLayout, t)
		if err != nil {
			return nil, errDate
		}
		return parsed, nil
	}
	return nil, errDate
}

func dumpDate(v any) (any, error) {
	t, err := asTime(v, DateLayout, time.RFC3339Nano)
	if err != nil {
		return nil, fmt.Errorf("date field: %w", err)
	}
	return t.Format(DateLayout), nil
}

// Datetimes are normalized to UTC, the form SQL stores hand back.
func loadDateTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, errDateTime
		}
		return parsed.UTC(), nil
	}
	return nil, errDateTime
}

func dumpDateTime(v any) (any, error) {
	t, err := asTime(v, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05")
	if err != nil {
		return nil, fmt.Errorf("datetime field: %w", err)
	}
	return t.Format(time.RFC3339Nano), nil
}

func loadTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(TimeLayout, t)
		if err != nil {
			return nil, errTime
		}
		return parsed, nil
	}
	return nil, errTime
}

func dumpTime(v any) (any, error) {
	t, err := asTime(v, TimeLayout, time.RFC3339Nano)
	if err != nil {
		return nil, fmt.Errorf("time field: %w", err)
	}
	return t.Format(TimeLayout), nil
}

func asTime(v any, layouts ...string) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return asTime(string(t), layouts...)
	case string:
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q", t)
	}
	return time.Time{}, fmt.Errorf("cannot render %T", v)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
