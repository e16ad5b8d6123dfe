package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.999999999"
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

var timeLayouts = []string{
	"15:04:05.999999999",
	"15:04:05Z07:00",
	"15:04",
}

// Coerce converts a decoded JSON value into the canonical Go value for kind.
// Ints become int64, Floats float64, and dates are normalized strings so two
// spellings of the same instant compare equal.
func Coerce(kind string, value any) (any, error) {
	switch kind {
	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}
		return b, nil
	case KindInt:
		return coerceInt(value)
	case KindFloat:
		return coerceFloat(value)
	case KindDate:
		t, err := parseTime(value, dateTimeLayouts)
		if err != nil {
			return nil, err
		}
		return t.Format(dateLayout), nil
	case KindDateTime:
		t, err := parseTime(value, dateTimeLayouts)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case KindTime:
		t, err := parseTime(value, timeLayouts)
		if err != nil {
			return nil, err
		}
		return t.Format(timeLayout), nil
	default:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil
	}
}

func coerceInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

func coerceFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", value)
	}
}

func parseTime(value any, layouts []string) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		for _, layout := range layouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date format %q", v)
	default:
		return time.Time{}, fmt.Errorf("expected date string, got %T", value)
	}
}
