package screen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNilValue         = errors.New("field value is nil")
	ErrUnsupportedValue = errors.New("field value type is not supported")
	ErrMissingColumn    = errors.New("required column is missing")
)

// flattenValue renders one field value as a single cell.
//
// Coded values (maps carrying a "code") render as the code and lists join
// with "|". Dates without a time of day render as YYYY-MM-DD.
func flattenValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", ErrNilValue
	case redacted:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case time.Time:
		return formatTime(t), nil
	case *time.Time:
		if t == nil {
			return "", ErrNilValue
		}
		return formatTime(*t), nil
	case map[string]interface{}:
		code, ok := t["code"]
		if !ok {
			return "", fmt.Errorf("%w: coded value without code", ErrUnsupportedValue)
		}
		return flattenValue(code)
	case map[string]string:
		code, ok := t["code"]
		if !ok {
			return "", fmt.Errorf("%w: coded value without code", ErrUnsupportedValue)
		}
		return code, nil
	case []string:
		return strings.Join(t, "|"), nil
	case []interface{}:
		parts := make([]string, len(t))
		for i, item := range t {
			s, err := flattenValue(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, "|"), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.UTC().Format(time.RFC3339)
}
