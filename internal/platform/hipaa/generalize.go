package hipaa

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotADate         = errors.New("value is not a date")
	ErrCannotGeneralize = errors.New("value cannot be generalized")
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate accepts a time.Time or one of the ISO-8601 layouts the forms use.
func ParseDate(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, ErrNotADate
		}
		return *t, nil
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotADate, t)
	}
	return time.Time{}, fmt.Errorf("%w: %T", ErrNotADate, v)
}

// Generalize coarsens a quasi-identifier according to the policy. Values of
// fields with KeepAsIs are returned unchanged.
func Generalize(v interface{}, p FieldPolicy) (interface{}, error) {
	switch p.Generalize {
	case KeepAsIs:
		return v, nil
	case ToYear:
		t, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		return t.Format("2006"), nil
	case ToMonth:
		t, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		return t.Format("2006-01"), nil
	case ToPrefix:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: prefix of %T", ErrCannotGeneralize, v)
		}
		r := []rune(s)
		if len(r) <= p.PrefixLen {
			return s, nil
		}
		return string(r[:p.PrefixLen]), nil
	}
	return nil, fmt.Errorf("%w: generalization %d", ErrCannotGeneralize, p.Generalize)
}
