package graph

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

const (
	// MaxDisplayLen is the number of runes kept when truncating a string.
	MaxDisplayLen = 80
	ellipsis      = ".."
)

// Normalize turns a raw field value into a single display value: lists of
// entity summaries become their comma-joined names, a summary becomes its
// name and timestamps become strings. Every resulting string is truncated.
func Normalize(v any) (any, error) {
	if items, ok := apptype.AsList(v); ok {
		joined, err := joinNames(items)
		if err != nil {
			return nil, err
		}
		return Truncate(joined), nil
	}
	if e, ok := apptype.AsEntity(v); ok {
		name, err := summaryName(e)
		if err != nil {
			return nil, err
		}
		if s, ok := name.(string); ok {
			return Truncate(s), nil
		}
		return name, nil
	}
	switch t := v.(type) {
	case time.Time:
		return formatTime(t), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return formatTime(*t), nil
	case string:
		return Truncate(t), nil
	}
	return v, nil
}

// Truncate keeps the first MaxDisplayLen runes of s and marks the cut.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxDisplayLen {
		return s
	}
	r := []rune(s)
	return string(r[:MaxDisplayLen]) + ellipsis
}

func joinNames(items []any) (string, error) {
	names := make([]string, 0, len(items))
	for i, item := range items {
		if e, ok := apptype.AsEntity(item); ok {
			name, err := summaryName(e)
			if err != nil {
				return "", err
			}
			names = append(names, displayString(name))
			continue
		}
		// plain scalars in a list are joined as they are
		nv, err := Normalize(item)
		if err != nil {
			return "", fmt.Errorf("list item %d: %w", i, err)
		}
		names = append(names, displayString(nv))
	}
	return strings.Join(names, ","), nil
}

func summaryName(e apptype.RawEntity) (any, error) {
	name, ok := e.Get("name")
	if !ok {
		reason := "nested entity has no name"
		if key, err := KeyOf(e); err == nil {
			reason = fmt.Sprintf("nested entity %s has no name", key)
		}
		return nil, &MalformedEntityError{Field: "name", Reason: reason}
	}
	return name, nil
}

func displayString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	return fmt.Sprint(v)
}

func formatTime(t time.Time) string {
	layout := "2006-01-02 15:04:05"
	if t.Nanosecond()/1000 != 0 {
		layout += ".000000"
	}
	return t.Format(layout + "-07:00")
}
