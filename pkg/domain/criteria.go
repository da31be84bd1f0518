package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SearchCriteria is an open bag of optional list filters. Keys ending in
// _min/_max bound numeric fields, _from/_to bound RFC3339 timestamps and "q"
// is a case-insensitive free-text match; any other key is an equality filter.
type SearchCriteria map[string]any

// Normalize returns a copy with nil values, empty strings, empty slices and
// empty nested maps removed.
func (c SearchCriteria) Normalize() SearchCriteria {
	out := SearchCriteria{}
	for k, v := range c {
		if nv, keep := normalizeValue(v); keep {
			out[k] = nv
		}
	}
	return out
}

func normalizeValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, false
		}
		return val, true
	case *string:
		if val == nil {
			return nil, false
		}
		return normalizeValue(*val)
	case []string:
		if len(val) == 0 {
			return nil, false
		}
		return val, true
	case []any:
		if len(val) == 0 {
			return nil, false
		}
		return val, true
	case map[string]any:
		nested := SearchCriteria(val).Normalize()
		if len(nested) == 0 {
			return nil, false
		}
		return map[string]any(nested), true
	case SearchCriteria:
		return normalizeValue(map[string]any(val))
	}
	return v, true
}

// Fingerprint returns a deterministic digest of the normalized criteria.
// Equivalent criteria share a fingerprint regardless of key order or stripped values.
func (c SearchCriteria) Fingerprint() string {
	norm := c.Normalize()
	if len(norm) == 0 {
		return "all"
	}
	// encoding/json sorts map keys, giving a canonical form.
	raw, err := json.Marshal(map[string]any(norm))
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", map[string]any(norm)))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:12])
}

// Equivalent reports whether two criteria are equal for caching purposes.
func (c SearchCriteria) Equivalent(other SearchCriteria) bool {
	return c.Fingerprint() == other.Fingerprint()
}

// Matches evaluates the criteria against a record using its JSON field names.
func (c SearchCriteria) Matches(record any) bool {
	norm := c.Normalize()
	if len(norm) == 0 {
		return true
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return false
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	for key, want := range norm {
		if !matchField(fields, key, want) {
			return false
		}
	}
	return true
}

func matchField(fields map[string]any, key string, want any) bool {
	switch {
	case key == "q":
		needle := strings.ToLower(fmt.Sprint(want))
		for _, v := range fields {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
		return false
	case strings.HasSuffix(key, "_min"), strings.HasSuffix(key, "_max"):
		field := key[:len(key)-4]
		got, ok1 := toFloat(fields[field])
		bound, ok2 := toFloat(want)
		if !ok1 || !ok2 {
			return false
		}
		if strings.HasSuffix(key, "_min") {
			return got >= bound
		}
		return got <= bound
	case strings.HasSuffix(key, "_from"), strings.HasSuffix(key, "_to"):
		field := strings.TrimSuffix(strings.TrimSuffix(key, "_from"), "_to")
		got, ok1 := toTime(fields[field])
		bound, ok2 := toTime(want)
		if !ok1 || !ok2 {
			return false
		}
		if strings.HasSuffix(key, "_from") {
			return !got.Before(bound)
		}
		return !got.After(bound)
	}
	got, ok := fields[key]
	if !ok {
		return false
	}
	if list, ok := got.([]any); ok {
		for _, item := range list {
			if fmt.Sprint(item) == fmt.Sprint(want) {
				return true
			}
		}
		return false
	}
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case EntityID:
		return float64(n), true
	case bool:
		return 0, false
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// Page addresses one page of a list query. Number starts at 1.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"size"`
}

// DefaultPageSize applies when Page.Size is unset.
const DefaultPageSize = 25

// Normalize fills defaults.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	return p
}

// Bounds returns the slice bounds of the page within total items.
func (p Page) Bounds(total int) (int, int) {
	p = p.Normalize()
	start := (p.Number - 1) * p.Size
	if start > total {
		start = total
	}
	end := start + p.Size
	if end > total {
		end = total
	}
	return start, end
}

// ListResult is one page of records plus the unpaged total.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  Page `json:"page"`
}
