// Package normalize converts stored and generator-produced reports into the
// canonical shape the chart pipeline expects.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
)

// Share maps a share-like value onto a fraction in [0,1]. Values in (1,1000]
// are read as percentage points; anything larger saturates at 1. The second
// return is false for NaN and infinities, which have no fractional reading.
func Share(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v <= 0 {
		return 0, true
	}
	if v <= 1 {
		return v, true
	}
	if v <= 1000 {
		if pct := v / 100; pct <= 1 {
			return pct, true
		}
	}
	return 1, true
}

// SharePtr applies Share to an optional value.
func SharePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v, ok := Share(*p)
	if !ok {
		return nil
	}
	return &v
}

// ShareAny applies Share to a JSON-decoded value. Non-numeric input yields nil.
func ShareAny(v any) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return SharePtr(&f)
}

// Headcount drops negative and non-finite headcounts.
func Headcount(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) || *p < 0 {
		return nil
	}
	v := *p
	return &v
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
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	}
	return 0, false
}
