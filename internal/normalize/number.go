package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var leadingNumberRe = regexp.MustCompile(`^[-+]?(\d+([.,]\d*)?|[.,]\d+)`)

// ParseDose reads a dose the way a lenient float parser would: the leading
// numeric prefix wins ("500mg" -> 500, "1,5" -> 1.5). Unparseable and zero
// doses yield nil.
func ParseDose(v any) *float64 {
	f, ok := toFloat(v)
	if !ok || f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ParseQuantity reads a positive whole quantity; anything else yields nil.
func ParseQuantity(v any) *int {
	f, ok := toFloat(v)
	if !ok || f < 1 || math.IsInf(f, 0) {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		return parseLeadingFloat(x)
	default:
		return 0, false
	}
}

func parseLeadingFloat(s string) (float64, bool) {
	m := leadingNumberRe.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
