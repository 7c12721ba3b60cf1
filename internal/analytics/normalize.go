package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeDecimal canonicalises an upstream numeric value to a fixed-point
// decimal string without trailing zeros. The upstream engine emits large
// numbers in scientific notation ("3.2E5"), nulls as empty strings, and the
// occasional stray non-numeric value; all of them collapse to a stable form
// here so repeated ingestion is byte-identical. Idempotent.
func NormalizeDecimal(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "null") || s == "0" {
		return "0"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "0"
	}
	return d.String()
}

// NormalizeScalar renders an arbitrary upstream scalar as a string.
// Numbers go through NormalizeDecimal; everything else is stringified.
func NormalizeScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return NormalizeDecimal(decimal.NewFromFloat(t).String())
	case int64:
		return decimal.NewFromInt(t).String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Accepted upstream timestamp layouts. The engine emits ISO-8601 in some
// queries and "YYYY-MM-DD HH:MM:SS" (sometimes with a trailing " UTC") in
// others; both are treated as UTC.
var bucketTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseBucketTime parses an upstream bucket timestamp as UTC.
func ParseBucketTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, " UTC")
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range bucketTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
