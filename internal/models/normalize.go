package models

import (
	"strconv"
	"strings"
)

// NormalizeTimestamp reduces an upstream date string to the fixed-width
// YYYYMMDDHHMM form used for range comparison. Upstream formats vary
// ("2026-02-10 14:30:00", "202602101430", ...), so every non-digit is
// stripped, the result truncated to 12 digits, and short values padded
// with trailing zeros. Empty input stays empty.
func NormalizeTimestamp(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) >= 12 {
		return digits[:12]
	}
	return digits + strings.Repeat("0", 12-len(digits))
}

// ParsePrice converts an upstream free-text price to an integer amount.
// Values arrive as "1234567", "1234567.0" or garbage; anything that does
// not parse becomes 0.
func ParsePrice(s string) int64 {
	if s == "" {
		return 0
	}
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// NormalizeBizNo strips the dashes from a business registration number
// so differently formatted numbers compare equal.
func NormalizeBizNo(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "-", "")
}
