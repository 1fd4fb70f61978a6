package sweeper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// leadingNumber matches the numeric prefix of a setting value, allowing
// leading whitespace, a sign, a fraction and an exponent.
var leadingNumber = regexp.MustCompile(`^[ \t\n\r\v\f]*[+-]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][+-]?[0-9]+)?`)

// toInt converts a setting value to an integer the lenient way: the numeric
// prefix is truncated toward zero and anything unparsable becomes 0. clean is
// false when characters had to be ignored or nothing numeric was found.
func toInt(s string) (n int64, clean bool) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	clean = len(strings.TrimSpace(s)) == len(strings.TrimSpace(m)) && !strings.ContainsAny(m, ".eE")
	f, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
	if err != nil {
		// only range errors get here; ParseFloat returns ±Inf for them
		if math.IsInf(f, 0) {
			return clampInt64(f), false
		}
		return 0, false
	}
	return clampInt64(math.Trunc(f)), clean
}

func clampInt64(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// enabledValue reports whether a switch setting is on. Only "1" enables.
func enabledValue(s string) bool {
	return strings.TrimSpace(s) == "1"
}
