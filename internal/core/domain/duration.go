package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatDuration renders whole seconds as MM:SS. Minutes are not wrapped into
// hours. Negative, NaN and infinite input render as 00:00.
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "00:00"
	}
	total := int64(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ParseDuration is the inverse of FormatDuration.
func ParseDuration(s string) (int64, error) {
	mm, ss, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("duration %q: missing separator", s)
	}
	minutes, err := strconv.ParseInt(mm, 10, 64)
	if err != nil || minutes < 0 {
		return 0, fmt.Errorf("duration %q: bad minutes", s)
	}
	secs, err := strconv.ParseInt(ss, 10, 64)
	if err != nil || secs < 0 || secs > 59 || len(ss) != 2 {
		return 0, fmt.Errorf("duration %q: bad seconds", s)
	}
	return minutes*60 + secs, nil
}
