package analytics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeriodCutoff resolves a period expression to a timestamp cutoff relative
// to now. Grammar: "all" or "" mean no cutoff; "ytd" is Jan 1 of the
// current UTC year; "<N>d", "<N>w", "<N>m" are N days, weeks, or 30-day
// months back. The second return is false when no cutoff applies.
func PeriodCutoff(period string, now time.Time) (time.Time, bool, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	switch p {
	case "", "all":
		return time.Time{}, false, nil
	case "ytd":
		return time.Date(now.UTC().Year(), time.January, 1, 0, 0, 0, 0, time.UTC), true, nil
	}

	if len(p) < 2 {
		return time.Time{}, false, fmt.Errorf("invalid period %q", period)
	}
	n, err := strconv.Atoi(p[:len(p)-1])
	if err != nil || n < 0 {
		return time.Time{}, false, fmt.Errorf("invalid period %q", period)
	}
	var days int
	switch p[len(p)-1] {
	case 'd':
		days = n
	case 'w':
		days = 7 * n
	case 'm':
		days = 30 * n
	default:
		return time.Time{}, false, fmt.Errorf("invalid period %q: unit must be d, w or m", period)
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), true, nil
}
