package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDailyCron parses a "minute hour * * *" expression. Only fixed daily
// times are supported; day, month and weekday fields must be "*".
func ParseDailyCron(expr string) (hour, minute int, err error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return 0, 0, fmt.Errorf("%w: cron %q must have 5 fields", ErrInvalidConfig, expr)
	}
	for _, f := range parts[2:] {
		if f != "*" {
			return 0, 0, fmt.Errorf("%w: cron %q must run daily", ErrInvalidConfig, expr)
		}
	}

	minute, err = strconv.Atoi(parts[0])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute must be 0-59, got %q", ErrInvalidConfig, parts[0])
	}
	hour, err = strconv.Atoi(parts[1])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour must be 0-23, got %q", ErrInvalidConfig, parts[1])
	}
	return hour, minute, nil
}

// nextDailyRun returns the first hour:minute strictly after now
func nextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
