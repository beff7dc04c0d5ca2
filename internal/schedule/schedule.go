// Package schedule fires stored prompts once, daily, or weekly.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the recurrence class of a scheduled task.
type Kind string

const (
	KindOnce   Kind = "once"
	KindDaily  Kind = "daily"
	KindWeekly Kind = "weekly"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.TrimSpace(s)) {
	case KindOnce:
		return KindOnce, nil
	case KindDaily:
		return KindDaily, nil
	case KindWeekly:
		return KindWeekly, nil
	default:
		return "", fmt.Errorf("unknown schedule kind %q (want once, daily, or weekly)", s)
	}
}

// Task is one scheduled prompt. DayOfWeek uses 0=Monday through 6=Sunday.
type Task struct {
	ID        string     `json:"id"`
	ChannelID int64      `json:"channel_id"`
	Project   string     `json:"project"`
	Prompt    string     `json:"prompt"`
	Kind      Kind       `json:"kind"`
	NextRun   time.Time  `json:"next_run"`
	Enabled   bool       `json:"enabled"`
	TimeOfDay string     `json:"time_of_day"`
	DayOfWeek *int       `json:"day_of_week"`
	LastRun   *time.Time `json:"last_run"`
}

// parseTimeOfDay splits an "HH:MM" wall-clock string.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time_of_day %q must be HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time_of_day %q has invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time_of_day %q has invalid minute", s)
	}
	return hour, minute, nil
}

// mondayWeekday maps Go's Sunday-based weekday to the stored 0=Monday form.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// nextDaily returns the next occurrence of the wall-clock time strictly
// after from: today when still ahead, otherwise tomorrow.
func nextDaily(from time.Time, hour, minute int) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// nextWeekly returns the next occurrence of the target weekday at the given
// wall-clock time. When the target day is today or already past this week,
// it rolls a full seven days; the increment is always 1..7 days, never 0.
func nextWeekly(from time.Time, target, hour, minute int) time.Time {
	daysAhead := target - mondayWeekday(from)
	if daysAhead <= 0 {
		daysAhead += 7
	}
	n := from.AddDate(0, 0, daysAhead)
	return time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, n.Location())
}

// advance computes a fired task's next state: once-tasks disable with
// NextRun untouched, recurring tasks move strictly into the future.
func advance(t *Task, now time.Time) error {
	if t.Kind == KindOnce {
		t.Enabled = false
		return nil
	}
	hour, minute, err := parseTimeOfDay(t.TimeOfDay)
	if err != nil {
		return err
	}
	switch t.Kind {
	case KindDaily:
		t.NextRun = nextDaily(now, hour, minute)
	case KindWeekly:
		if t.DayOfWeek == nil {
			return fmt.Errorf("weekly task %s has no day_of_week", t.ID)
		}
		t.NextRun = nextWeekly(now, *t.DayOfWeek, hour, minute)
	default:
		return fmt.Errorf("unknown schedule kind %q", t.Kind)
	}
	return nil
}
