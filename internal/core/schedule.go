package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition and
// returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextRun computes the next fire time for a task after now. It is a pure
// function of the task schedule and now: hourly advances one hour, daily
// fires at the next midnight, weekly at the next Monday midnight, monthly at
// the first of the next month, all evaluated in the task's timezone. A custom
// frequency consults the cron expression; an expression that no longer parses
// (possible only for rows written before validation existed) falls back to
// one hour, which callers should log.
func NextRun(task *ScheduledTask, now time.Time) time.Time {
	loc := task.Location()
	local := now.In(loc)
	switch task.Frequency {
	case FrequencyHourly:
		return local.Add(time.Hour)
	case FrequencyDaily:
		return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	case FrequencyWeekly:
		days := (int(time.Monday) - int(local.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return time.Date(local.Year(), local.Month(), local.Day()+days, 0, 0, 0, 0, loc)
	case FrequencyMonthly:
		return time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, loc)
	case FrequencyCustom:
		if task.CronExpr != nil {
			if schedule, err := ParseCron(*task.CronExpr); err == nil {
				return schedule.Next(local)
			}
		}
		return local.Add(time.Hour)
	default:
		return local.Add(time.Hour)
	}
}

// NextOccurrences returns the next n fire times for a task from a base time,
// used by the schedule preview endpoints.
func NextOccurrences(task *ScheduledTask, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = NextRun(task, next)
		times = append(times, next)
	}
	return times
}
