package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParseCronRejectsDescriptors(t *testing.T) {
	_, err := ParseCron("@hourly")
	require.Error(t, err)

	_, err = ParseCron("*/15 * * * *")
	require.NoError(t, err)

	_, err = ParseCron("not a cron")
	require.Error(t, err)
}

func TestNextRunHourly(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyHourly

	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunDailyFiresAtNextMidnight(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyDaily

	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), next.UTC())

	// Just after midnight the next run is the following midnight, not today's.
	now = time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)
	next = NextRun(task, now)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunWeeklyFiresOnMonday(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyWeekly

	// Wednesday 2024-01-03 -> Monday 2024-01-08.
	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), next.UTC())
	assert.Equal(t, time.Monday, next.Weekday())

	// On a Monday the next fire is the following Monday, not today.
	now = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	next = NextRun(task, now)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunMonthlyFiresOnTheFirst(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyMonthly

	now := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), next.UTC())

	// December rolls over the year.
	now = time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)
	next = NextRun(task, now)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunCustomUsesCronExpression(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyCustom
	task.CronExpr = strPtr("*/15 * * * *")

	now := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), next.UTC())
}

func TestNextRunCustomFallsBackOnBadExpression(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyCustom
	task.CronExpr = strPtr("definitely not cron")

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, now.Add(time.Hour), next.UTC())
}

func TestNextRunHonorsTaskTimezone(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyDaily
	task.Timezone = "America/New_York"

	// 02:00 UTC on June 1 is still May 31 in New York, so the next local
	// midnight is June 1 midnight EDT = 04:00 UTC.
	now := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunUnknownTimezoneFallsBackToUTC(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyDaily
	task.Timezone = "Not/AZone"

	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	next := NextRun(task, now)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextOccurrences(t *testing.T) {
	task := newTestTask(TaskTypeInventoryCheck)
	task.Frequency = FrequencyHourly

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	times := NextOccurrences(task, base, 3)
	require.Len(t, times, 3)
	assert.Equal(t, base.Add(time.Hour), times[0].UTC())
	assert.Equal(t, base.Add(2*time.Hour), times[1].UTC())
	assert.Equal(t, base.Add(3*time.Hour), times[2].UTC())
}
