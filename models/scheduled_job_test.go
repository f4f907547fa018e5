package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecurrenceRuleNext(t *testing.T) {
	from := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), RecurrenceDaily.Next(from))
	assert.Equal(t, time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC), RecurrenceWeekly.Next(from))
	// Jan 31 + one month normalizes to Mar 3 per time.AddDate
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), RecurrenceMonthly.Next(from))

	// An invalid rule advances nothing
	assert.Equal(t, from, RecurrenceRule("HOURLY").Next(from))
}

func TestRecurrenceRuleValid(t *testing.T) {
	assert.True(t, RecurrenceDaily.Valid())
	assert.True(t, RecurrenceWeekly.Valid())
	assert.True(t, RecurrenceMonthly.Valid())
	assert.False(t, RecurrenceRule("YEARLY").Valid())
	assert.False(t, RecurrenceRule("").Valid())
}

func TestJobIsDue(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	t.Run("never-run job fires on scheduled_for", func(t *testing.T) {
		due := &ScheduledJob{Status: JobStatusActive, ScheduledFor: past}
		notDue := &ScheduledJob{Status: JobStatusActive, ScheduledFor: future}
		assert.True(t, due.IsDue(now))
		assert.False(t, notDue.IsDue(now))
	})

	t.Run("recurring job fires on next_run_at", func(t *testing.T) {
		// scheduled_for is historical once next_run_at is set
		due := &ScheduledJob{Status: JobStatusActive, ScheduledFor: past, NextRunAt: &past}
		notDue := &ScheduledJob{Status: JobStatusActive, ScheduledFor: past, NextRunAt: &future}
		assert.True(t, due.IsDue(now))
		assert.False(t, notDue.IsDue(now))
	})

	t.Run("non-active jobs never fire", func(t *testing.T) {
		for _, s := range []JobStatus{JobStatusCompleted, JobStatusCancelled, JobStatusFailed} {
			j := &ScheduledJob{Status: s, ScheduledFor: past}
			assert.False(t, j.IsDue(now), s.String())
		}
	})
}

func TestJobIsRecurring(t *testing.T) {
	daily := RecurrenceDaily
	bogus := RecurrenceRule("HOURLY")

	assert.True(t, (&ScheduledJob{Recurrence: &daily}).IsRecurring())
	assert.False(t, (&ScheduledJob{}).IsRecurring())
	assert.False(t, (&ScheduledJob{Recurrence: &bogus}).IsRecurring())
}

func TestJobStatusValid(t *testing.T) {
	for _, s := range []JobStatus{JobStatusActive, JobStatusCompleted, JobStatusCancelled, JobStatusFailed} {
		assert.True(t, s.Valid(), s.String())
	}
	assert.False(t, JobStatus("paused").Valid())
}
