package schedule

import (
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule defines when a recurring task should run next.
type Schedule interface {
	// Next returns the next run time strictly after from.
	Next(from time.Time) time.Time
}

// Func adapts a function to the Schedule interface.
type Func func(from time.Time) time.Time

// Next implements Schedule.
func (f Func) Next(from time.Time) time.Time { return f(from) }

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return Func(func(from time.Time) time.Time {
		return from.Add(d)
	})
}

// Daily creates a schedule that runs at a specific time each day (UTC).
func Daily(hour, minute int) Schedule {
	return Func(func(from time.Time) time.Time {
		from = from.UTC()
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, time.UTC)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	})
}

// Weekly creates a schedule that runs at a specific day and time each week (UTC).
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return Func(func(from time.Time) time.Time {
		from = from.UTC()
		ahead := int(day-from.Weekday()+7) % 7
		next := time.Date(from.Year(), from.Month(), from.Day()+ahead, hour, minute, 0, 0, time.UTC)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	})
}

// Cron creates a schedule from a standard 5-field cron expression.
// Panics on an invalid expression; schedules are fixed at startup.
func Cron(expr string) Schedule {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	parsed, err := parser.Parse(expr)
	if err != nil {
		panic("invalid cron expression: " + err.Error())
	}
	return Func(parsed.Next)
}

// Jittered spreads a schedule's run times by up to maxJitter. Replicated
// schedulers sharing one database should jitter their reap and stats cadence
// so instances do not contend on the same rows at the same instant.
func Jittered(s Schedule, maxJitter time.Duration) Schedule {
	if maxJitter <= 0 {
		return s
	}
	return Func(func(from time.Time) time.Time {
		return s.Next(from).Add(time.Duration(rand.Int63n(int64(maxJitter))))
	})
}
