package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun computes when t should next be dispatched, or nil when it should
// not run again. For every kind except Once the result is strictly after now.
func NextRun(t *Task, now time.Time) *time.Time {
	s := t.Schedule
	var next time.Time

	switch t.Kind {
	case Once:
		if t.RunCount > 0 || s.At == nil {
			return nil
		}
		next = *s.At
	case Interval:
		iv := time.Duration(s.Interval)
		if iv <= 0 {
			return nil
		}
		if s.End != nil && now.After(*s.End) {
			return nil
		}
		switch {
		case t.LastRunTime != nil:
			next = t.LastRunTime.Add(iv)
			if !next.After(now) {
				next = now.Add(iv)
			}
		case s.Start != nil && s.Start.After(now):
			next = *s.Start
		default:
			next = now.Add(iv)
		}
	case Daily:
		next = at(now, 0, s)
		if !next.After(now) {
			next = at(now, 1, s)
		}
	case Weekly:
		ahead := (int(s.Weekday) - int(now.Weekday()) + 7) % 7
		next = at(now, ahead, s)
		if !next.After(now) {
			next = at(now, ahead+7, s)
		}
	case Monthly:
		n, ok := nextMonthly(now, s)
		if !ok {
			return nil
		}
		next = n
	case Cron:
		sched, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return nil
		}
		next = sched.Next(now)
		if next.IsZero() {
			return nil
		}
	default:
		return nil
	}
	return &next
}

// at is the schedule's time of day, days after now's date
func at(now time.Time, days int, s Schedule) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+days, s.Hour, s.Minute, s.Second, 0, now.Location())
}

// nextMonthly finds the first month, starting with now's, that has the
// configured day and whose occurrence is after now. Months without that day
// (the 31st in April) are skipped.
func nextMonthly(now time.Time, s Schedule) (time.Time, bool) {
	y, m, _ := now.Date()
	for i := 0; i <= 12; i++ {
		first := time.Date(y, m+time.Month(i), 1, 0, 0, 0, 0, now.Location())
		if s.Day > daysIn(first) {
			continue
		}
		c := time.Date(first.Year(), first.Month(), s.Day, s.Hour, s.Minute, s.Second, 0, now.Location())
		if c.After(now) {
			return c, true
		}
	}
	return time.Time{}, false
}

func daysIn(first time.Time) int {
	return first.AddDate(0, 1, -1).Day()
}
