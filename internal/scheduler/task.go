package scheduler

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"ocr-watch/internal/errs"
)

// Kind is the recurrence of a task
type Kind string

const (
	Once     Kind = "once"
	Interval Kind = "interval"
	Daily    Kind = "daily"
	Weekly   Kind = "weekly"
	Monthly  Kind = "monthly"
	Cron     Kind = "cron"
	Event    Kind = "event"
)

type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Duration marshals as a Go duration string and also accepts a number of
// seconds when decoding.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			if secs, ferr := strconv.ParseFloat(s, 64); ferr == nil {
				*d = Duration(secs * float64(time.Second))
				return nil
			}
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Schedule holds the recurrence fields. Which ones apply depends on Kind.
type Schedule struct {
	At          *time.Time        `json:"at,omitempty"`       // once
	Interval    Duration          `json:"interval,omitempty"` // interval
	Start       *time.Time        `json:"start,omitempty"`    // interval
	End         *time.Time        `json:"end,omitempty"`      // interval
	Hour        int               `json:"hour,omitempty"`     // daily, weekly, monthly
	Minute      int               `json:"minute,omitempty"`
	Second      int               `json:"second,omitempty"`
	Weekday     time.Weekday      `json:"weekday,omitempty"` // weekly, 0 is Sunday
	Day         int               `json:"day,omitempty"`     // monthly, 1-31
	Cron        string            `json:"cron,omitempty"`    // cron, standard 5 fields
	EventType   string            `json:"event_type,omitempty"`
	EventParams map[string]string `json:"event_params,omitempty"`
}

// Task is a scheduled dispatch of a target
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        Kind       `json:"kind"`
	Schedule    Schedule   `json:"schedule"`
	Target      TargetSpec `json:"target"`
	Enabled     bool       `json:"enabled"`
	Status      Status     `json:"status"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	RunCount    int        `json:"run_count"`
	Retries     int        `json:"retries,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastResult  string     `json:"last_result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (t *Task) clone() Task {
	out := *t
	out.NextRunTime = copyTime(t.NextRunTime)
	out.LastRunTime = copyTime(t.LastRunTime)
	out.Schedule.At = copyTime(t.Schedule.At)
	out.Schedule.Start = copyTime(t.Schedule.Start)
	out.Schedule.End = copyTime(t.Schedule.End)
	out.Schedule.EventParams = maps.Clone(t.Schedule.EventParams)
	out.Target.Params = maps.Clone(t.Target.Params)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Validate checks the schedule fields used by the task's kind
func (t *Task) Validate() error {
	s := t.Schedule
	bad := func(format string, args ...interface{}) error {
		return errs.Newf(errs.ErrInvalidInput, "task %s: "+format, append([]interface{}{t.ID}, args...)...)
	}
	clock := func() error {
		if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 || s.Second < 0 || s.Second > 59 {
			return bad("invalid time of day %02d:%02d:%02d", s.Hour, s.Minute, s.Second)
		}
		return nil
	}

	switch t.Kind {
	case Once:
	case Interval:
		if s.Interval <= 0 {
			return bad("interval must be positive")
		}
		if s.Start != nil && s.End != nil && s.End.Before(*s.Start) {
			return bad("end is before start")
		}
	case Daily:
		return clock()
	case Weekly:
		if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
			return bad("weekday %d out of range", s.Weekday)
		}
		return clock()
	case Monthly:
		if s.Day < 1 || s.Day > 31 {
			return bad("day %d out of range", s.Day)
		}
		return clock()
	case Cron:
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return errs.Wrapf(err, errs.ErrInvalidInput, "task %s: cron expression %q", t.ID, s.Cron)
		}
	case Event:
		if s.EventType == "" {
			return bad("event_type is required")
		}
	default:
		return bad("unknown kind %q", t.Kind)
	}
	return nil
}
