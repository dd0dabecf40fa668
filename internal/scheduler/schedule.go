package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

// Schedule is the stored form of a recurrence. Plain cron strings from the
// config are wrapped into it by Normalize.
type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("parse schedule: %w", err)
	}
	return s, nil
}

// Next returns the first run strictly after now, or nil when the schedule
// is exhausted or invalid.
func Next(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time
	switch s.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		if s.IntervalMs <= 0 {
			return nil
		}
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	default:
		return nil
	}
	return &next
}

// Normalize accepts a schedule JSON object, "@every <duration>", an RFC3339
// timestamp for a single run, or a cron expression, and returns validated
// schedule JSON.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		switch s.Kind {
		case KindCron:
			if !gronx.New().IsValid(s.CronExpr) {
				return "", fmt.Errorf("invalid cron expression: %s", s.CronExpr)
			}
		case KindInterval:
			if s.IntervalMs <= 0 {
				return "", fmt.Errorf("interval_ms must be positive")
			}
		case KindOnce:
			if s.AtMs <= 0 {
				return "", fmt.Errorf("at_ms must be positive")
			}
		default:
			return "", fmt.Errorf("unknown schedule kind: %s", s.Kind)
		}
		return raw, nil
	}

	var parsed Schedule
	if every, ok := strings.CutPrefix(raw, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(every))
		if err != nil || d <= 0 {
			return "", fmt.Errorf("invalid interval: %s", every)
		}
		parsed = Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()}
	} else if at, err := time.Parse(time.RFC3339, raw); err == nil {
		parsed = Schedule{Kind: KindOnce, AtMs: at.UnixMilli()}
	} else if gronx.New().IsValid(raw) {
		parsed = Schedule{Kind: KindCron, CronExpr: raw}
	} else {
		return "", fmt.Errorf("invalid schedule: not JSON, @every, RFC3339 or cron: %s", raw)
	}
	data, err := json.Marshal(parsed)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Describe renders a schedule for humans, falling back to the raw text.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d >= time.Hour && d%time.Hour == 0:
			return plural(int(d.Hours()), "hour")
		case d >= time.Minute && d%time.Minute == 0:
			return plural(int(d.Minutes()), "minute")
		default:
			return "every " + d.String()
		}
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).UTC().Format(time.RFC3339)
	}
	return raw
}

func plural(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}
