package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/strand"
)

// Spec says when a scheduler runs. Exactly one of Pattern and Every is set.
type Spec struct {
	// Pattern is a cron expression, seconds optional, or a descriptor such
	// as "@hourly".
	Pattern string
	// Every is a fixed interval.
	Every time.Duration
	// Offset shifts fixed-interval slots away from the epoch grid.
	Offset time.Duration
	// TZ is the IANA zone patterns are evaluated in. Empty means UTC.
	TZ string
	// Limit caps the number of runs. Zero means unbounded.
	Limit int
	// StartDate delays the first run.
	StartDate time.Time
	// EndDate stops the scheduler once the next run would fall after it.
	EndDate time.Time
	// Immediately runs a pattern scheduler once right away.
	Immediately bool
}

// Validate reports whether s describes a usable schedule.
func (s Spec) Validate() error {
	switch {
	case s.Pattern == "" && s.Every <= 0:
		return fmt.Errorf("%w: pattern or every is required", strand.ErrInvalidSchedule)
	case s.Pattern != "" && s.Every > 0:
		return fmt.Errorf("%w: pattern and every are mutually exclusive", strand.ErrInvalidSchedule)
	case s.Every > 0 && s.Every < time.Millisecond:
		return fmt.Errorf("%w: every must be at least 1ms", strand.ErrInvalidSchedule)
	case s.Limit < 0:
		return fmt.Errorf("%w: limit must be >= 0", strand.ErrInvalidSchedule)
	case !s.EndDate.IsZero() && !s.StartDate.IsZero() && s.EndDate.Before(s.StartDate):
		return fmt.Errorf("%w: end date before start date", strand.ErrInvalidSchedule)
	}
	if s.Pattern != "" {
		if _, err := parse(s.Pattern); err != nil {
			return fmt.Errorf("%w: %v", strand.ErrInvalidSchedule, err)
		}
	}
	if _, err := s.location(); err != nil {
		return fmt.Errorf("%w: %v", strand.ErrInvalidSchedule, err)
	}
	return nil
}

func (s Spec) location() (*time.Location, error) {
	if s.TZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.TZ)
}

// ── Next run ──

// NextMillis returns the unix millisecond timestamp of the run after
// prevMillis (0 when there is none). It returns strand.ErrScheduleExhausted
// when the run would fall after EndDate.
//
// Fixed intervals keep their phase: the run after p is p+Every, moved
// forward by whole intervals if that is already in the past. The first run
// is at max(now, StartDate), or on the next Offset-shifted slot when an
// Offset is set. Patterns are evaluated from max(now, StartDate).
func NextMillis(s Spec, prevMillis int64, now time.Time) (int64, error) {
	nowMs := now.UnixMilli()
	startMs := nowMs
	if !s.StartDate.IsZero() && s.StartDate.UnixMilli() > startMs {
		startMs = s.StartDate.UnixMilli()
	}

	var next int64
	if s.Every > 0 {
		every := s.Every.Milliseconds()
		switch {
		case prevMillis > 0:
			next = prevMillis + every
			if next < nowMs {
				next += ((nowMs - next + every - 1) / every) * every
			}
		case s.Offset != 0:
			offset := s.Offset.Milliseconds() % every
			if offset < 0 {
				offset += every
			}
			next = (startMs-offset+every-1)/every*every + offset
		default:
			next = startMs
		}
	} else {
		sched, err := parse(s.Pattern)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", strand.ErrInvalidSchedule, err)
		}
		loc, err := s.location()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", strand.ErrInvalidSchedule, err)
		}
		switch {
		case prevMillis == 0 && s.Immediately:
			next = startMs
		default:
			// Next is strictly after ref, so a first run due exactly at
			// the start is found from 1ms before it.
			ref := startMs - 1
			if prevMillis > 0 {
				ref = max(prevMillis, nowMs)
			}
			t := sched.Next(time.UnixMilli(ref).In(loc))
			if t.IsZero() {
				return 0, strand.ErrScheduleExhausted
			}
			next = t.UnixMilli()
		}
	}

	if !s.EndDate.IsZero() && next > s.EndDate.UnixMilli() {
		return 0, strand.ErrScheduleExhausted
	}
	return next, nil
}

// cronParser accepts 5 or 6 fields (leading seconds) and descriptors.
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom |
		cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

var (
	parsedMu sync.RWMutex
	parsed   = make(map[string]cronlib.Schedule)
)

// parse caches parsed cron expressions.
func parse(expr string) (cronlib.Schedule, error) {
	parsedMu.RLock()
	s, ok := parsed[expr]
	parsedMu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	parsedMu.Lock()
	parsed[expr] = s
	parsedMu.Unlock()
	return s, nil
}

// ── Storage encoding ──

// fields is the hash form of a Spec. Booleans are not stored since the
// scripts write fields verbatim.
type fields struct {
	Pattern   string `msgpack:"pattern,omitempty"`
	Every     int64  `msgpack:"every,omitempty"`
	Offset    int64  `msgpack:"offset,omitempty"`
	TZ        string `msgpack:"tz,omitempty"`
	Limit     int    `msgpack:"limit,omitempty"`
	StartDate int64  `msgpack:"startDate,omitempty"`
	EndDate   int64  `msgpack:"endDate,omitempty"`
}

func (s Spec) fields() fields {
	f := fields{
		Pattern: s.Pattern,
		Every:   s.Every.Milliseconds(),
		Offset:  s.Offset.Milliseconds(),
		TZ:      s.TZ,
		Limit:   s.Limit,
	}
	if !s.StartDate.IsZero() {
		f.StartDate = s.StartDate.UnixMilli()
	}
	if !s.EndDate.IsZero() {
		f.EndDate = s.EndDate.UnixMilli()
	}
	return f
}

func specFromHash(h map[string]string) Spec {
	ms := func(k string) int64 {
		n, _ := strconv.ParseInt(strings.TrimSpace(h[k]), 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
		return n
	}
	s := Spec{
		Pattern: h["pattern"],
		Every:   time.Duration(ms("every")) * time.Millisecond,
		Offset:  time.Duration(ms("offset")) * time.Millisecond,
		TZ:      h["tz"],
		Limit:   int(ms("limit")),
	}
	if v := ms("startDate"); v > 0 {
		s.StartDate = time.UnixMilli(v)
	}
	if v := ms("endDate"); v > 0 {
		s.EndDate = time.UnixMilli(v)
	}
	return s
}
