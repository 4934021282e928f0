// Package interval parses candle sampling intervals such as "15m" or "1d".
package interval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the time unit of an interval.
type Unit int

const (
	Second Unit = iota
	Minute
	Hour
	Day
)

var unitSuffixes = map[byte]Unit{
	's': Second,
	'm': Minute,
	'h': Hour,
	'd': Day,
}

func (u Unit) suffix() string {
	switch u {
	case Second:
		return "s"
	case Minute:
		return "m"
	case Hour:
		return "h"
	case Day:
		return "d"
	default:
		return "?"
	}
}

func (u Unit) String() string {
	switch u {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

// InvalidIntervalError is returned when an interval string cannot be parsed.
type InvalidIntervalError struct {
	Raw    string
	Reason string
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("invalid interval %q: %s", e.Raw, e.Reason)
}

// Spec is a parsed interval. The zero value is not valid; use Parse.
type Spec struct {
	Unit  Unit
	Scale int
}

// Parse validates raw and splits it into a unit and a positive scale.
// Exactly one of the suffixes s, m, h or d must appear, as the final character.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)

	var (
		found int
		unit  Unit
	)
	for i := 0; i < len(s); i++ {
		if u, ok := unitSuffixes[s[i]]; ok {
			found++
			unit = u
		}
	}
	switch {
	case found == 0:
		return Spec{}, &InvalidIntervalError{Raw: raw, Reason: "no unit suffix (expected one of s, m, h, d)"}
	case found > 1:
		return Spec{}, &InvalidIntervalError{Raw: raw, Reason: "more than one unit suffix"}
	}

	if _, ok := unitSuffixes[s[len(s)-1]]; !ok {
		return Spec{}, &InvalidIntervalError{Raw: raw, Reason: "unit suffix must be the last character"}
	}

	prefix := s[:len(s)-1]
	if prefix == "" || strings.ContainsAny(prefix, "+-") {
		return Spec{}, &InvalidIntervalError{Raw: raw, Reason: "missing positive integer scale"}
	}
	scale, err := strconv.Atoi(prefix)
	if err != nil {
		return Spec{}, &InvalidIntervalError{Raw: raw, Reason: "scale is not an integer"}
	}
	if scale <= 0 {
		return Spec{}, &InvalidIntervalError{Raw: raw, Reason: "scale must be greater than 0"}
	}

	return Spec{Unit: unit, Scale: scale}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(raw string) Spec {
	spec, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return spec
}

// String renders the interval in the exchange's interval notation.
func (s Spec) String() string {
	return strconv.Itoa(s.Scale) + s.Unit.suffix()
}

// IsCalendar reports whether rows are sized in calendar days rather than a
// fixed number of seconds.
func (s Spec) IsCalendar() bool {
	return s.Unit == Day
}

// RowSpan returns the fixed duration of one row. Day intervals report the
// nominal 24h length; use Advance for calendar-correct arithmetic.
func (s Spec) RowSpan() time.Duration {
	switch s.Unit {
	case Second:
		return time.Duration(s.Scale) * time.Second
	case Minute:
		return time.Duration(s.Scale) * time.Minute
	case Hour:
		return time.Duration(s.Scale) * time.Hour
	default:
		return time.Duration(s.Scale) * 24 * time.Hour
	}
}

// Advance moves t forward by the given number of rows.
func (s Spec) Advance(t time.Time, rows int) time.Time {
	if s.Unit == Day {
		return t.AddDate(0, 0, rows*s.Scale)
	}
	return t.Add(time.Duration(rows) * s.RowSpan())
}

// Rows returns the span between start and end expressed in rows of this
// interval, as a fraction. Day intervals count calendar days in start's
// location, so a daylight saving day still counts as one.
func (s Spec) Rows(start, end time.Time) float64 {
	if !end.After(start) {
		return 0
	}
	if s.Unit == Day {
		loc := start.Location()
		days := wallClock(end, loc).Sub(wallClock(start, loc)).Hours() / 24
		return days / float64(s.Scale)
	}
	return float64(end.Sub(start)) / float64(s.RowSpan())
}

// wallClock reads t's calendar fields in loc and rebuilds them in UTC.
func wallClock(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
