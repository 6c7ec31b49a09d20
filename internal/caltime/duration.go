package caltime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is an RFC 5545 DURATION. Weeks and days are nominal (they
// follow the calendar across DST shifts), the rest are exact.
type Duration struct {
	Negative bool
	Weeks    int
	Days     int
	Hours    int
	Minutes  int
	Seconds  int
}

// IsZero reports whether the duration has no length.
func (d Duration) IsZero() bool {
	return d.Weeks == 0 && d.Days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0
}

// ParseDuration reads forms like "P1W", "-PT15M", "P1DT2H3M4S".
func ParseDuration(s string) (Duration, error) {
	var d Duration
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return d, errors.New("empty duration")
	}
	switch v[0] {
	case '-':
		d.Negative = true
		v = v[1:]
	case '+':
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 2 {
		return Duration{}, fmt.Errorf("duration %q: missing P designator", s)
	}
	v = v[1:]

	inTime := false
	seen := false
	num := ""
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return Duration{}, fmt.Errorf("duration %q: misplaced T", s)
			}
			inTime = true
			continue
		}
		if num == "" {
			return Duration{}, fmt.Errorf("duration %q: missing number before %q", s, r)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return Duration{}, fmt.Errorf("duration %q: %w", s, err)
		}
		num = ""
		seen = true
		switch {
		case r == 'W' && !inTime:
			d.Weeks = n
		case r == 'D' && !inTime:
			d.Days = n
		case r == 'H' && inTime:
			d.Hours = n
		case r == 'M' && inTime:
			d.Minutes = n
		case r == 'S' && inTime:
			d.Seconds = n
		default:
			return Duration{}, fmt.Errorf("duration %q: unexpected designator %q", s, r)
		}
	}
	if num != "" || !seen {
		return Duration{}, fmt.Errorf("duration %q: incomplete", s)
	}
	return d, nil
}

// String renders the canonical form. A zero duration renders as "PT0S".
func (d Duration) String() string {
	var b strings.Builder
	if d.Negative && !d.IsZero() {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.IsZero() {
		b.WriteString("T0S")
		return b.String()
	}
	if d.Weeks > 0 {
		b.WriteString(strconv.Itoa(d.Weeks) + "W")
	}
	if d.Days > 0 {
		b.WriteString(strconv.Itoa(d.Days) + "D")
	}
	if d.Hours > 0 || d.Minutes > 0 || d.Seconds > 0 {
		b.WriteByte('T')
		if d.Hours > 0 {
			b.WriteString(strconv.Itoa(d.Hours) + "H")
		}
		if d.Minutes > 0 {
			b.WriteString(strconv.Itoa(d.Minutes) + "M")
		}
		if d.Seconds > 0 {
			b.WriteString(strconv.Itoa(d.Seconds) + "S")
		}
	}
	return b.String()
}

// exact is the part of the duration that is not calendar-relative.
func (d Duration) exact() time.Duration {
	return time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
}

// AddTo applies the duration to t.
func (d Duration) AddTo(t time.Time) time.Time {
	days := d.Weeks*7 + d.Days
	exact := d.exact()
	if d.Negative {
		return t.AddDate(0, 0, -days).Add(-exact)
	}
	return t.AddDate(0, 0, days).Add(exact)
}

// Approx converts to a time.Duration counting every day as 24h.
func (d Duration) Approx() time.Duration {
	total := time.Duration(d.Weeks*7+d.Days)*24*time.Hour + d.exact()
	if d.Negative {
		return -total
	}
	return total
}

// Between derives a non-negative duration from start to end. Whole-day
// spans become days (or weeks when dateOnly and divisible), the remainder
// is expressed in hours, minutes and seconds.
func Between(start, end time.Time, dateOnly bool) Duration {
	var d Duration
	span := end.Sub(start)
	if span < 0 {
		d.Negative = true
		span = -span
	}
	if dateOnly {
		days := int(span / (24 * time.Hour))
		if days%7 == 0 && days > 0 {
			d.Weeks = days / 7
		} else {
			d.Days = days
		}
		return d
	}
	d.Days = int(span / (24 * time.Hour))
	span -= time.Duration(d.Days) * 24 * time.Hour
	d.Hours = int(span / time.Hour)
	span -= time.Duration(d.Hours) * time.Hour
	d.Minutes = int(span / time.Minute)
	span -= time.Duration(d.Minutes) * time.Minute
	d.Seconds = int(span / time.Second)
	return d
}

// FromStd converts an exact duration.
func FromStd(delta time.Duration) Duration {
	return Between(time.Time{}, time.Time{}.Add(delta), false)
}
