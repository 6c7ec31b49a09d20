// Package caltime is the temporal value model shared by every other
// package: date-only vs date-time values, UTC/floating/zoned forms,
// nominal durations and periods.
package caltime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
	layoutUTC      = "20060102T150405Z"

	isoDate     = "2006-01-02"
	isoDateTime = "2006-01-02T15:04:05"
	isoUTC      = "2006-01-02T15:04:05Z"
)

// DateTime is an iCalendar DATE or DATE-TIME value.
//
//   - DateOnly values carry midnight of the date in Time's location.
//   - Floating values have no zone; Time holds the wall clock in time.UTC.
//   - Zoned values carry TZID as written and Time in the resolved location.
//   - UTC values have TZID "" and Floating false.
type DateTime struct {
	Time     time.Time
	DateOnly bool
	Floating bool
	TZID     string
}

// Date builds a date-only value.
func Date(year int, month time.Month, day int) DateTime {
	return DateTime{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), DateOnly: true}
}

// UTC builds a UTC date-time value.
func UTC(t time.Time) DateTime {
	return DateTime{Time: t.UTC()}
}

// Floating builds a floating date-time from the wall clock of t.
func Floating(t time.Time) DateTime {
	return DateTime{
		Time:     time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC),
		Floating: true,
	}
}

// Zoned builds a date-time in a named zone.
func Zoned(t time.Time, tzid string, loc *time.Location) DateTime {
	return DateTime{Time: t.In(loc), TZID: tzid}
}

// IsZero reports whether the value is unset.
func (d DateTime) IsZero() bool { return d.Time.IsZero() }

// IsUTC reports whether the value is an absolute UTC date-time.
func (d DateTime) IsUTC() bool {
	return !d.IsZero() && !d.DateOnly && !d.Floating && d.TZID == ""
}

// ValueType returns "DATE" or "DATE-TIME".
func (d DateTime) ValueType() string {
	if d.DateOnly {
		return "DATE"
	}
	return "DATE-TIME"
}

// Parse reads the compact iCalendar form. tzid is the TZID parameter (may be
// empty) and loc its resolved location; loc is required when tzid is set on
// a date-time.
func Parse(value, tzid string, loc *time.Location) (DateTime, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return DateTime{}, errors.New("empty date-time value")
	}

	switch {
	case len(v) == len(layoutDate):
		t, err := time.ParseInLocation(layoutDate, v, time.UTC)
		if err != nil {
			return DateTime{}, fmt.Errorf("parse date %q: %w", v, err)
		}
		return DateTime{Time: t, DateOnly: true}, nil

	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(layoutUTC, v)
		if err != nil {
			return DateTime{}, fmt.Errorf("parse utc date-time %q: %w", v, err)
		}
		return DateTime{Time: t}, nil

	default:
		if tzid == "" {
			t, err := time.ParseInLocation(layoutDateTime, v, time.UTC)
			if err != nil {
				return DateTime{}, fmt.Errorf("parse floating date-time %q: %w", v, err)
			}
			return DateTime{Time: t, Floating: true}, nil
		}
		if loc == nil {
			return DateTime{}, fmt.Errorf("date-time %q: timezone %q not resolved", v, tzid)
		}
		t, err := time.ParseInLocation(layoutDateTime, v, loc)
		if err != nil {
			return DateTime{}, fmt.Errorf("parse date-time %q: %w", v, err)
		}
		return DateTime{Time: t, TZID: tzid}, nil
	}
}

// ParseList reads a comma separated list (RDATE/EXDATE).
func ParseList(value, tzid string, loc *time.Location) ([]DateTime, error) {
	var out []DateTime
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := Parse(part, tzid, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// String renders the compact iCalendar form.
func (d DateTime) String() string {
	switch {
	case d.IsZero():
		return ""
	case d.DateOnly:
		return d.Time.Format(layoutDate)
	case d.IsUTC():
		return d.Time.UTC().Format(layoutUTC)
	default:
		return d.Time.Format(layoutDateTime)
	}
}

// ISO renders the extended form used by the XML and JSON encodings.
func (d DateTime) ISO() string {
	switch {
	case d.IsZero():
		return ""
	case d.DateOnly:
		return d.Time.Format(isoDate)
	case d.IsUTC():
		return d.Time.UTC().Format(isoUTC)
	default:
		return d.Time.Format(isoDateTime)
	}
}

// CompactFromISO converts an extended-form value to the compact form
// without resolving zones.
func CompactFromISO(v string) string {
	return strings.NewReplacer("-", "", ":", "").Replace(strings.TrimSpace(v))
}

// ISOFromCompact converts a compact value to the extended form.
func ISOFromCompact(v string) string {
	v = strings.TrimSpace(v)
	switch {
	case len(v) == len(layoutDate):
		return v[0:4] + "-" + v[4:6] + "-" + v[6:8]
	case len(v) >= len(layoutDateTime) && v[8] == 'T':
		out := v[0:4] + "-" + v[4:6] + "-" + v[6:8] + "T" + v[9:11] + ":" + v[11:13] + ":" + v[13:15]
		return out + v[15:]
	default:
		return v
	}
}

// Instant is the absolute point in time. Floating and date-only values
// are interpreted in fallback (UTC when nil).
func (d DateTime) Instant(fallback *time.Location) time.Time {
	if (d.Floating || d.DateOnly) && fallback != nil {
		t := d.Time
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), fallback)
	}
	return d.Time
}

// Equal compares form and instant.
func (d DateTime) Equal(o DateTime) bool {
	return d.DateOnly == o.DateOnly &&
		d.Floating == o.Floating &&
		d.TZID == o.TZID &&
		d.Time.Equal(o.Time)
}

// Before orders by instant.
func (d DateTime) Before(o DateTime) bool { return d.Time.Before(o.Time) }

// After orders by instant.
func (d DateTime) After(o DateTime) bool { return d.Time.After(o.Time) }

// WithTime keeps the form of d and replaces its instant. For floating and
// date-only values t's wall clock is taken as is.
func (d DateTime) WithTime(t time.Time) DateTime {
	out := d
	switch {
	case d.DateOnly:
		out.Time = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, d.Time.Location())
	case d.Floating:
		out.Time = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	default:
		out.Time = t.In(d.Time.Location())
	}
	return out
}

// AddDate shifts by calendar units, preserving the form.
func (d DateTime) AddDate(years, months, days int) DateTime {
	out := d
	out.Time = d.Time.AddDate(years, months, days)
	return out
}

// Add shifts by an exact duration, preserving the form.
func (d DateTime) Add(delta time.Duration) DateTime {
	out := d
	out.Time = d.Time.Add(delta)
	return out
}

// ToUTC converts a zoned value to UTC. Date-only and floating values are
// returned unchanged.
func (d DateTime) ToUTC() DateTime {
	if d.DateOnly || d.Floating || d.IsZero() {
		return d
	}
	return DateTime{Time: d.Time.UTC()}
}
