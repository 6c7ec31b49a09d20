package caltime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is an RFC 5545 PERIOD: an explicit start and either an explicit
// end or a duration.
type Period struct {
	Start    DateTime
	End      DateTime
	Duration *Duration
}

// EndTime resolves the end instant.
func (p Period) EndTime() time.Time {
	if p.Duration != nil {
		return p.Duration.AddTo(p.Start.Time)
	}
	return p.End.Time
}

// ParsePeriod reads "start/end" or "start/duration".
func ParsePeriod(value, tzid string, loc *time.Location) (Period, error) {
	start, rest, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return Period{}, fmt.Errorf("period %q: missing '/'", value)
	}
	s, err := Parse(start, tzid, loc)
	if err != nil {
		return Period{}, err
	}
	p := Period{Start: s}
	if strings.HasPrefix(rest, "P") || strings.HasPrefix(rest, "+P") || strings.HasPrefix(rest, "-P") {
		d, err := ParseDuration(rest)
		if err != nil {
			return Period{}, err
		}
		if d.Negative {
			return Period{}, fmt.Errorf("period %q: negative duration", value)
		}
		p.Duration = &d
		return p, nil
	}
	e, err := Parse(rest, tzid, loc)
	if err != nil {
		return Period{}, err
	}
	if e.Before(s) {
		return Period{}, fmt.Errorf("period %q: end before start", value)
	}
	p.End = e
	return p, nil
}

// ParsePeriodList reads a comma separated list of periods.
func ParsePeriodList(value, tzid string, loc *time.Location) ([]Period, error) {
	var out []Period
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := ParsePeriod(part, tzid, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p Period) String() string {
	if p.Duration != nil {
		return p.Start.String() + "/" + p.Duration.String()
	}
	return p.Start.String() + "/" + p.End.String()
}

// ISO renders the extended form used by the XML and JSON encodings.
func (p Period) ISO() string {
	if p.Duration != nil {
		return p.Start.ISO() + "/" + p.Duration.String()
	}
	return p.Start.ISO() + "/" + p.End.ISO()
}

// ParseUTCOffset reads "+0900", "-0530" or "+013045" into seconds east of UTC.
func ParseUTCOffset(s string) (int, error) {
	v := strings.TrimSpace(s)
	if len(v) != 5 && len(v) != 7 {
		return 0, fmt.Errorf("utc offset %q: bad length", s)
	}
	sign := 1
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("utc offset %q: missing sign", s)
	}
	h, err := strconv.Atoi(v[1:3])
	if err != nil {
		return 0, fmt.Errorf("utc offset %q: %w", s, err)
	}
	m, err := strconv.Atoi(v[3:5])
	if err != nil {
		return 0, fmt.Errorf("utc offset %q: %w", s, err)
	}
	sec := 0
	if len(v) == 7 {
		if sec, err = strconv.Atoi(v[5:7]); err != nil {
			return 0, fmt.Errorf("utc offset %q: %w", s, err)
		}
	}
	return sign * (h*3600 + m*60 + sec), nil
}

// FormatUTCOffset renders seconds east of UTC as "+hhmm[ss]".
func FormatUTCOffset(offset int) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	out := fmt.Sprintf("%s%02d%02d", sign, offset/3600, (offset%3600)/60)
	if s := offset % 60; s != 0 {
		out += fmt.Sprintf("%02d", s)
	}
	return out
}
