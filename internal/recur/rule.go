package recur

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"calcore/internal/errs"
)

// rule is a parsed RRULE or EXRULE bound to an anchor.
type rule struct {
	text string
	opt  rrule.ROption
	r    *rrule.RRule
}

// ValidateRule checks rule text without expanding it. Ingest uses it so
// malformed rules fail early while the raw text is stored as is.
func ValidateRule(text string) error {
	_, err := parseRule(text, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), false)
	return err
}

// parseRule parses text anchored at dtstart. dateOnly is the form of the
// anchor: a date-only UNTIL on a date-time anchor covers the whole day.
func parseRule(text string, dtstart time.Time, dateOnly bool) (rule, error) {
	norm := strings.ToUpper(strings.TrimSpace(text))
	norm = strings.TrimPrefix(norm, "RRULE:")
	norm = strings.TrimPrefix(norm, "EXRULE:")
	if norm == "" {
		return rule{}, errs.New(errs.KindMalformedInput, "empty recurrence rule")
	}

	opt, err := rrule.StrToROptionInLocation(norm, dtstart.Location())
	if err != nil {
		return rule{}, errs.Wrap(errs.KindMalformedInput, err, "recurrence rule %q", text)
	}
	if opt.Count < 0 || opt.Interval < 0 {
		return rule{}, errs.New(errs.KindMalformedInput, "recurrence rule %q: negative COUNT or INTERVAL", text)
	}
	if opt.Count > 0 && !opt.Until.IsZero() {
		return rule{}, errs.New(errs.KindMalformedInput, "recurrence rule %q: both COUNT and UNTIL", text)
	}
	if !opt.Until.IsZero() && !dateOnly && untilIsDate(norm) {
		opt.Until = opt.Until.AddDate(0, 0, 1).Add(-time.Second)
	}
	opt.Dtstart = dtstart

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return rule{}, errs.Wrap(errs.KindMalformedInput, err, "recurrence rule %q", text)
	}
	return rule{text: text, opt: *opt, r: r}, nil
}

func untilIsDate(norm string) bool {
	for _, part := range strings.Split(norm, ";") {
		if v, ok := strings.CutPrefix(part, "UNTIL="); ok {
			return len(strings.TrimSpace(v)) == 8
		}
	}
	return false
}

// iterator yields the rule's occurrences in ascending order.
func (r rule) iterator() rrule.Next {
	return r.r.Iterator()
}
