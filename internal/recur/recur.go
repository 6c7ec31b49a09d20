// Package recur expands an event's RRULE/RDATE/EXRULE/EXDATE sets into a
// bounded, ordered list of concrete instances. It is pure: the same event
// and limits always produce the same result, and it is safe to call
// concurrently on independent events.
package recur

import (
	"errors"
	"sort"
	"time"

	"calcore/internal/caltime"
	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/model"
)

const (
	DefaultMaxYears     = 10
	DefaultMaxInstances = 1000

	// margin pads the derived range end past the last occurrence.
	margin = 24 * time.Hour

	// scanFactor bounds candidates drawn per kept instance.
	scanFactor = 8
)

// Period is one concrete instance, End >= Start.
type Period struct {
	Start time.Time
	End   time.Time
	// Placeholder marks the synthetic window of a suppressed master. It
	// always lies before RangeStart.
	Placeholder bool
}

// Result is the outcome of GetPeriods.
type Result struct {
	Instances  []Period
	RangeStart time.Time
	RangeEnd   time.Time
	// Truncated is set when maxInstances cut the list.
	Truncated bool
	// Excluded holds the generated starts removed by EXRULE/EXDATE.
	Excluded []time.Time
}

// Options tune expansion.
type Options struct {
	// ParentEnd bounds contained and override entities by their
	// container's end.
	ParentEnd time.Time
	// Floating anchors floating and date-only values. Nil keeps them in
	// UTC wall-clock time.
	Floating *time.Location
}

// Option configures Options.
type Option func(*Options)

// WithParentEnd clips the expansion window at end.
func WithParentEnd(end time.Time) Option {
	return func(o *Options) { o.ParentEnd = end }
}

// WithFloating anchors floating and date-only values in loc.
func WithFloating(loc *time.Location) Option {
	return func(o *Options) { o.Floating = loc }
}

// GetPeriods is the shared materialization entry point. Instances are
// bounded by maxYears past the earliest start and by maxInstances;
// non-positive limits use the defaults.
func GetPeriods(ev *model.Event, maxYears, maxInstances int, opts ...Option) (Result, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if maxYears <= 0 {
		maxYears = DefaultMaxYears
	}
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}
	if ev == nil || ev.Start.IsZero() {
		return Result{}, errs.New(errs.KindMalformedInput, "expand: event has no start").At(kindName(ev), "DTSTART", uid(ev))
	}

	x := &expansion{ev: ev, opts: o}
	res, err := x.run(maxYears, maxInstances)
	if err != nil {
		return Result{}, errs.Locate(err, ev.Kind.ComponentName(), "RRULE", ev.UID)
	}
	return res, nil
}

func kindName(ev *model.Event) string {
	if ev == nil {
		return ""
	}
	return ev.Kind.ComponentName()
}

func uid(ev *model.Event) string {
	if ev == nil {
		return ""
	}
	return ev.UID
}

type expansion struct {
	ev     *model.Event
	opts   Options
	anchor time.Time
	loc    *time.Location
}

func (x *expansion) instant(d caltime.DateTime) time.Time {
	if d.Floating || d.DateOnly {
		loc := x.opts.Floating
		if loc == nil {
			loc = time.UTC
		}
		return d.Instant(loc)
	}
	return d.Time
}

// endFor computes an instance end from its start, following the event's
// own end-type. Nominal durations follow the calendar.
func (x *expansion) endFor(start time.Time) time.Time {
	ev := x.ev
	var end time.Time
	switch {
	case ev.EndType == model.EndDuration && ev.Duration != nil:
		end = ev.Duration.AddTo(start)
	case ev.EndType == model.EndDate && !ev.End.IsZero():
		end = start.Add(x.instant(ev.End).Sub(x.anchor))
	case ev.Start.DateOnly:
		end = start.AddDate(0, 0, 1)
	default:
		end = start
	}
	if end.Before(start) {
		return start
	}
	return end
}

func (x *expansion) run(maxYears, maxInstances int) (Result, error) {
	ev := x.ev
	x.anchor = x.instant(ev.Start)
	x.loc = x.anchor.Location()

	var rdates []candidate
	for _, rd := range ev.RDates {
		s := x.instant(rd.Start())
		e := x.endFor(s)
		if rd.Period != nil {
			if rd.Period.Duration != nil {
				e = rd.Period.Duration.AddTo(s)
			} else {
				e = x.instant(rd.Period.End)
			}
			if e.Before(s) {
				e = s
			}
		}
		rdates = append(rdates, candidate{start: s, end: e})
	}

	// The anchor of a suppressed master is not an instance.
	rangeStart := x.anchor
	if ev.Suppressed && len(rdates) > 0 {
		rangeStart = rdates[0].start
	}
	for _, rd := range rdates {
		if rd.start.Before(rangeStart) {
			rangeStart = rd.start
		}
	}
	sort.SliceStable(rdates, func(i, j int) bool { return rdates[i].start.Before(rdates[j].start) })

	limit := rangeStart.AddDate(maxYears, 0, 0)
	if !x.opts.ParentEnd.IsZero() && x.opts.ParentEnd.Before(limit) {
		limit = x.opts.ParentEnd
	}

	w := &work{budget: (maxInstances + len(ev.RRules) + len(ev.ExRules) + len(ev.RDates) + len(ev.ExDates)) * scanFactor}

	// Ties resolve to the earliest stream: anchor, then rules, then RDATEs.
	var streams []*stream
	if !ev.Suppressed {
		streams = append(streams, w.list([]candidate{{start: x.anchor, end: x.endFor(x.anchor)}}))
	}
	for _, text := range ev.RRules {
		r, err := parseRule(text, x.anchor, ev.Start.DateOnly)
		if err != nil {
			return Result{}, err
		}
		streams = append(streams, w.rule(r, x.endFor))
	}
	streams = append(streams, w.list(rdates))

	var exrules []*stream
	for _, text := range ev.ExRules {
		r, err := parseRule(text, x.anchor, ev.Start.DateOnly)
		if err != nil {
			return Result{}, errs.Locate(err, ev.Kind.ComponentName(), "EXRULE", ev.UID)
		}
		exrules = append(exrules, w.rule(r, nil))
	}

	// Exclusions apply after generation, so COUNT is never shortened.
	ex := newExclusions(ev.Start.DateOnly, x.loc)
	for _, d := range ev.ExDates {
		ex.add(x.instant(d), d.DateOnly)
	}

	res := Result{RangeStart: rangeStart}
	lastEnd := x.endFor(x.anchor)
	passedLimit := false
	for {
		cur := earliest(streams)
		if cur == nil {
			break
		}
		if w.spent() {
			res.Truncated = true
			break
		}
		c := cur.head
		if c.start.After(limit) {
			passedLimit = true
			break
		}
		for _, st := range streams {
			for st.ok && st.head.start.Unix() == c.start.Unix() {
				st.advance()
			}
		}
		if c.start.Before(rangeStart) {
			continue
		}
		if c.end.After(lastEnd) {
			lastEnd = c.end
		}
		excluded := ex.ruleHit(exrules, c.start) || ex.match(c.start)
		if !excluded && w.spent() {
			res.Truncated = true
			break
		}
		if excluded {
			res.Excluded = append(res.Excluded, c.start)
			continue
		}
		if len(res.Instances) == maxInstances {
			res.Truncated = true
			break
		}
		res.Instances = append(res.Instances, Period{Start: c.start, End: c.end})
	}

	switch {
	case res.Truncated:
		res.RangeEnd = rangeStart
		if n := len(res.Instances); n > 0 {
			res.RangeEnd = res.Instances[n-1].End
		}
		appLog.Error("expand: truncated instances due to cap",
			errors.New("max instances reached"),
			"uid", ev.UID,
			"cap", maxInstances,
			"kept", len(res.Instances),
		)
	case passedLimit:
		res.RangeEnd = limit
	default:
		res.RangeEnd = lastEnd.Add(margin)
		if res.RangeEnd.After(limit) {
			res.RangeEnd = limit
		}
	}

	if ev.Suppressed {
		span := x.endFor(x.anchor).Sub(x.anchor)
		end := rangeStart.Add(-margin)
		res.Instances = append([]Period{{Start: end.Add(-span), End: end, Placeholder: true}}, res.Instances...)
	}
	return res, nil
}

// candidate is one generated start with its computed end.
type candidate struct {
	start, end time.Time
}

// work caps the candidates drawn from all streams of one expansion, so
// rules whose output is mostly excluded still stop.
type work struct {
	steps, budget int
}

func (w *work) spent() bool { return w.steps > w.budget }

// stream yields ascending candidates from one part of the recurrence set.
type stream struct {
	w    *work
	next func() (candidate, bool)
	head candidate
	ok   bool
}

func (s *stream) advance() {
	s.w.steps++
	s.head, s.ok = s.next()
}

func (w *work) list(cs []candidate) *stream {
	i := 0
	s := &stream{w: w, next: func() (candidate, bool) {
		if i >= len(cs) {
			return candidate{}, false
		}
		i++
		return cs[i-1], true
	}}
	s.advance()
	return s
}

func (w *work) rule(r rule, endFor func(time.Time) time.Time) *stream {
	it := r.iterator()
	s := &stream{w: w, next: func() (candidate, bool) {
		t, ok := it()
		if !ok {
			return candidate{}, false
		}
		c := candidate{start: t, end: t}
		if endFor != nil {
			c.end = endFor(t)
		}
		return c, true
	}}
	s.advance()
	return s
}

// earliest returns the stream with the smallest head, or nil when all are
// drained.
func earliest(streams []*stream) *stream {
	var best *stream
	for _, s := range streams {
		if !s.ok {
			continue
		}
		if best == nil || s.head.start.Before(best.head.start) {
			best = s
		}
	}
	return best
}

// exclusions matches instance starts against EXDATE/EXRULE values. When
// either side is date-only the comparison is by calendar date.
type exclusions struct {
	dateOnly bool
	loc      *time.Location
	instants map[int64]bool
	dates    map[string]bool
}

func newExclusions(dateOnly bool, loc *time.Location) *exclusions {
	return &exclusions{dateOnly: dateOnly, loc: loc, instants: map[int64]bool{}, dates: map[string]bool{}}
}

func (e *exclusions) dateKey(t time.Time) string {
	return t.In(e.loc).Format("20060102")
}

func (e *exclusions) add(t time.Time, dateOnly bool) {
	if e.dateOnly || dateOnly {
		if dateOnly {
			// Date-only values carry midnight of their own date.
			e.dates[t.Format("20060102")] = true
		} else {
			e.dates[e.dateKey(t)] = true
		}
		return
	}
	e.instants[t.Unix()] = true
}

func (e *exclusions) match(t time.Time) bool {
	return e.instants[t.Unix()] || e.dates[e.dateKey(t)]
}

// ruleHit advances each EXRULE stream up to t and reports whether one of
// them produced t.
func (e *exclusions) ruleHit(exrules []*stream, t time.Time) bool {
	hit := false
	for _, st := range exrules {
		for st.ok && !st.head.start.After(t) && !st.w.spent() {
			s := st.head.start
			if s.Unix() == t.Unix() || (e.dateOnly && e.dateKey(s) == e.dateKey(t)) {
				hit = true
			}
			st.advance()
		}
	}
	return hit
}
