package recur

import (
	"context"
	"errors"
	"sort"
	"time"

	"calcore/internal/caltime"
	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/model"
)

// ExpandConfig controls how occurrences are produced for consumers.
type ExpandConfig struct {
	// DisplayLocation is the timezone all occurrences are converted to.
	// If nil, time.UTC is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd optionally restrict the output window. Zero
	// values leave that side open.
	RangeStart time.Time
	RangeEnd   time.Time

	MaxYears     int
	MaxInstances int

	// Metrics records the size of each expansion; nil disables it.
	Metrics *metrics.Metrics
}

// ExpandResult wraps the expanded occurrences.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxInstances cap.
	TruncatedEvents []string
	// Divergent lists override slots whose recurrence-id was also
	// excluded. Exclusion wins; the override is not surfaced.
	Divergent []Divergence
}

// Divergence is an override shadowed by an exclusion.
type Divergence struct {
	UID          string
	RecurrenceID time.Time
}

// ExpandOccurrences expands each master and resolves its overrides. An
// override replaces the computed instance at its recurrence-id with its own
// start and end. Contained items are expanded after their container.
func ExpandOccurrences(infos []*model.EventInfo, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if !cfg.RangeStart.IsZero() && !cfg.RangeEnd.IsZero() && cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}

	for _, info := range infos {
		if info == nil || info.Event == nil {
			continue
		}
		if err := expandTree(info, cfg, &result); err != nil {
			return result, err
		}
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		return result.Occurrences[i].Start.Before(result.Occurrences[j].Start)
	})
	return result, nil
}

// expandTree expands info and then its contained items, each bounded by
// the container's end when it has one.
func expandTree(info *model.EventInfo, cfg ExpandConfig, result *ExpandResult, opts ...Option) error {
	occ, res, err := expandInfo(info, cfg, opts...)
	if err != nil {
		return err
	}
	cfg.Metrics.RecordExpansion(context.Background(), len(res.Instances), res.Truncated)
	if res.Truncated {
		result.TruncatedEvents = append(result.TruncatedEvents, info.Event.UID)
	}
	result.Divergent = append(result.Divergent, divergences(info, res)...)
	result.Occurrences = append(result.Occurrences, occ...)

	var inner []Option
	if end, ok := containerEnd(info.Event, cfg.DisplayLocation); ok {
		inner = append(inner, WithParentEnd(end))
	}
	for _, c := range info.Contained {
		if c == nil || c.Event == nil {
			continue
		}
		if err := expandTree(c, cfg, result, inner...); err != nil {
			return err
		}
	}
	return nil
}

// containerEnd is the end a container imposes on its contained items.
func containerEnd(ev *model.Event, loc *time.Location) (time.Time, bool) {
	switch {
	case ev.EndType == model.EndDate && !ev.End.IsZero():
		return ev.End.Instant(loc), true
	case ev.EndType == model.EndDuration && ev.Duration != nil && !ev.Start.IsZero():
		return ev.Duration.AddTo(ev.Start.Instant(loc)), true
	}
	return time.Time{}, false
}

func expandInfo(info *model.EventInfo, cfg ExpandConfig, opts ...Option) ([]model.Occurrence, Result, error) {
	master := info.Event
	opts = append([]Option{WithFloating(cfg.DisplayLocation)}, opts...)
	res, err := GetPeriods(master, cfg.MaxYears, cfg.MaxInstances, opts...)
	if err != nil {
		return nil, Result{}, err
	}

	var out []model.Occurrence
	for _, p := range res.Instances {
		if p.Placeholder {
			continue
		}
		ev := master
		start, end := p.Start, p.End
		override := false
		if o, ok := findOverrideForStart(info, p.Start); ok {
			ev = o
			start = o.Start.Instant(cfg.DisplayLocation)
			end = o.EndTime()
			if o.Start.Floating || o.Start.DateOnly {
				end = start.Add(o.EndTime().Sub(o.Start.Time))
			}
			override = true
		}
		if !timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		occ := makeOccurrence(ev, start, end, cfg.DisplayLocation)
		occ.InstanceKey = instanceKey(master, p.Start)
		occ.Override = override
		out = append(out, occ)
	}
	return out, res, nil
}

// instanceKey is the recurrence-id key an override for this instance uses.
func instanceKey(master *model.Event, start time.Time) string {
	return model.RecurrenceKey(master.Start.WithTime(start))
}

// findOverrideForStart finds an override whose RECURRENCE-ID names the
// instance starting at start.
func findOverrideForStart(info *model.EventInfo, start time.Time) (*model.Event, bool) {
	if len(info.Overrides) == 0 {
		return nil, false
	}
	if o, ok := info.Overrides[instanceKey(info.Event, start)]; ok && o.Event != nil {
		return o.Event, true
	}
	// Fall back to instant equality for overrides keyed in another form.
	for _, o := range info.Overrides {
		if o.Event == nil || o.Event.RecurrenceID == nil {
			continue
		}
		if sameInstant(*o.Event.RecurrenceID, info.Event.Start, start) {
			return o.Event, true
		}
	}
	return nil, false
}

// HasInstance reports whether rid names a generated instance of master,
// excluded ones included. Slots past a truncated expansion count as
// instances.
func HasInstance(master *model.Event, rid caltime.DateTime) (bool, error) {
	res, err := GetPeriods(master, 0, 0)
	if err != nil {
		return false, err
	}
	for _, p := range res.Instances {
		if !p.Placeholder && sameInstant(rid, master.Start, p.Start) {
			return true, nil
		}
	}
	for _, ex := range res.Excluded {
		if sameInstant(rid, master.Start, ex) {
			return true, nil
		}
	}
	return res.Truncated && !rid.Instant(time.UTC).Before(res.RangeEnd), nil
}

func sameInstant(rid, masterStart caltime.DateTime, start time.Time) bool {
	if rid.DateOnly || masterStart.DateOnly {
		return rid.Time.Format("20060102") == start.Format("20060102")
	}
	if rid.Floating {
		return rid.Time.Format("20060102T150405") == start.Format("20060102T150405")
	}
	return rid.Time.Equal(start)
}

func divergences(info *model.EventInfo, res Result) []Divergence {
	var out []Divergence
	for _, o := range info.SortedOverrides() {
		rid := o.Event.RecurrenceID
		for _, ex := range res.Excluded {
			if sameInstant(*rid, info.Event.Start, ex) {
				appLog.Warn("expand: override shadowed by exclusion",
					"uid", info.Event.UID,
					"recurrence_id", rid.String(),
				)
				out = append(out, Divergence{UID: info.Event.UID, RecurrenceID: ex})
				break
			}
		}
	}
	return out
}

// makeOccurrence converts a (possibly overridden) event plus a concrete
// start/end into an Occurrence normalized into displayLoc.
func makeOccurrence(ev *model.Event, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	occ := model.Occurrence{
		UID:     ev.UID,
		Summary: ev.Summary.Value,
		AllDay:  ev.Start.DateOnly,
		Start:   start.In(displayLoc),
		End:     end.In(displayLoc),
	}
	if ev.Location != nil {
		occ.Location = ev.Location.Value
	}
	return occ
}

// timeRangesOverlap treats zero window bounds as open.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !bStart.IsZero() && aEnd.Before(bStart) {
		return false
	}
	if !bEnd.IsZero() && bEnd.Before(aStart) {
		return false
	}
	return true
}
