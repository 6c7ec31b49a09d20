package translate

import (
	"slices"
	"time"

	"calcore/internal/caltime"
	"calcore/internal/errs"
	"calcore/internal/model"
	"calcore/internal/tz"
	"calcore/internal/wire"
)

// DefaultProductID is written as PRODID when none is configured.
const DefaultProductID = "-//calcore//calcore//EN"

// Emitter renders event graphs as wire calendars.
type Emitter struct {
	resolver *tz.Resolver
	// ProductID is the PRODID of emitted calendars.
	ProductID string
	// Reserved also writes the in-band timezone and snapshot properties.
	Reserved bool
}

// NewEmitter creates an emitter sharing resolver with the translator that
// produced the events.
func NewEmitter(resolver *tz.Resolver) *Emitter {
	if resolver == nil {
		resolver = tz.NewResolver()
	}
	return &Emitter{resolver: resolver, ProductID: DefaultProductID}
}

// Emit builds one calendar from infos. Timezones come first, then masters,
// then overrides, then free/busy. Suppressed masters are left out while
// their overrides are kept.
func (e *Emitter) Emit(infos []*model.EventInfo, method string) (*wire.Calendar, error) {
	cal := &wire.Calendar{}
	cal.Props = append(cal.Props,
		wire.NewProperty("VERSION", "2.0"),
		wire.NewProperty("PRODID", e.ProductID),
	)
	if method != "" {
		cal.Props = append(cal.Props, wire.NewProperty("METHOD", method))
	}

	var masters, overrides, freeBusy []*wire.Component
	zones := newZoneSet()
	for _, info := range infos {
		if info == nil || info.Event == nil {
			continue
		}
		ev := info.Event
		if !ev.Suppressed {
			c := e.Component(info)
			zones.collect(info)
			if ev.Kind == model.KindFreeBusy {
				freeBusy = append(freeBusy, c)
			} else {
				masters = append(masters, c)
			}
		}
		for _, o := range info.SortedOverrides() {
			overrides = append(overrides, e.Component(o))
			zones.collect(o)
		}
	}

	tzs, err := e.timezones(zones)
	if err != nil {
		return nil, err
	}
	cal.Components = append(cal.Components, tzs...)
	cal.Components = append(cal.Components, masters...)
	cal.Components = append(cal.Components, overrides...)
	cal.Components = append(cal.Components, freeBusy...)
	return cal, nil
}

// Component renders one event with its alarms and contained items.
func (e *Emitter) Component(info *model.EventInfo) *wire.Component {
	ev := info.Event
	c := wire.NewComponent(ev.Kind.ComponentName())
	for _, h := range handlers {
		if h.reserved && !e.Reserved {
			continue
		}
		if h.emit != nil {
			for _, p := range h.emit(ev) {
				c.Add(p)
			}
		}
		if h.emitSub != nil {
			c.Components = append(c.Components, h.emitSub(ev)...)
		}
	}
	for _, child := range info.Contained {
		c.Components = append(c.Components, e.Component(child))
	}
	return c
}

// zoneSet gathers the zones referenced by emitted events and the span of
// time they are used over.
type zoneSet struct {
	ids      []string
	raw      map[string]string
	from, to time.Time
}

func newZoneSet() *zoneSet {
	return &zoneSet{raw: make(map[string]string)}
}

func (z *zoneSet) collect(info *model.EventInfo) {
	ev := info.Event
	for id, raw := range ev.TimeZones {
		z.raw[id] = raw
	}
	add := func(d caltime.DateTime) {
		if d.IsZero() || d.TZID == "" || d.DateOnly || d.Floating {
			return
		}
		if !slices.Contains(z.ids, d.TZID) {
			z.ids = append(z.ids, d.TZID)
		}
		if z.from.IsZero() || d.Time.Before(z.from) {
			z.from = d.Time
		}
		if d.Time.After(z.to) {
			z.to = d.Time
		}
	}
	if !ev.NoStart {
		add(ev.Start)
	}
	if ev.EndType == model.EndDate {
		add(ev.End)
	}
	if ev.RecurrenceID != nil {
		add(*ev.RecurrenceID)
	}
	for _, rd := range ev.RDates {
		add(rd.Start())
	}
	for _, d := range ev.ExDates {
		add(d)
	}
	for _, c := range info.Contained {
		z.collect(c)
	}
}

// timezones renders a VTIMEZONE per referenced zone. Definitions carried
// on events are written back verbatim; system zones are generated for the
// span in use.
func (e *Emitter) timezones(z *zoneSet) ([]*wire.Component, error) {
	slices.Sort(z.ids)
	from := z.from.AddDate(-1, 0, 0)
	to := z.to.AddDate(5, 0, 0)

	out := make([]*wire.Component, 0, len(z.ids))
	for _, id := range z.ids {
		raw, ok := z.raw[id]
		if !ok && !e.resolver.SystemKnows(id) {
			raw, ok = e.resolver.Definition(id)
		}
		if ok {
			c, err := wire.DecodeTextFragment(raw)
			if err != nil {
				return nil, errs.Wrap(errs.KindMalformedInput, err, "timezone %s", id)
			}
			out = append(out, c)
			continue
		}
		info, err := e.resolver.Resolve(id)
		if err != nil {
			return nil, err
		}
		if info.Location == time.UTC {
			continue
		}
		out = append(out, tz.BuildDefinition(id, info.Location, from, to))
	}
	return out, nil
}
