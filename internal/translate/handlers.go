package translate

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"calcore/internal/alarm"
	"calcore/internal/caltime"
	"calcore/internal/changes"
	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/props"
	"calcore/internal/recur"
	"calcore/internal/wire"
)

// refParam carries a collaborator id on the reserved category, contact and
// location x-properties.
const refParam = changes.ReservedPrefix + "ID"

// handler is one row of the property table. Ingest and emit walk the same
// rows in the same order, so the three encodings and the change set agree.
type handler struct {
	index changes.Index
	// names are the wire property names the row consumes.
	names []string
	// sub is a sub-component name consumed instead of properties.
	sub string
	// applies reports whether the property is legal on a kind. Rows that
	// do not apply are skipped, not failed.
	applies func(model.Kind) bool
	// identity rows are read before the table runs.
	identity bool
	// always rows run even when the component lacks the property.
	always bool
	// reserved rows are only written when reserved output is requested.
	reserved bool

	ingest    func(x *ingestion, ps []wire.Property) error
	ingestSub func(x *ingestion, cs []*wire.Component) error
	emit      func(ev *model.Event) []wire.Property
	emitSub   func(ev *model.Event) []*wire.Component
}

func anyKind(model.Kind) bool { return true }

func only(kinds ...model.Kind) func(model.Kind) bool {
	return func(k model.Kind) bool { return slices.Contains(kinds, k) }
}

func except(kinds ...model.Kind) func(model.Kind) bool {
	return func(k model.Kind) bool { return !slices.Contains(kinds, k) }
}

var (
	handlers      []*handler
	handlerByName map[string]*handler
	handlerBySub  map[string]*handler
	xpropHandler  *handler
)

func init() {
	handlers = buildHandlers()
	handlerByName = make(map[string]*handler)
	handlerBySub = make(map[string]*handler)
	for _, h := range handlers {
		for _, n := range h.names {
			handlerByName[n] = h
		}
		if h.sub != "" {
			handlerBySub[h.sub] = h
		}
		if h.index == changes.IndexXProp {
			xpropHandler = h
		}
	}
}

// handlerFor resolves a property name to its row. Unregistered
// x-properties go to the verbatim row; anything else is unknown.
func handlerFor(name string) *handler {
	if h, ok := handlerByName[name]; ok {
		return h
	}
	if changes.Lookup(name) == changes.IndexXProp && !strings.HasPrefix(name, changes.ReservedPrefix) {
		return xpropHandler
	}
	return nil
}

func buildHandlers() []*handler {
	return []*handler{
		{
			index: changes.IndexUID, names: []string{"UID"}, applies: anyKind, identity: true,
			emit: func(ev *model.Event) []wire.Property { return one("UID", ev.UID) },
		},
		{
			index: changes.IndexRecurrenceID, names: []string{"RECURRENCE-ID"}, applies: anyKind, identity: true,
			emit: func(ev *model.Event) []wire.Property {
				if ev.RecurrenceID == nil {
					return nil
				}
				p := dateProp("RECURRENCE-ID", *ev.RecurrenceID)
				p.Params.Set("RANGE", ev.RecurrenceRange)
				return []wire.Property{p}
			},
		},
		{
			index: changes.IndexDtStart, names: []string{"DTSTART"}, applies: anyKind,
			ingest: deferDate(func(d *dateInputs) **wire.Property { return &d.start }),
			emit: func(ev *model.Event) []wire.Property {
				if ev.NoStart || ev.Start.IsZero() {
					return nil
				}
				return []wire.Property{dateProp("DTSTART", ev.Start)}
			},
		},
		{
			index: changes.IndexDtEnd, names: []string{"DTEND"}, applies: except(model.KindTodo, model.KindJournal),
			ingest: deferDate(func(d *dateInputs) **wire.Property { return &d.end }),
			emit: func(ev *model.Event) []wire.Property {
				if ev.Kind == model.KindTodo || ev.EndType != model.EndDate {
					return nil
				}
				return []wire.Property{dateProp("DTEND", ev.End)}
			},
		},
		{
			index: changes.IndexDue, names: []string{"DUE"}, applies: only(model.KindTodo),
			ingest: deferDate(func(d *dateInputs) **wire.Property { return &d.end }),
			emit: func(ev *model.Event) []wire.Property {
				if ev.Kind != model.KindTodo || ev.EndType != model.EndDate {
					return nil
				}
				return []wire.Property{dateProp("DUE", ev.End)}
			},
		},
		{
			index: changes.IndexDuration, names: []string{"DURATION"}, applies: except(model.KindJournal),
			ingest: deferDate(func(d *dateInputs) **wire.Property { return &d.duration }),
			emit: func(ev *model.Event) []wire.Property {
				if ev.EndType != model.EndDuration || ev.Duration == nil {
					return nil
				}
				return one("DURATION", ev.Duration.String())
			},
		},
		intRow(changes.IndexSequence, "SEQUENCE", anyKind,
			func(ev *model.Event) *int { return &ev.Sequence }),
		{
			index: changes.IndexStatus, names: []string{"STATUS"}, applies: anyKind,
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.Status = strings.ToUpper(last(ps).Value())
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one("STATUS", ev.Status) },
		},
		{
			index: changes.IndexClass, names: []string{"CLASS"}, applies: except(model.KindFreeBusy),
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.Classification = defaulted(strings.ToUpper(last(ps).Value()), "PUBLIC")
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one("CLASS", ev.Classification) },
		},
		textRow(changes.IndexSummary, "SUMMARY", except(model.KindFreeBusy),
			func(ev *model.Event) *model.Text { return &ev.Summary }),
		textRow(changes.IndexDescription, "DESCRIPTION", except(model.KindFreeBusy),
			func(ev *model.Event) *model.Text { return &ev.Description }),
		{
			index: changes.IndexLocation, names: []string{"LOCATION", changes.ReservedPrefix + "LOCATION"},
			applies: except(model.KindFreeBusy),
			ingest:  ingestLocation,
			emit: func(ev *model.Event) []wire.Property {
				if ev.Location == nil {
					return nil
				}
				return []wire.Property{refProperty("LOCATION", *ev.Location)}
			},
		},
		{
			index: changes.IndexCategories, names: []string{"CATEGORIES", changes.ReservedPrefix + "CATEGORY"},
			applies: except(model.KindFreeBusy),
			ingest:  ingestCategories,
			emit:    emitCategories,
		},
		{
			index: changes.IndexContact, names: []string{"CONTACT", changes.ReservedPrefix + "CONTACT"},
			applies: anyKind,
			ingest:  ingestContacts,
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.Contacts))
				for _, r := range ev.Contacts {
					out = append(out, refProperty("CONTACT", r))
				}
				return out
			},
		},
		{
			index: changes.IndexComment, names: []string{"COMMENT"}, applies: anyKind,
			ingest: func(x *ingestion, ps []wire.Property) error {
				for _, p := range ps {
					x.ev.Comments = append(x.ev.Comments, props.Text(p))
				}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.Comments))
				for _, c := range ev.Comments {
					out = append(out, props.TextProperty("COMMENT", c))
				}
				return out
			},
		},
		{
			index: changes.IndexResources, names: []string{"RESOURCES"}, applies: except(model.KindFreeBusy, model.KindJournal),
			ingest: func(x *ingestion, ps []wire.Property) error {
				for _, p := range ps {
					for _, v := range p.Values {
						if v != "" && !slices.Contains(x.ev.Resources, v) {
							x.ev.Resources = append(x.ev.Resources, v)
						}
					}
				}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				if len(ev.Resources) == 0 {
					return nil
				}
				return []wire.Property{{Name: "RESOURCES", Params: wire.Params{}, Values: slices.Clone(ev.Resources)}}
			},
		},
		{
			index: changes.IndexURL, names: []string{"URL"}, applies: anyKind,
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.URL = strings.TrimSpace(last(ps).Value())
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one("URL", ev.URL) },
		},
		intRow(changes.IndexPriority, "PRIORITY", except(model.KindFreeBusy, model.KindJournal),
			func(ev *model.Event) *int { return &ev.Priority }),
		{
			index: changes.IndexTransp, names: []string{"TRANSP"}, applies: only(model.KindEvent),
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.Transparency = defaulted(strings.ToUpper(last(ps).Value()), "OPAQUE")
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one("TRANSP", ev.Transparency) },
		},
		stampRow(changes.IndexCreated, "CREATED", func(ev *model.Event) *caltime.DateTime { return &ev.Created }),
		stampRow(changes.IndexLastModified, "LAST-MODIFIED", func(ev *model.Event) *caltime.DateTime { return &ev.LastModified }),
		stampRow(changes.IndexDtStamp, "DTSTAMP", func(ev *model.Event) *caltime.DateTime { return &ev.DtStamp }),
		{
			index: changes.IndexCompleted, names: []string{"COMPLETED"}, applies: only(model.KindTodo),
			ingest: func(x *ingestion, ps []wire.Property) error {
				d, err := x.parseDate(last(ps))
				if err != nil {
					return err
				}
				x.ev.Completed = d
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				if ev.Completed.IsZero() {
					return nil
				}
				return []wire.Property{dateProp("COMPLETED", ev.Completed)}
			},
		},
		{
			index: changes.IndexPercentComplete, names: []string{"PERCENT-COMPLETE"}, applies: only(model.KindTodo),
			ingest: func(x *ingestion, ps []wire.Property) error {
				n, err := x.parseInt(last(ps))
				if err != nil {
					return err
				}
				if n < 0 || n > 100 {
					return x.malformed(last(ps), "percent-complete %d out of range", n)
				}
				x.ev.PercentComplete = &n
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				if ev.PercentComplete == nil {
					return nil
				}
				return one("PERCENT-COMPLETE", strconv.Itoa(*ev.PercentComplete))
			},
		},
		{
			index: changes.IndexGeo, names: []string{"GEO"}, applies: except(model.KindFreeBusy),
			ingest: func(x *ingestion, ps []wire.Property) error {
				p := last(ps)
				parts := strings.Split(strings.Join(p.Values, ";"), ";")
				if len(parts) != 2 {
					return x.malformed(p, "geo %q", p.Value())
				}
				lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
				lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
				if err1 != nil || err2 != nil {
					return x.malformed(p, "geo %q", p.Value())
				}
				x.ev.Geo = &model.Geo{Lat: lat, Lon: lon}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				if ev.Geo == nil {
					return nil
				}
				return one("GEO", strconv.FormatFloat(ev.Geo.Lat, 'f', -1, 64)+";"+strconv.FormatFloat(ev.Geo.Lon, 'f', -1, 64))
			},
		},
		{
			index: changes.IndexOrganizer, names: []string{"ORGANIZER"}, applies: anyKind,
			ingest: func(x *ingestion, ps []wire.Property) error {
				o := props.Organizer(last(ps))
				o.Address = x.collab.NormalizeAddress(o.Address)
				x.ev.Organizer = o
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				if ev.Organizer == nil {
					return nil
				}
				return []wire.Property{props.OrganizerProperty(ev.Organizer)}
			},
		},
		{
			index: changes.IndexAttendee, names: []string{"ATTENDEE"}, applies: anyKind, always: true,
			ingest: ingestAttendees,
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.Attendees))
				for _, a := range ev.Attendees {
					out = append(out, props.AttendeeProperty(a))
				}
				return out
			},
		},
		{
			index: changes.IndexAttach, names: []string{"ATTACH"}, applies: except(model.KindFreeBusy),
			ingest: func(x *ingestion, ps []wire.Property) error {
				for _, p := range ps {
					x.ev.Attachments = append(x.ev.Attachments, props.Attachment(p))
				}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.Attachments))
				for _, a := range ev.Attachments {
					out = append(out, props.AttachmentProperty(a))
				}
				return out
			},
		},
		{
			index: changes.IndexRelatedTo, names: []string{"RELATED-TO"}, applies: except(model.KindFreeBusy),
			ingest: func(x *ingestion, ps []wire.Property) error {
				for _, p := range ps {
					x.ev.RelatedTo = append(x.ev.RelatedTo, props.Relation(p))
				}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.RelatedTo))
				for _, r := range ev.RelatedTo {
					out = append(out, props.RelationProperty(r))
				}
				return out
			},
		},
		{
			index: changes.IndexRequestStatus, names: []string{"REQUEST-STATUS"}, applies: anyKind,
			ingest: func(x *ingestion, ps []wire.Property) error {
				for _, p := range ps {
					x.ev.RequestStatus = append(x.ev.RequestStatus, strings.Join(p.Values, ";"))
				}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.RequestStatus))
				for _, s := range ev.RequestStatus {
					out = append(out, wire.NewProperty("REQUEST-STATUS", s))
				}
				return out
			},
		},
		ruleRow(changes.IndexRRule, "RRULE", func(ev *model.Event) *[]string { return &ev.RRules }),
		{
			index: changes.IndexRDate, names: []string{"RDATE"}, applies: except(model.KindFreeBusy),
			ingest: ingestRDates,
			emit:   emitRDates,
		},
		ruleRow(changes.IndexExRule, "EXRULE", func(ev *model.Event) *[]string { return &ev.ExRules }),
		{
			index: changes.IndexExDate, names: []string{"EXDATE"}, applies: except(model.KindFreeBusy),
			ingest: func(x *ingestion, ps []wire.Property) error {
				for _, p := range ps {
					ds, err := x.parseDateList(p)
					if err != nil {
						return err
					}
					x.ev.ExDates = append(x.ev.ExDates, ds...)
				}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return dateListProps("EXDATE", ev.ExDates) },
		},
		{
			index: changes.IndexFreeBusy, names: []string{"FREEBUSY"}, applies: only(model.KindFreeBusy),
			ingest: ingestFreeBusy,
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.FreeBusy))
				for _, fb := range ev.FreeBusy {
					p := wire.Property{Name: "FREEBUSY", Params: wire.Params{}}
					p.Params.Set("FBTYPE", fb.Type)
					for _, per := range fb.Periods {
						p.Values = append(p.Values, per.String())
					}
					out = append(out, p)
				}
				return out
			},
		},
		{
			index: changes.IndexBusyType, names: []string{"BUSYTYPE"}, applies: only(model.KindAvailability),
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.BusyType = defaulted(strings.ToUpper(last(ps).Value()), "BUSY-UNAVAILABLE")
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one("BUSYTYPE", ev.BusyType) },
		},
		{
			index: changes.IndexPollMode, names: []string{"POLL-MODE"}, applies: only(model.KindPoll),
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.PollMode = defaulted(strings.ToUpper(last(ps).Value()), "BASIC")
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one("POLL-MODE", ev.PollMode) },
		},
		{
			index: changes.IndexPollProperties, names: []string{"POLL-PROPERTIES"}, applies: only(model.KindPoll),
			ingest: func(x *ingestion, ps []wire.Property) error {
				var names []string
				for _, p := range ps {
					for _, v := range p.Values {
						if v = strings.ToUpper(strings.TrimSpace(v)); v != "" && !slices.Contains(names, v) {
							names = append(names, v)
						}
					}
				}
				x.ev.PollProperties = strings.Join(names, ",")
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				if ev.PollProperties == "" {
					return nil
				}
				return []wire.Property{{Name: "POLL-PROPERTIES", Params: wire.Params{}, Values: strings.Split(ev.PollProperties, ",")}}
			},
		},
		optIntRow(changes.IndexPollWinner, "POLL-WINNER", only(model.KindPoll),
			func(ev *model.Event) **int { return &ev.PollWinner }),
		optIntRow(changes.IndexPollItemID, "POLL-ITEM-ID", except(model.KindPoll, model.KindFreeBusy),
			func(ev *model.Event) **int { return &ev.PollItemID }),
		{
			index: changes.IndexCost, names: []string{changes.IndexCost.String()}, applies: anyKind,
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.Cost = last(ps).Value()
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one(changes.IndexCost.String(), ev.Cost) },
		},
		{
			index: changes.IndexAlarm, sub: "VALARM", applies: only(model.KindEvent, model.KindTodo),
			ingestSub: ingestAlarms,
			emitSub: func(ev *model.Event) []*wire.Component {
				out := make([]*wire.Component, 0, len(ev.Alarms))
				for i := range ev.Alarms {
					out = append(out, alarm.ToComponent(&ev.Alarms[i]))
				}
				return out
			},
		},
		{
			index: changes.IndexTimezone, names: []string{changes.IndexTimezone.String()}, applies: anyKind, reserved: true,
			// Read ahead of the table by ingestion.preloadZones.
			ingest: func(*ingestion, []wire.Property) error { return nil },
			emit: func(ev *model.Event) []wire.Property {
				ids := slices.Sorted(maps.Keys(ev.TimeZones))
				out := make([]wire.Property, 0, len(ids))
				for _, id := range ids {
					out = append(out, wire.NewProperty(changes.IndexTimezone.String(), ev.TimeZones[id]))
				}
				return out
			},
		},
		{
			index: changes.IndexSnapshot, names: []string{changes.IndexSnapshot.String()}, applies: anyKind, reserved: true,
			ingest: func(x *ingestion, ps []wire.Property) error {
				x.ev.Snapshot = last(ps).Value()
				return nil
			},
			emit: func(ev *model.Event) []wire.Property { return one(changes.IndexSnapshot.String(), ev.Snapshot) },
		},
		{
			index: changes.IndexXProp, applies: anyKind,
			ingest: func(x *ingestion, ps []wire.Property) error {
				for _, p := range ps {
					x.ev.XProps = append(x.ev.XProps, props.XProp(p))
				}
				return nil
			},
			emit: func(ev *model.Event) []wire.Property {
				out := make([]wire.Property, 0, len(ev.XProps))
				for _, xp := range ev.XProps {
					out = append(out, props.XPropProperty(xp))
				}
				return out
			},
		},
	}
}

// Row builders.

func textRow(idx changes.Index, name string, applies func(model.Kind) bool, field func(*model.Event) *model.Text) *handler {
	return &handler{
		index: idx, names: []string{name}, applies: applies,
		ingest: func(x *ingestion, ps []wire.Property) error {
			*field(x.ev) = props.Text(last(ps))
			return nil
		},
		emit: func(ev *model.Event) []wire.Property {
			t := *field(ev)
			if t.IsZero() {
				return nil
			}
			return []wire.Property{props.TextProperty(name, t)}
		},
	}
}

func intRow(idx changes.Index, name string, applies func(model.Kind) bool, field func(*model.Event) *int) *handler {
	return &handler{
		index: idx, names: []string{name}, applies: applies,
		ingest: func(x *ingestion, ps []wire.Property) error {
			n, err := x.parseInt(last(ps))
			if err != nil {
				return err
			}
			*field(x.ev) = n
			return nil
		},
		emit: func(ev *model.Event) []wire.Property {
			if n := *field(ev); n != 0 {
				return one(name, strconv.Itoa(n))
			}
			return nil
		},
	}
}

func optIntRow(idx changes.Index, name string, applies func(model.Kind) bool, field func(*model.Event) **int) *handler {
	return &handler{
		index: idx, names: []string{name}, applies: applies,
		ingest: func(x *ingestion, ps []wire.Property) error {
			n, err := x.parseInt(last(ps))
			if err != nil {
				return err
			}
			*field(x.ev) = &n
			return nil
		},
		emit: func(ev *model.Event) []wire.Property {
			if p := *field(ev); p != nil {
				return one(name, strconv.Itoa(*p))
			}
			return nil
		},
	}
}

func stampRow(idx changes.Index, name string, field func(*model.Event) *caltime.DateTime) *handler {
	return &handler{
		index: idx, names: []string{name}, applies: anyKind,
		ingest: func(x *ingestion, ps []wire.Property) error {
			d, err := x.parseDate(last(ps))
			if err != nil {
				return err
			}
			*field(x.ev) = d.ToUTC()
			return nil
		},
		emit: func(ev *model.Event) []wire.Property {
			d := *field(ev)
			if d.IsZero() {
				return nil
			}
			return []wire.Property{dateProp(name, d)}
		},
	}
}

func ruleRow(idx changes.Index, name string, field func(*model.Event) *[]string) *handler {
	return &handler{
		index: idx, names: []string{name}, applies: except(model.KindFreeBusy),
		ingest: func(x *ingestion, ps []wire.Property) error {
			for _, p := range ps {
				text := strings.Join(p.Values, ",")
				if err := recur.ValidateRule(text); err != nil {
					return errs.Locate(err, x.comp.Name, name, x.uid)
				}
				*field(x.ev) = append(*field(x.ev), wire.CanonicalRecur(strings.ToUpper(text)))
			}
			return nil
		},
		emit: func(ev *model.Event) []wire.Property {
			rules := *field(ev)
			out := make([]wire.Property, 0, len(rules))
			for _, r := range rules {
				out = append(out, wire.NewProperty(name, r))
			}
			return out
		},
	}
}

func deferDate(slot func(*dateInputs) **wire.Property) func(*ingestion, []wire.Property) error {
	return func(x *ingestion, ps []wire.Property) error {
		p := last(ps)
		*slot(&x.dates) = &p
		return nil
	}
}

// Shared helpers.

func one(name, value string) []wire.Property {
	if value == "" {
		return nil
	}
	return []wire.Property{wire.NewProperty(name, value)}
}

func last(ps []wire.Property) wire.Property {
	if len(ps) == 0 {
		return wire.Property{Params: wire.Params{}}
	}
	if len(ps) > 1 {
		appLog.Debug("translate: repeated single-valued property, keeping last", "property", ps[0].Name)
	}
	return ps[len(ps)-1]
}

// defaulted maps the RFC default of a property to the empty value so only
// non-default values are kept and written.
func defaulted(v, def string) string {
	if v == def {
		return ""
	}
	return v
}

func dateProp(name string, d caltime.DateTime) wire.Property {
	p := wire.NewProperty(name, d.String())
	if d.DateOnly {
		p.Params.Set("VALUE", wire.TypeDate)
	} else if d.TZID != "" {
		p.Params.Set("TZID", d.TZID)
	}
	return p
}

// dateListProps groups values sharing a form and zone into one property.
func dateListProps(name string, ds []caltime.DateTime) []wire.Property {
	var out []wire.Property
	index := map[string]int{}
	for _, d := range ds {
		key := d.ValueType() + "/" + d.TZID
		i, ok := index[key]
		if !ok {
			p := dateProp(name, d)
			p.Values = nil
			out = append(out, p)
			i = len(out) - 1
			index[key] = i
		}
		out[i].Values = append(out[i].Values, d.String())
	}
	return out
}

func emitRDates(ev *model.Event) []wire.Property {
	var dates []caltime.DateTime
	var periods []caltime.Period
	for _, rd := range ev.RDates {
		if rd.Period != nil {
			periods = append(periods, *rd.Period)
		} else {
			dates = append(dates, rd.At)
		}
	}
	out := dateListProps("RDATE", dates)
	index := map[string]int{}
	for _, per := range periods {
		i, ok := index[per.Start.TZID]
		if !ok {
			p := wire.Property{Name: "RDATE", Params: wire.Params{}}
			p.Params.Set("VALUE", wire.TypePeriod)
			p.Params.Set("TZID", per.Start.TZID)
			out = append(out, p)
			i = len(out) - 1
			index[per.Start.TZID] = i
		}
		out[i].Values = append(out[i].Values, per.String())
	}
	return out
}

func ingestRDates(x *ingestion, ps []wire.Property) error {
	for _, p := range ps {
		if strings.EqualFold(p.Param("VALUE"), wire.TypePeriod) {
			loc, err := x.location(p)
			if err != nil {
				return err
			}
			for _, v := range p.Values {
				per, err := caltime.ParsePeriod(v, p.Param("TZID"), loc)
				if err != nil {
					return x.malformed(p, "%v", err)
				}
				x.ev.RDates = append(x.ev.RDates, model.RDate{Period: &per})
			}
			continue
		}
		ds, err := x.parseDateList(p)
		if err != nil {
			return err
		}
		for _, d := range ds {
			x.ev.RDates = append(x.ev.RDates, model.RDate{At: d})
		}
	}
	return nil
}

func ingestFreeBusy(x *ingestion, ps []wire.Property) error {
	for _, p := range ps {
		fb := model.FreeBusy{Type: defaulted(strings.ToUpper(p.Param("FBTYPE")), "BUSY")}
		for _, v := range p.Values {
			per, err := caltime.ParsePeriod(v, "", nil)
			if err != nil {
				return x.malformed(p, "%v", err)
			}
			fb.Periods = append(fb.Periods, per)
		}
		x.ev.FreeBusy = append(x.ev.FreeBusy, fb)
	}
	return nil
}

func refProperty(name string, r model.Ref) wire.Property {
	p := wire.NewProperty(name, r.Value)
	p.Params.Set("LANGUAGE", r.Language)
	p.Params.Set("ALTREP", r.AltRep)
	return p
}

// collectRefs reads standard and reserved spellings of a reference
// property, merging them by value. The reserved spelling carries an id.
func collectRefs(ps []wire.Property, standard string) []model.Ref {
	var out []model.Ref
	pos := map[string]int{}
	add := func(r model.Ref) {
		if r.Value == "" {
			return
		}
		if i, ok := pos[r.Value]; ok {
			if out[i].ID == "" {
				out[i].ID = r.ID
			}
			return
		}
		pos[r.Value] = len(out)
		out = append(out, r)
	}
	for _, p := range ps {
		if p.Name == standard {
			for _, v := range p.Values {
				add(model.Ref{Value: strings.TrimSpace(v), Language: p.Param("LANGUAGE"), AltRep: p.Param("ALTREP")})
			}
			continue
		}
		add(model.Ref{ID: p.Param(refParam), Value: strings.TrimSpace(p.Value()), Language: p.Param("LANGUAGE")})
	}
	return out
}

func ingestLocation(x *ingestion, ps []wire.Property) error {
	refs := collectRefs(ps, "LOCATION")
	if len(refs) == 0 {
		return nil
	}
	r, err := x.collab.FindOrCreateLocation(x.ctx, refs[len(refs)-1])
	if err != nil {
		return x.collaboratorFailure("LOCATION", err)
	}
	x.ev.Location = &r
	return nil
}

func ingestCategories(x *ingestion, ps []wire.Property) error {
	for _, ref := range collectRefs(ps, "CATEGORIES") {
		r, err := x.collab.FindOrCreateCategory(x.ctx, ref)
		if err != nil {
			return x.collaboratorFailure("CATEGORIES", err)
		}
		x.ev.Categories = append(x.ev.Categories, r)
	}
	return nil
}

func emitCategories(ev *model.Event) []wire.Property {
	var out []wire.Property
	index := map[string]int{}
	for _, c := range ev.Categories {
		i, ok := index[c.Language]
		if !ok {
			p := wire.Property{Name: "CATEGORIES", Params: wire.Params{}}
			p.Params.Set("LANGUAGE", c.Language)
			out = append(out, p)
			i = len(out) - 1
			index[c.Language] = i
		}
		out[i].Values = append(out[i].Values, c.Value)
	}
	return out
}

func ingestContacts(x *ingestion, ps []wire.Property) error {
	for _, ref := range collectRefs(ps, "CONTACT") {
		r, err := x.collab.FindOrCreateContact(x.ctx, ref)
		if err != nil {
			return x.collaboratorFailure("CONTACT", err)
		}
		x.ev.Contacts = append(x.ev.Contacts, r)
	}
	return nil
}

func ingestAttendees(x *ingestion, ps []wire.Property) error {
	if len(ps) > 0 && x.batch.Method == "PUBLISH" {
		switch x.collab.Strictness() {
		case Strict:
			return errs.New(errs.KindPolicyViolation, "ATTENDEE is not allowed with METHOD:PUBLISH").At(x.comp.Name, "ATTENDEE", x.uid)
		case Warn:
			appLog.Warn("translate: ATTENDEE under METHOD:PUBLISH", "uid", x.uid)
		}
	}

	incoming := make([]model.Attendee, 0, len(ps))
	for _, p := range ps {
		a := props.Attendee(p)
		a.Address = x.collab.NormalizeAddress(a.Address)
		incoming = append(incoming, a)
	}

	if !x.mergeAttendeesOnly || x.target == nil {
		if len(incoming) > 0 {
			x.ev.Attendees = incoming
		}
		return nil
	}
	self := x.collab.NormalizeAddress(x.collab.CurrentPrincipal())
	x.ev.Attendees = mergeAttendees(x.target.Attendees, incoming, self)
	return nil
}

// mergeAttendees keeps every current attendee except self, which is taken
// from incoming when present. Unknown incoming attendees are added with a
// NEEDS-ACTION participation status.
func mergeAttendees(current, incoming []model.Attendee, self string) []model.Attendee {
	byAddr := make(map[string]model.Attendee, len(incoming))
	for _, a := range incoming {
		byAddr[a.Address] = a
	}
	var out []model.Attendee
	seen := map[string]bool{}
	for _, a := range current {
		seen[a.Address] = true
		if a.Address == self {
			if in, ok := byAddr[self]; ok {
				out = append(out, in.Clone())
				continue
			}
		}
		out = append(out, a.Clone())
	}
	for _, a := range incoming {
		if seen[a.Address] {
			continue
		}
		seen[a.Address] = true
		if a.Address != self {
			a.PartStat = "NEEDS-ACTION"
		}
		out = append(out, a.Clone())
	}
	return out
}

func ingestAlarms(x *ingestion, cs []*wire.Component) error {
	for _, c := range cs {
		a, err := alarm.FromComponent(c)
		if err != nil {
			return errs.Locate(err, "VALARM", "", x.uid)
		}
		if a == nil {
			continue
		}
		if !hasAlarmUID(c) && x.target != nil {
			// Keep the id minted for the same alarm last time.
			key := alarmKey(a)
			for _, old := range x.target.Alarms {
				if alarmKey(&old) == key {
					a.UID = old.UID
					break
				}
			}
		}
		x.ev.Alarms = append(x.ev.Alarms, *a)
	}
	return nil
}

func hasAlarmUID(c *wire.Component) bool {
	if _, ok := c.Get("UID"); ok {
		return true
	}
	_, ok := c.Get("X-WR-ALARMUID")
	return ok
}

func alarmKey(a *model.Alarm) string {
	cp := *a
	cp.UID = ""
	return canonicalComponent(alarm.ToComponent(&cp))
}

func (x *ingestion) collaboratorFailure(prop string, err error) error {
	return errs.Locate(errs.Wrap(errs.KindCollaboratorFailure, err, "find or create %s", strings.ToLower(prop)), x.comp.Name, prop, x.uid)
}

func (x *ingestion) malformed(p wire.Property, format string, args ...interface{}) error {
	return errs.New(errs.KindMalformedInput, "%s", fmt.Sprintf(format, args...)).At(x.comp.Name, p.Name, x.uid)
}
