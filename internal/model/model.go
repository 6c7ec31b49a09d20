package model

import (
	"maps"
	"slices"
	"sort"
	"time"

	"calcore/internal/caltime"
	"calcore/internal/changes"
)

// Event is one calendar entity: a master, an override, or a contained
// item. Zero values mean "absent" throughout.
type Event struct {
	Kind Kind

	// UID is immutable once set.
	UID             string
	RecurrenceID    *caltime.DateTime
	RecurrenceRange string // THISANDFUTURE or ""

	Start    caltime.DateTime
	End      caltime.DateTime
	Duration *caltime.Duration
	EndType  EndType

	// NoStart marks a synthesized start (kinds that permit no dates).
	NoStart bool
	// ForceUTC makes unresolvable zones fall back to UTC.
	ForceUTC bool
	// Suppressed marks a manufactured master that anchors overrides but
	// is never rendered.
	Suppressed bool
	Recurring  bool

	Sequence        int
	Status          string
	Classification  string
	Transparency    string
	Priority        int
	Summary         Text
	Description     Text
	URL             string
	Created         caltime.DateTime
	LastModified    caltime.DateTime
	DtStamp         caltime.DateTime
	Completed       caltime.DateTime
	PercentComplete *int
	Geo             *Geo

	Organizer *Organizer
	Attendees []Attendee

	Location   *Ref
	Categories []Ref
	Contacts   []Ref
	Comments   []Text
	Resources  []string

	Attachments   []Attachment
	RelatedTo     []Relation
	RequestStatus []string

	Alarms []Alarm
	XProps []XProp

	// Raw rule sets, never evaluated at ingest time.
	RRules  []string
	ExRules []string
	RDates  []RDate
	ExDates []caltime.DateTime

	FreeBusy []FreeBusy
	BusyType string
	Cost     string

	PollMode       string
	PollProperties string
	PollWinner     *int
	PollItemID     *int

	// TimeZones holds verbatim VTIMEZONE text, keyed by TZID, for zones
	// the system registry does not know.
	TimeZones map[string]string
	// Snapshot is the textual form of a component that carried extension
	// parameters, with bulky values replaced by digests.
	Snapshot string
}

// Text is a TEXT value with its common parameters.
type Text struct {
	Value    string
	Language string
	AltRep   string
}

// IsZero reports whether the text is absent.
func (t Text) IsZero() bool { return t.Value == "" }

// Ref is a category, contact or location resolved through the
// collaborator find-or-create contract.
type Ref struct {
	ID       string
	Value    string
	Language string
	AltRep   string
}

// Geo is a GEO position.
type Geo struct {
	Lat float64
	Lon float64
}

// Attendee is a scheduling participant.
type Attendee struct {
	Address        string
	CommonName     string
	Role           string
	PartStat       string
	CUType         string
	RSVP           bool
	DelegatedTo    []string
	DelegatedFrom  []string
	Member         []string
	SentBy         string
	Dir            string
	Language       string
	ScheduleAgent  string
	ScheduleStatus string
	// Params holds parameters not modelled above, verbatim.
	Params map[string][]string
}

// Organizer is the scheduling organizer.
type Organizer struct {
	Address        string
	CommonName     string
	SentBy         string
	Dir            string
	Language       string
	ScheduleStatus string
	Params         map[string][]string
}

// Attachment is either a URI reference or inline base64 content.
type Attachment struct {
	URI     string
	Binary  string
	FmtType string
	Params  map[string][]string
}

// Relation is a RELATED-TO link.
type Relation struct {
	UID     string
	RelType string
}

// XProp is an x-property or unknown property preserved verbatim.
type XProp struct {
	Name   string
	Params map[string][]string
	Value  string
}

// RDate is an extra recurrence date or period.
type RDate struct {
	At     caltime.DateTime
	Period *caltime.Period
}

// Start returns the instance start.
func (r RDate) Start() caltime.DateTime {
	if r.Period != nil {
		return r.Period.Start
	}
	return r.At
}

// FreeBusy is one FREEBUSY property: a type and its periods.
type FreeBusy struct {
	Type    string
	Periods []caltime.Period
}

// Occurrence is one concrete instance produced by recurrence expansion
// with overrides resolved.
type Occurrence struct {
	UID string

	// InstanceKey is the recurrence-id key of the slot.
	InstanceKey string
	Override    bool

	Summary  string
	Location string
	AllDay   bool

	Start time.Time
	End   time.Time
}

// Clone returns a deep copy so edits can be staged and committed as a unit.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.RecurrenceID != nil {
		r := *e.RecurrenceID
		c.RecurrenceID = &r
	}
	if e.Duration != nil {
		d := *e.Duration
		c.Duration = &d
	}
	if e.PercentComplete != nil {
		p := *e.PercentComplete
		c.PercentComplete = &p
	}
	if e.Geo != nil {
		g := *e.Geo
		c.Geo = &g
	}
	if e.Organizer != nil {
		o := *e.Organizer
		o.Params = cloneParams(e.Organizer.Params)
		c.Organizer = &o
	}
	if e.Location != nil {
		l := *e.Location
		c.Location = &l
	}
	if e.PollWinner != nil {
		w := *e.PollWinner
		c.PollWinner = &w
	}
	if e.PollItemID != nil {
		i := *e.PollItemID
		c.PollItemID = &i
	}
	c.Attendees = make([]Attendee, len(e.Attendees))
	for i, a := range e.Attendees {
		c.Attendees[i] = a.Clone()
	}
	if e.Attendees == nil {
		c.Attendees = nil
	}
	c.Categories = slices.Clone(e.Categories)
	c.Contacts = slices.Clone(e.Contacts)
	c.Comments = slices.Clone(e.Comments)
	c.Resources = slices.Clone(e.Resources)
	c.Attachments = slices.Clone(e.Attachments)
	c.RelatedTo = slices.Clone(e.RelatedTo)
	c.RequestStatus = slices.Clone(e.RequestStatus)
	c.Alarms = slices.Clone(e.Alarms)
	c.XProps = slices.Clone(e.XProps)
	c.RRules = slices.Clone(e.RRules)
	c.ExRules = slices.Clone(e.ExRules)
	c.RDates = slices.Clone(e.RDates)
	c.ExDates = slices.Clone(e.ExDates)
	c.FreeBusy = slices.Clone(e.FreeBusy)
	if e.TimeZones != nil {
		c.TimeZones = maps.Clone(e.TimeZones)
	}
	return &c
}

// Clone deep-copies an attendee.
func (a Attendee) Clone() Attendee {
	c := a
	c.DelegatedTo = slices.Clone(a.DelegatedTo)
	c.DelegatedFrom = slices.Clone(a.DelegatedFrom)
	c.Member = slices.Clone(a.Member)
	c.Params = cloneParams(a.Params)
	return c
}

func cloneParams(p map[string][]string) map[string][]string {
	if p == nil {
		return nil
	}
	out := make(map[string][]string, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}

// HasRecurrence reports whether any rule or date set is non-empty.
func (e *Event) HasRecurrence() bool {
	return len(e.RRules) > 0 || len(e.RDates) > 0 || len(e.ExRules) > 0 || len(e.ExDates) > 0
}

// EndTime resolves the effective end of the event's own instance.
func (e *Event) EndTime() time.Time {
	switch e.EndType {
	case EndDuration:
		if e.Duration != nil {
			return e.Duration.AddTo(e.Start.Time)
		}
	case EndDate:
		return e.End.Time
	}
	return e.Start.Time
}

// RecurrenceKey is the map key for an override slot. Zoned values are keyed
// by their UTC instant so the same slot written in different zones matches.
func RecurrenceKey(d caltime.DateTime) string {
	return d.ToUTC().String()
}

// EventInfo owns a master event, its overrides keyed by RecurrenceKey, and
// any contained items (AVAILABLE slots inside VAVAILABILITY, poll items).
type EventInfo struct {
	Event     *Event
	Overrides map[string]*EventInfo
	Contained []*EventInfo
	New       bool
	Changes   *changes.Set
}

// NewEventInfo wraps ev.
func NewEventInfo(ev *Event) *EventInfo {
	return &EventInfo{Event: ev, Overrides: make(map[string]*EventInfo)}
}

// Override returns the override at rid.
func (ei *EventInfo) Override(rid caltime.DateTime) (*EventInfo, bool) {
	o, ok := ei.Overrides[RecurrenceKey(rid)]
	return o, ok
}

// SetOverride stores o in its recurrence-id slot.
func (ei *EventInfo) SetOverride(o *EventInfo) {
	if ei.Overrides == nil {
		ei.Overrides = make(map[string]*EventInfo)
	}
	ei.Overrides[RecurrenceKey(*o.Event.RecurrenceID)] = o
}

// SortedOverrides lists overrides in recurrence-id order.
func (ei *EventInfo) SortedOverrides() []*EventInfo {
	keys := make([]string, 0, len(ei.Overrides))
	for k := range ei.Overrides {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a := ei.Overrides[keys[i]].Event.RecurrenceID.Time
		b := ei.Overrides[keys[j]].Event.RecurrenceID.Time
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	out := make([]*EventInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, ei.Overrides[k])
	}
	return out
}
