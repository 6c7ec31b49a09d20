package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"calcore/internal/caltime"
	"calcore/internal/changes"
	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/props"
	"calcore/internal/wire"
)

// ingestion is the state of one component being staged onto an event.
type ingestion struct {
	t      *Translator
	ctx    context.Context
	collab Collaborators
	batch  *Batch
	comp   *wire.Component
	kind   model.Kind
	uid    string

	// target is the event being updated, nil for a new one.
	target *model.Event
	// ev is built fresh from comp; identity is copied from target.
	ev *model.Event

	mergeAttendeesOnly bool
	dates              dateInputs
	extensions         bool
	present            map[changes.Index]bool
}

type dateInputs struct {
	start, end, duration *wire.Property
}

func (t *Translator) newIngestion(ctx context.Context, collab Collaborators, batch *Batch, comp *wire.Component, kind model.Kind, uid string, target *model.Event) *ingestion {
	ev := &model.Event{Kind: kind, UID: uid, ForceUTC: t.opts.ForceUTC}
	if target != nil {
		ev.Suppressed = target.Suppressed
	}
	return &ingestion{
		t:       t,
		ctx:     ctx,
		collab:  collab,
		batch:   batch,
		comp:    comp,
		kind:    kind,
		uid:     uid,
		target:  target,
		ev:      ev,
		present: make(map[changes.Index]bool),
	}
}

// run stages every property and sub-component of the component onto x.ev.
func (x *ingestion) run() error {
	if err := x.preloadZones(); err != nil {
		return err
	}

	byHandler := make(map[*handler][]wire.Property)
	for _, p := range x.comp.Props {
		name := strings.ToUpper(p.Name)
		h := handlerFor(name)
		if h == nil {
			appLog.Debug("translate: skipping unknown property", "component", x.comp.Name, "property", name, "uid", x.uid)
			continue
		}
		if !strings.HasPrefix(name, changes.ReservedPrefix) && props.HasExtensionParams(p) {
			x.extensions = true
		}
		if h.identity {
			x.present[h.index] = true
			continue
		}
		if !h.applies(x.kind) {
			appLog.Debug("translate: property not valid here, skipping", "component", x.comp.Name, "property", name, "uid", x.uid)
			continue
		}
		x.present[h.index] = true
		byHandler[h] = append(byHandler[h], p)
	}

	bySub := make(map[*handler][]*wire.Component)
	for _, c := range x.comp.Components {
		h, ok := handlerBySub[strings.ToUpper(c.Name)]
		if !ok {
			continue
		}
		for _, p := range c.Props {
			if props.HasExtensionParams(p) {
				x.extensions = true
			}
		}
		if !h.applies(x.kind) {
			appLog.Debug("translate: sub-component not valid here, skipping", "component", x.comp.Name, "sub", c.Name, "uid", x.uid)
			continue
		}
		x.present[h.index] = true
		bySub[h] = append(bySub[h], c)
	}

	for _, h := range handlers {
		if ps, ok := byHandler[h]; ok || (h.always && h.ingest != nil) {
			if err := h.ingest(x, ps); err != nil {
				return err
			}
		}
		if cs, ok := bySub[h]; ok {
			if err := h.ingestSub(x, cs); err != nil {
				return err
			}
		}
	}

	if err := x.resolveDates(); err != nil {
		return err
	}
	x.defaultStamps()
	x.ev.Recurring = x.ev.HasRecurrence()
	return x.snapshot()
}

// preloadZones reads the reserved in-band timezone properties so date
// values can resolve against them.
func (x *ingestion) preloadZones() error {
	for _, p := range x.comp.All(changes.IndexTimezone.String()) {
		raw := p.Value()
		id, err := x.t.resolver.Register(raw)
		if err != nil {
			return errs.Locate(errs.Wrap(errs.KindMalformedInput, err, "timezone definition"), x.comp.Name, p.Name, x.uid)
		}
		if x.ev.TimeZones == nil {
			x.ev.TimeZones = make(map[string]string)
		}
		x.ev.TimeZones[id] = raw
	}
	return nil
}

// location resolves the TZID parameter of p. Zones the system registry
// cannot load are captured on the event so it stays self-contained.
func (x *ingestion) location(p wire.Property) (*time.Location, error) {
	tzid := p.Param("TZID")
	if tzid == "" {
		return nil, nil
	}
	info, err := x.t.resolver.ResolveEmbedded(tzid, x.ev.TimeZones[tzid], x.ev.ForceUTC)
	if err != nil {
		return nil, errs.Locate(err, x.comp.Name, p.Name, x.uid)
	}
	if !info.Fallback && !x.t.resolver.SystemKnows(tzid) {
		if raw, ok := x.t.resolver.Definition(tzid); ok {
			if x.ev.TimeZones == nil {
				x.ev.TimeZones = make(map[string]string)
			}
			x.ev.TimeZones[tzid] = raw
		}
	}
	return info.Location, nil
}

func (x *ingestion) parseDate(p wire.Property) (caltime.DateTime, error) {
	loc, err := x.location(p)
	if err != nil {
		return caltime.DateTime{}, err
	}
	d, err := caltime.Parse(p.Value(), p.Param("TZID"), loc)
	if err != nil {
		return caltime.DateTime{}, x.malformed(p, "%v", err)
	}
	return d, nil
}

func (x *ingestion) parseDateList(p wire.Property) ([]caltime.DateTime, error) {
	loc, err := x.location(p)
	if err != nil {
		return nil, err
	}
	out := make([]caltime.DateTime, 0, len(p.Values))
	for _, v := range p.Values {
		d, err := caltime.Parse(v, p.Param("TZID"), loc)
		if err != nil {
			return nil, x.malformed(p, "%v", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (x *ingestion) parseInt(p wire.Property) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(p.Value()))
	if err != nil {
		return 0, x.malformed(p, "integer %q", p.Value())
	}
	return n, nil
}

// resolveDates settles start, end and duration. FREEBUSY may carry both an
// end and a duration; the duration is ignored there.
func (x *ingestion) resolveDates() error {
	ev := x.ev
	var (
		start, end caltime.DateTime
		dur        caltime.Duration
		err        error
	)
	if x.dates.end != nil {
		if end, err = x.parseDate(*x.dates.end); err != nil {
			return err
		}
	}
	if x.dates.duration != nil {
		p := *x.dates.duration
		if dur, err = caltime.ParseDuration(strings.TrimSpace(p.Value())); err != nil {
			return x.malformed(p, "%v", err)
		}
		if dur.Negative {
			return x.malformed(p, "negative duration %s", p.Value())
		}
	}
	if x.dates.end != nil && x.dates.duration != nil {
		if x.kind != model.KindFreeBusy {
			return errs.New(errs.KindPolicyViolation, "both %s and DURATION are set", x.dates.end.Name).At(x.comp.Name, "DURATION", x.uid)
		}
		appLog.Debug("translate: ignoring DURATION alongside DTEND", "uid", x.uid)
		x.dates.duration = nil
	}

	if x.dates.start == nil {
		if !x.kind.AllowsNoStart() {
			return errs.New(errs.KindMissingRequiredField, "DTSTART is required").At(x.comp.Name, "DTSTART", x.uid)
		}
		ev.NoStart = true
		if x.target != nil && x.target.NoStart {
			ev.Start = x.target.Start
		} else {
			ev.Start = caltime.UTC(x.t.now().Truncate(time.Second))
		}
		switch {
		case x.dates.end != nil:
			ev.End, ev.EndType = end, model.EndDate
		case x.dates.duration != nil:
			ev.Duration, ev.EndType = &dur, model.EndDuration
		default:
			ev.End, ev.EndType = ev.Start.AddDate(10, 0, 0), model.EndNone
		}
		return nil
	}

	if start, err = x.parseDate(*x.dates.start); err != nil {
		return err
	}
	ev.Start = start
	switch {
	case x.dates.end != nil:
		if end.Before(start) {
			return x.malformed(*x.dates.end, "%s is before DTSTART", x.dates.end.Name)
		}
		ev.End, ev.EndType = end, model.EndDate
	case x.dates.duration != nil:
		ev.Duration, ev.EndType = &dur, model.EndDuration
	default:
		ev.EndType = model.EndNone
		ev.End = start
		if start.DateOnly {
			ev.End = start.AddDate(0, 0, 1)
		}
	}
	return nil
}

// defaultStamps fills absent CREATED, LAST-MODIFIED and DTSTAMP. These
// three are never removed by omission.
func (x *ingestion) defaultStamps() {
	ev := x.ev
	if x.target != nil {
		if ev.Created.IsZero() {
			ev.Created = x.target.Created
		}
		if ev.LastModified.IsZero() {
			ev.LastModified = x.target.LastModified
		}
		if ev.DtStamp.IsZero() {
			ev.DtStamp = x.target.DtStamp
		}
	}
	if ev.Created.IsZero() {
		ev.Created = ev.LastModified
	}
	if ev.Created.IsZero() {
		ev.Created = caltime.UTC(x.t.now().Truncate(time.Second))
	}
	if ev.LastModified.IsZero() {
		ev.LastModified = ev.Created
	}
}

// snapshot keeps a textual copy of components carrying extension
// parameters. Large values are replaced by their digest.
func (x *ingestion) snapshot() error {
	if !x.extensions || !x.t.opts.SnapshotExtensions {
		return nil
	}
	c := &wire.Component{Name: x.comp.Name}
	for _, p := range x.comp.Props {
		if strings.HasPrefix(strings.ToUpper(p.Name), changes.ReservedPrefix) {
			continue
		}
		if p.Name == "DESCRIPTION" || p.Name == "ATTACH" {
			p = wire.Property{Name: p.Name, Params: p.Params.Clone(), Values: []string{"sha256:" + digest(strings.Join(p.Values, ","))}}
			p.Params.Set("VALUE", "")
			p.Params.Set("ENCODING", "")
		}
		c.Add(p)
	}
	c.Components = x.comp.Components
	text, err := wire.EncodeComponentText(c)
	if err != nil {
		return errs.Wrap(errs.KindMalformedInput, err, "snapshot %s", x.uid)
	}
	x.ev.Snapshot = text
	return nil
}

// diff records every row's old and new canonical values.
func (x *ingestion) diff() *changes.Set {
	b := changes.NewBuilder(x.collab.CurrentPrincipal())
	for _, h := range handlers {
		if x.present[h.index] {
			b.MarkPresent(h.index)
		}
		b.Record(h.index, rowValues(h, x.target), rowValues(h, x.ev))
	}
	return b.Build()
}

func rowValues(h *handler, ev *model.Event) []string {
	if ev == nil {
		return nil
	}
	var out []string
	if h.emit != nil {
		for _, p := range h.emit(ev) {
			out = append(out, canonical(p))
		}
	}
	if h.emitSub != nil {
		for _, c := range h.emitSub(ev) {
			out = append(out, canonicalComponent(c))
		}
	}
	return out
}

// canonical renders a property as name, sorted parameters and values.
func canonical(p wire.Property) string {
	var b strings.Builder
	b.WriteString(p.Name)
	for _, k := range p.Params.Keys() {
		vs := p.Params[k]
		b.WriteString(";" + k + "=" + strings.Join(vs, ","))
	}
	b.WriteString(":" + strings.Join(p.Values, ","))
	return b.String()
}

func canonicalComponent(c *wire.Component) string {
	lines := make([]string, 0, len(c.Props)+2)
	lines = append(lines, "BEGIN:"+c.Name)
	for _, p := range c.Props {
		lines = append(lines, canonical(p))
	}
	for _, sub := range c.Components {
		lines = append(lines, canonicalComponent(sub))
	}
	lines = append(lines, "END:"+c.Name)
	return strings.Join(lines, "\n")
}

// contained stages the AVAILABLE slots of an availability or the items of
// a poll. Each is matched to the previous item with the same uid.
func (x *ingestion) contained(prev []*model.EventInfo) ([]*model.EventInfo, error) {
	var allowed []model.Kind
	switch x.kind {
	case model.KindAvailability:
		allowed = []model.Kind{model.KindAvailableSlot}
	case model.KindPoll:
		allowed = []model.Kind{model.KindEvent, model.KindTodo, model.KindJournal}
	default:
		return nil, nil
	}
	old := make(map[string]*model.EventInfo, len(prev))
	for _, p := range prev {
		old[p.Event.UID] = p
	}

	var out []*model.EventInfo
	for _, c := range x.comp.Components {
		kind, ok := model.KindFromComponent(c.Name)
		if !ok || !slices.Contains(allowed, kind) {
			continue
		}
		uid := strings.TrimSpace(propValue(c, "UID"))
		if uid == "" {
			return nil, errs.New(errs.KindMissingRequiredField, "UID is required").At(c.Name, "UID", x.uid)
		}
		var target *model.Event
		if p, ok := old[uid]; ok {
			target = p.Event
		}
		child := x.t.newIngestion(x.ctx, x.collab, x.batch, c, kind, uid, target)
		child.ev.TimeZones = maps.Clone(x.ev.TimeZones)
		if err := child.run(); err != nil {
			return nil, err
		}
		info := model.NewEventInfo(child.ev)
		info.New = target == nil
		info.Changes = child.diff()
		out = append(out, info)
	}
	return out, nil
}

func propValue(c *wire.Component, name string) string {
	p, ok := c.Get(name)
	if !ok {
		return ""
	}
	return p.Value()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
