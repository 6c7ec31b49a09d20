package translate

import (
	"context"
	"strings"
	"time"

	"calcore/internal/caltime"
	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/model"
	"calcore/internal/recur"
	"calcore/internal/tz"
	"calcore/internal/wire"
)

// Options tune a Translator.
type Options struct {
	// SnapshotExtensions keeps a textual copy of components that carry
	// non-standard parameters.
	SnapshotExtensions bool
	// ForceUTC replaces unresolvable zones with UTC instead of failing.
	ForceUTC bool
	// Now is the clock used for synthesized stamps and starts.
	Now func() time.Time
	// Metrics records ingest outcomes; nil disables recording.
	Metrics *metrics.Metrics
}

// Translator maps components onto the event graph. A Translator holds one
// timezone resolver and may be shared by concurrent calls.
type Translator struct {
	resolver *tz.Resolver
	opts     Options
}

// New creates a Translator. A nil resolver gets a fresh one.
func New(resolver *tz.Resolver, opts Options) *Translator {
	if resolver == nil {
		resolver = tz.NewResolver(tz.WithForceUTC(opts.ForceUTC))
	}
	return &Translator{resolver: resolver, opts: opts}
}

// Resolver exposes the timezone resolver shared with the emitter.
func (t *Translator) Resolver() *tz.Resolver { return t.resolver }

func (t *Translator) now() time.Time {
	if t.opts.Now != nil {
		return t.opts.Now().UTC()
	}
	return time.Now().UTC()
}

// IngestOptions select how components are applied to existing state.
type IngestOptions struct {
	// DiffMode looks persisted events up by uid and updates them.
	DiffMode bool
	// MergeAttendeesOnly keeps the stored attendee list and only replaces
	// the acting principal's own entry.
	MergeAttendeesOnly bool
}

// ToEvent translates one component. It returns the master the caller has
// not seen yet, or nil when the component only updated a master already
// returned for this batch.
func (t *Translator) ToEvent(ctx context.Context, collab Collaborators, coll Collection, batch *Batch, comp *wire.Component, opts IngestOptions) (*model.EventInfo, error) {
	info, err := t.toEvent(ctx, collab, coll, batch, comp, opts)
	if err != nil {
		t.opts.Metrics.RecordIngestFailure(ctx, errs.KindOf(err).String())
		return nil, err
	}
	t.opts.Metrics.RecordIngest(ctx, strings.ToLower(comp.Name))
	return info, nil
}

func (t *Translator) toEvent(ctx context.Context, collab Collaborators, coll Collection, batch *Batch, comp *wire.Component, opts IngestOptions) (*model.EventInfo, error) {
	kind, ok := model.KindFromComponent(comp.Name)
	if !ok {
		return nil, errs.New(errs.KindMalformedInput, "unsupported component %s", comp.Name).At(comp.Name, "", "")
	}
	if len(comp.Props) == 0 {
		return nil, errs.New(errs.KindMalformedInput, "empty component").At(comp.Name, "", "")
	}
	uid := strings.TrimSpace(propValue(comp, "UID"))
	if uid == "" {
		return nil, errs.New(errs.KindMissingRequiredField, "UID is required").At(comp.Name, "UID", "")
	}

	if p, ok := comp.Get("RECURRENCE-ID"); ok {
		return t.override(ctx, collab, batch, comp, kind, uid, p, opts)
	}
	return t.master(ctx, collab, coll, batch, comp, kind, uid, opts)
}

func (t *Translator) master(ctx context.Context, collab Collaborators, coll Collection, batch *Batch, comp *wire.Component, kind model.Kind, uid string, opts IngestOptions) (*model.EventInfo, error) {
	info, seen := batch.Masters[uid]
	if !seen && opts.DiffMode && !coll.scheduling() {
		found, err := t.lookup(ctx, collab, comp.Name, uid)
		if err != nil {
			return nil, err
		}
		info = found
	}
	if info != nil && info.Event.Kind != kind {
		return nil, mismatch(comp.Name, uid, info.Event.Kind)
	}

	var target *model.Event
	if info != nil {
		target = info.Event
	}
	x := t.newIngestion(ctx, collab, batch, comp, kind, uid, target)
	x.mergeAttendeesOnly = opts.MergeAttendeesOnly
	if target != nil && batch.Method != "CANCEL" {
		x.ev.Suppressed = false
	}
	if err := x.run(); err != nil {
		return nil, err
	}
	var prevContained []*model.EventInfo
	if info != nil {
		prevContained = info.Contained
	}
	contained, err := x.contained(prevContained)
	if err != nil {
		return nil, err
	}

	set := x.diff()
	switch {
	case info == nil:
		info = model.NewEventInfo(x.ev)
		info.New = true
	case !seen:
		persisted(info)
		info.Event = x.ev
	default:
		info.Event = x.ev
	}
	info.Contained = contained
	info.Changes = set
	batch.add(info)
	if seen {
		return nil, nil
	}
	return info, nil
}

func (t *Translator) override(ctx context.Context, collab Collaborators, batch *Batch, comp *wire.Component, kind model.Kind, uid string, ridProp wire.Property, opts IngestOptions) (*model.EventInfo, error) {
	// A scratch ingestion resolves the recurrence-id against the
	// component's own in-band zones.
	scratch := t.newIngestion(ctx, collab, batch, comp, kind, uid, nil)
	if err := scratch.preloadZones(); err != nil {
		return nil, err
	}
	rid, err := scratch.parseDate(ridProp)
	if err != nil {
		return nil, err
	}
	rng := strings.ToUpper(ridProp.Param("RANGE"))
	if rng != "" && rng != "THISANDFUTURE" {
		return nil, scratch.malformed(ridProp, "RANGE %q", rng)
	}

	master, seen := batch.Masters[uid]
	fromStore := false
	if !seen && opts.DiffMode {
		found, err := t.lookup(ctx, collab, comp.Name, uid)
		if err != nil {
			return nil, err
		}
		master, fromStore = found, found != nil
	}
	manufactured := false
	if master == nil {
		appLog.Debug("translate: override without master, manufacturing one", "uid", uid, "rid", rid.String())
		master = model.NewEventInfo(&model.Event{
			Kind:       kind,
			UID:        uid,
			Start:      rid,
			End:        rid,
			EndType:    model.EndNone,
			Suppressed: true,
			RDates:     []model.RDate{{At: rid}},
			Recurring:  true,
			ForceUTC:   t.opts.ForceUTC,
			Created:    caltime.UTC(t.now().Truncate(time.Second)),
		})
		master.Event.LastModified = master.Event.Created
		master.New = true
		manufactured = true
	}
	if master.Event.Kind != kind {
		return nil, mismatch(comp.Name, uid, master.Event.Kind)
	}
	var target *model.Event
	prev, hasPrev := master.Override(rid)
	if hasPrev {
		target = prev.Event
	}
	x := t.newIngestion(ctx, collab, batch, comp, kind, uid, target)
	x.mergeAttendeesOnly = opts.MergeAttendeesOnly
	x.ev.TimeZones = scratch.ev.TimeZones
	x.ev.Suppressed = false
	r := rid
	x.ev.RecurrenceID = &r
	x.ev.RecurrenceRange = rng
	if err := x.run(); err != nil {
		return nil, err
	}
	set := x.diff()

	if fromStore {
		persisted(master)
	}
	if master.Event.Suppressed {
		if !hasRDate(master.Event, rid) {
			master.Event.RDates = append(master.Event.RDates, model.RDate{At: rid})
		}
	} else if !hasPrev {
		t.checkInstance(master.Event, rid)
	}
	if hasPrev {
		prev.Event = x.ev
		prev.Changes = set
	} else {
		ov := model.NewEventInfo(x.ev)
		ov.New = true
		ov.Changes = set
		master.SetOverride(ov)
	}

	batch.add(master)
	if seen {
		return nil, nil
	}
	if manufactured || fromStore {
		return master, nil
	}
	return nil, nil
}

// persisted clears the new flag on a stored master and its overrides.
func persisted(info *model.EventInfo) {
	info.New = false
	for _, o := range info.Overrides {
		o.New = false
	}
}

// checkInstance warns when rid names no instance of master.
func (t *Translator) checkInstance(master *model.Event, rid caltime.DateTime) {
	ok, err := recur.HasInstance(master, rid)
	if err != nil || ok {
		return
	}
	appLog.Warn("translate: recurrence-id matches no instance",
		"uid", master.UID,
		"recurrence_id", rid.String(),
	)
}

// lookup finds the single persisted event with uid.
func (t *Translator) lookup(ctx context.Context, collab Collaborators, comp, uid string) (*model.EventInfo, error) {
	found, err := collab.EventsByUID(ctx, uid)
	if err != nil {
		return nil, errs.Locate(errs.Wrap(errs.KindCollaboratorFailure, err, "events by uid"), comp, "UID", uid)
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, errs.New(errs.KindAmbiguity, "%d events share the uid", len(found)).At(comp, "UID", uid)
	}
}

func mismatch(comp, uid string, have model.Kind) error {
	return errs.New(errs.KindMismatchedType, "uid already used by a %s", have).At(comp, "", uid)
}

func hasRDate(ev *model.Event, d caltime.DateTime) bool {
	key := model.RecurrenceKey(d)
	for _, rd := range ev.RDates {
		if model.RecurrenceKey(rd.Start()) == key {
			return true
		}
	}
	return false
}

// TranslateCalendar registers the calendar's VTIMEZONE blocks and
// translates every other component in one batch.
func (t *Translator) TranslateCalendar(ctx context.Context, collab Collaborators, coll Collection, cal *wire.Calendar, opts IngestOptions) ([]*model.EventInfo, error) {
	batch := NewBatch(cal.Method())
	for _, c := range cal.Components {
		if c.Name != "VTIMEZONE" {
			continue
		}
		raw, err := wire.EncodeComponentText(c)
		if err != nil {
			return nil, errs.Wrap(errs.KindMalformedInput, err, "vtimezone")
		}
		if _, err := t.resolver.Register(raw); err != nil {
			return nil, err
		}
	}
	for _, c := range cal.Components {
		if c.Name == "VTIMEZONE" {
			continue
		}
		if _, ok := model.KindFromComponent(c.Name); !ok {
			appLog.Debug("translate: skipping component", "component", c.Name)
			continue
		}
		if _, err := t.ToEvent(ctx, collab, coll, batch, c, opts); err != nil {
			return nil, err
		}
	}
	return batch.Infos(), nil
}
