package tz

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"calcore/internal/caltime"
	"calcore/internal/errs"
	"calcore/internal/wire"
)

// horizonYear bounds onsets generated from open-ended observance rules.
const horizonYear = 2200

const layoutLocal = "20060102T150405"

type observance struct {
	dst        bool
	name       string
	offsetFrom int
	offsetTo   int
	onsets     []int64
}

func definitionID(raw string) (string, error) {
	c, err := wire.DecodeTextFragment(raw)
	if err != nil {
		return "", errs.Wrap(errs.KindMalformedInput, err, "vtimezone")
	}
	if c.Name != "VTIMEZONE" {
		return "", errs.New(errs.KindMalformedInput, "expected VTIMEZONE, got %s", c.Name)
	}
	p, ok := c.Get("TZID")
	if !ok || strings.TrimSpace(p.Value()) == "" {
		return "", errs.New(errs.KindMissingRequiredField, "vtimezone without TZID").At("VTIMEZONE", "TZID", "")
	}
	return strings.TrimSpace(p.Value()), nil
}

// ParseDefinition builds a location from a standalone VTIMEZONE block.
func ParseDefinition(raw string) (*Info, error) {
	c, err := wire.DecodeTextFragment(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, err, "vtimezone")
	}
	return FromComponent(c, raw)
}

// FromComponent builds a location from a decoded VTIMEZONE.
func FromComponent(c *wire.Component, raw string) (*Info, error) {
	if c.Name != "VTIMEZONE" {
		return nil, errs.New(errs.KindMalformedInput, "expected VTIMEZONE, got %s", c.Name)
	}
	idProp, ok := c.Get("TZID")
	if !ok || strings.TrimSpace(idProp.Value()) == "" {
		return nil, errs.New(errs.KindMissingRequiredField, "vtimezone without TZID").At("VTIMEZONE", "TZID", "")
	}
	id := strings.TrimSpace(idProp.Value())

	var obs []observance
	for _, sub := range c.Components {
		if sub.Name != "STANDARD" && sub.Name != "DAYLIGHT" {
			continue
		}
		o, err := parseObservance(sub)
		if err != nil {
			return nil, errs.Locate(err, sub.Name, "", "")
		}
		obs = append(obs, o)
	}
	if len(obs) == 0 {
		return nil, errs.New(errs.KindMalformedInput, "vtimezone %q has no observances", id)
	}

	loc, err := compile(id, obs)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, err, "vtimezone %q", id)
	}
	if raw == "" {
		raw, _ = wire.EncodeComponentText(c)
	}
	return &Info{ID: id, Location: loc, Raw: raw, Embedded: true}, nil
}

func parseObservance(c *wire.Component) (observance, error) {
	o := observance{dst: c.Name == "DAYLIGHT"}

	to, ok := c.Get("TZOFFSETTO")
	if !ok {
		return o, errs.New(errs.KindMissingRequiredField, "observance without TZOFFSETTO").At(c.Name, "TZOFFSETTO", "")
	}
	var err error
	if o.offsetTo, err = caltime.ParseUTCOffset(to.Value()); err != nil {
		return o, errs.Wrap(errs.KindMalformedInput, err, "TZOFFSETTO")
	}
	o.offsetFrom = o.offsetTo
	if from, ok := c.Get("TZOFFSETFROM"); ok {
		if o.offsetFrom, err = caltime.ParseUTCOffset(from.Value()); err != nil {
			return o, errs.Wrap(errs.KindMalformedInput, err, "TZOFFSETFROM")
		}
	}
	if name, ok := c.Get("TZNAME"); ok {
		o.name = name.Value()
	}
	if o.name == "" {
		o.name = caltime.FormatUTCOffset(o.offsetTo)
	}

	startProp, ok := c.Get("DTSTART")
	if !ok {
		return o, errs.New(errs.KindMissingRequiredField, "observance without DTSTART").At(c.Name, "DTSTART", "")
	}
	start, err := caltime.Parse(startProp.Value(), "", nil)
	if err != nil {
		return o, errs.Wrap(errs.KindMalformedInput, err, "DTSTART")
	}
	// Observance times are local wall clock in the "from" offset.
	wall := time.Date(start.Time.Year(), start.Time.Month(), start.Time.Day(),
		start.Time.Hour(), start.Time.Minute(), start.Time.Second(), 0, time.UTC)
	shift := time.Duration(o.offsetFrom) * time.Second
	onset := func(w time.Time) int64 { return w.Add(-shift).Unix() }
	o.onsets = append(o.onsets, onset(wall))

	for _, rp := range c.All("RRULE") {
		walls, err := ruleOnsets(rp.Value(), wall, shift)
		if err != nil {
			return o, err
		}
		for _, w := range walls {
			o.onsets = append(o.onsets, onset(w))
		}
	}
	for _, rp := range c.All("RDATE") {
		for _, v := range rp.Values {
			if rp.Type() == wire.TypePeriod {
				v, _, _ = strings.Cut(v, "/")
			}
			d, err := caltime.Parse(v, "", nil)
			if err != nil {
				return o, errs.Wrap(errs.KindMalformedInput, err, "RDATE")
			}
			o.onsets = append(o.onsets, onset(d.Time))
		}
	}
	return o, nil
}

// ruleOnsets expands an observance RRULE in the wall-clock domain. A UTC
// UNTIL is shifted into the same domain before expansion.
func ruleOnsets(rule string, wall time.Time, shift time.Duration) ([]time.Time, error) {
	rule = strings.ToUpper(strings.TrimSpace(rule))
	opt, err := rrule.StrToROptionInLocation(rule, time.UTC)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, err, "RRULE %q", rule)
	}
	if !opt.Until.IsZero() && untilIsUTC(rule) {
		opt.Until = opt.Until.Add(shift)
	}
	opt.Dtstart = wall
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, err, "RRULE %q", rule)
	}
	horizon := time.Date(horizonYear, 1, 1, 0, 0, 0, 0, time.UTC)
	return r.Between(wall, horizon, true), nil
}

func untilIsUTC(rule string) bool {
	for _, part := range strings.Split(rule, ";") {
		if v, ok := strings.CutPrefix(part, "UNTIL="); ok {
			return strings.HasSuffix(v, "Z")
		}
	}
	return false
}

func compile(id string, obs []observance) (*time.Location, error) {
	type onset struct {
		at  int64
		obs int
	}
	var all []onset
	for i, o := range obs {
		for _, at := range o.onsets {
			all = append(all, onset{at: at, obs: i})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at < all[j].at })

	first := obs[all[0].obs]
	initial := zoneType{offset: first.offsetFrom, name: caltime.FormatUTCOffset(first.offsetFrom)}
	for _, o := range obs {
		if !o.dst && o.offsetTo == first.offsetFrom {
			initial.name = o.name
			break
		}
	}

	zones := []zoneType{initial}
	obsZone := make([]int, len(obs))
	for i, o := range obs {
		obsZone[i] = len(zones)
		zones = append(zones, zoneType{offset: o.offsetTo, isDST: o.dst, name: o.name})
	}

	trans := make([]transition, 0, len(all))
	for i, on := range all {
		if i > 0 && on.at == all[i-1].at {
			continue
		}
		trans = append(trans, transition{at: on.at, zone: obsZone[on.obs]})
	}
	return loadTZif(id, zones, trans)
}

// BuildDefinition renders a system zone as a VTIMEZONE covering
// [from, to]. Each distinct observance gets one sub-component whose first
// onset is DTSTART and whose later onsets are RDATEs.
func BuildDefinition(id string, loc *time.Location, from, to time.Time) *wire.Component {
	c := wire.NewComponent("VTIMEZONE")
	c.AddValue("TZID", id)

	type key struct {
		dst      bool
		name     string
		from, to int
	}
	type group struct {
		key    key
		onsets []string
	}
	var groups []*group
	byKey := make(map[key]*group)

	add := func(k key, wallFrom time.Time) {
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.onsets = append(g.onsets, wallFrom.Format(layoutLocal))
	}

	t := from.In(loc)
	name, offset := t.Zone()
	for t.Before(to) {
		_, end := t.ZoneBounds()
		if end.IsZero() || !end.Before(to) {
			break
		}
		next := end.In(loc)
		newName, newOffset := next.Zone()
		wall := end.UTC().Add(time.Duration(offset) * time.Second)
		add(key{dst: next.IsDST(), name: newName, from: offset, to: newOffset}, wall)
		name, offset = newName, newOffset
		t = next
	}
	if len(groups) == 0 {
		start := from.In(loc)
		_, off := start.Zone()
		wall := start.UTC().Add(time.Duration(off) * time.Second)
		add(key{dst: start.IsDST(), name: name, from: off, to: off}, wall)
	}

	for _, g := range groups {
		compName := "STANDARD"
		if g.key.dst {
			compName = "DAYLIGHT"
		}
		sub := wire.NewComponent(compName)
		sub.AddValue("DTSTART", g.onsets[0])
		sub.AddValue("TZOFFSETFROM", caltime.FormatUTCOffset(g.key.from))
		sub.AddValue("TZOFFSETTO", caltime.FormatUTCOffset(g.key.to))
		if g.key.name != "" {
			sub.AddValue("TZNAME", g.key.name)
		}
		if len(g.onsets) > 1 {
			sub.Add(wire.Property{Name: "RDATE", Params: wire.Params{}, Values: g.onsets[1:]})
		}
		c.Components = append(c.Components, sub)
	}
	return c
}

// String is a short description used in logs.
func (i *Info) String() string {
	if i == nil {
		return "<nil>"
	}
	src := "system"
	switch {
	case i.Fallback:
		src = "fallback"
	case i.Embedded:
		src = "embedded"
	}
	return fmt.Sprintf("%s (%s)", i.ID, src)
}
