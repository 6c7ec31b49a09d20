// Package alarm translates VALARM blocks to and from model.Alarm.
package alarm

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"calcore/internal/caltime"
	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/props"
	"calcore/internal/wire"
)

const (
	componentName = "VALARM"

	propSnooze  = "X-MOZ-SNOOZE-TIME"
	propLastAck = "X-MOZ-LASTACK"
	propAltUID  = "X-WR-ALARMUID"
)

// FromComponent reads a VALARM. A nil alarm with a nil error means the
// alarm was acknowledged and not snoozed, so it is dropped.
func FromComponent(c *wire.Component) (*model.Alarm, error) {
	a := &model.Alarm{}
	var (
		trigger    *wire.Property
		snooze     caltime.DateTime
		lastAck    caltime.DateTime
		haveDur    bool
		haveRepeat bool
	)

	for i := range c.Props {
		p := c.Props[i]
		switch {
		case p.Name == "UID" || p.Name == propAltUID:
			if a.UID == "" {
				a.UID = p.Value()
			}
		case p.Name == "ACTION":
			a.Kind = model.AlarmKindFromAction(p.Value())
			if a.Kind == model.AlarmOther {
				a.ActionName = strings.ToUpper(p.Value())
			}
		case p.Name == "TRIGGER":
			trigger = &c.Props[i]
		case p.Name == "DURATION":
			d, err := caltime.ParseDuration(p.Value())
			if err != nil {
				return nil, malformed(err, p.Name, a.UID)
			}
			a.Duration = &d
			haveDur = true
		case p.Name == "REPEAT":
			n, err := strconv.Atoi(strings.TrimSpace(p.Value()))
			if err != nil || n < 0 {
				return nil, errs.New(errs.KindMalformedInput, "alarm repeat %q", p.Value()).At(componentName, p.Name, a.UID)
			}
			a.Repeat = n
			haveRepeat = true
		case p.Name == "DESCRIPTION":
			a.Description = p.Value()
		case p.Name == "SUMMARY":
			a.Summary = p.Value()
		case p.Name == "ATTACH":
			a.Attachments = append(a.Attachments, props.Attachment(p))
		case p.Name == "ATTENDEE":
			a.Attendees = append(a.Attendees, props.Attendee(p))
		case p.Name == "RELATED-TO":
			a.RelatedTo = append(a.RelatedTo, props.Relation(p))
		case p.Name == "ACKNOWLEDGED":
			d, err := utcValue(p, a.UID)
			if err != nil {
				return nil, err
			}
			a.Acknowledged = d
		case p.Name == propLastAck:
			d, err := utcValue(p, a.UID)
			if err != nil {
				return nil, err
			}
			lastAck = d
		case strings.HasPrefix(p.Name, propSnooze):
			d, err := utcValue(p, a.UID)
			if err != nil {
				return nil, err
			}
			if d.After(snooze) {
				snooze = d
			}
		default:
			a.XProps = append(a.XProps, props.XProp(p))
		}
	}

	if _, ok := c.Get("ACTION"); !ok {
		return nil, errs.New(errs.KindMissingRequiredField, "alarm has no action").At(componentName, "ACTION", a.UID)
	}
	if haveDur != haveRepeat {
		return nil, errs.New(errs.KindMalformedInput, "alarm DURATION and REPEAT must appear together").At(componentName, "REPEAT", a.UID)
	}
	if a.Acknowledged.IsZero() && !lastAck.IsZero() {
		a.Acknowledged = lastAck
	}

	switch {
	case !snooze.IsZero():
		a.TriggerAt = snooze
		a.Snoozed = true
	case !a.Acknowledged.IsZero():
		appLog.Debug("alarm: dropping acknowledged alarm", "uid", a.UID)
		return nil, nil
	case trigger == nil:
		return nil, errs.New(errs.KindMissingRequiredField, "alarm has no trigger").At(componentName, "TRIGGER", a.UID)
	default:
		if err := readTrigger(a, *trigger); err != nil {
			return nil, err
		}
	}

	if err := checkRequired(a); err != nil {
		return nil, err
	}
	if a.UID == "" {
		a.UID = strings.ToUpper(uuid.NewString())
	}
	return a, nil
}

func malformed(err error, prop, uid string) error {
	return errs.Locate(errs.Wrap(errs.KindMalformedInput, err, "alarm %s", strings.ToLower(prop)), componentName, prop, uid)
}

func utcValue(p wire.Property, uid string) (caltime.DateTime, error) {
	d, err := caltime.Parse(p.Value(), "", nil)
	if err != nil {
		return d, malformed(err, p.Name, uid)
	}
	if !d.IsUTC() {
		return d, errs.New(errs.KindMalformedInput, "alarm %s %q is not UTC", strings.ToLower(p.Name), p.Value()).At(componentName, p.Name, uid)
	}
	return d, nil
}

func readTrigger(a *model.Alarm, p wire.Property) error {
	if strings.EqualFold(p.Param("VALUE"), wire.TypeDateTime) {
		d, err := utcValue(p, a.UID)
		if err != nil {
			return err
		}
		a.TriggerAt = d
		return nil
	}
	d, err := caltime.ParseDuration(p.Value())
	if err != nil {
		return malformed(err, "TRIGGER", a.UID)
	}
	switch strings.ToUpper(p.Param("RELATED")) {
	case "", "START":
	case "END":
		a.RelatedEnd = true
	default:
		return errs.New(errs.KindMalformedInput, "alarm trigger related %q", p.Param("RELATED")).At(componentName, "TRIGGER", a.UID)
	}
	a.TriggerOffset = &d
	return nil
}

func checkRequired(a *model.Alarm) error {
	missing := func(prop string) error {
		return errs.New(errs.KindMissingRequiredField, "%s alarm needs %s", strings.ToLower(a.Kind.Action()), prop).At(componentName, prop, a.UID)
	}
	switch a.Kind {
	case model.AlarmDisplay:
		if a.Description == "" {
			return missing("DESCRIPTION")
		}
	case model.AlarmEmail:
		if a.Description == "" {
			return missing("DESCRIPTION")
		}
		if a.Summary == "" {
			return missing("SUMMARY")
		}
		if len(a.Attendees) == 0 {
			return missing("ATTENDEE")
		}
	case model.AlarmProcedure:
		if len(a.Attachments) == 0 {
			return missing("ATTACH")
		}
	}
	return nil
}

// ToComponent renders a as a VALARM.
func ToComponent(a *model.Alarm) *wire.Component {
	c := wire.NewComponent(componentName)
	if a.UID != "" {
		c.AddValue("UID", a.UID)
	}
	action := a.Kind.Action()
	if a.Kind == model.AlarmOther {
		action = a.ActionName
	}
	c.AddValue("ACTION", action)

	switch {
	case !a.TriggerAt.IsZero():
		c.Add(wire.NewProperty("TRIGGER", a.TriggerAt.ToUTC().String()).WithParam("VALUE", wire.TypeDateTime))
	case a.TriggerOffset != nil:
		p := wire.NewProperty("TRIGGER", a.TriggerOffset.String())
		if a.RelatedEnd {
			p = p.WithParam("RELATED", "END")
		}
		c.Add(p)
	}
	if a.Duration != nil {
		c.AddValue("DURATION", a.Duration.String())
		c.AddValue("REPEAT", strconv.Itoa(a.Repeat))
	}
	if a.Description != "" {
		c.AddValue("DESCRIPTION", a.Description)
	}
	if a.Summary != "" {
		c.AddValue("SUMMARY", a.Summary)
	}
	for _, at := range a.Attachments {
		c.Add(props.AttachmentProperty(at))
	}
	for _, at := range a.Attendees {
		c.Add(props.AttendeeProperty(at))
	}
	if !a.Acknowledged.IsZero() {
		c.AddValue("ACKNOWLEDGED", a.Acknowledged.ToUTC().String())
	}
	if a.Snoozed && !a.TriggerAt.IsZero() {
		c.AddValue(propSnooze, a.TriggerAt.ToUTC().String())
	}
	for _, r := range a.RelatedTo {
		c.Add(props.RelationProperty(r))
	}
	for _, x := range a.XProps {
		c.Add(props.XPropProperty(x))
	}
	return c
}
