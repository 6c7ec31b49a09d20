// Package props converts the property shapes shared by events and alarms
// (people, attachments, text, relations, x-properties) between the wire
// tree and the model.
package props

import (
	"slices"
	"strings"

	"calcore/internal/model"
	"calcore/internal/wire"
)

// standardParams are the RFC 5545, 6638, 7986 and 9073 parameter names.
// Anything else counts as an extension parameter.
var standardParams = map[string]bool{
	"ALTREP": true, "CN": true, "CUTYPE": true, "DELEGATED-FROM": true,
	"DELEGATED-TO": true, "DIR": true, "ENCODING": true, "FMTTYPE": true,
	"FBTYPE": true, "LANGUAGE": true, "MEMBER": true, "PARTSTAT": true,
	"RANGE": true, "RELATED": true, "RELTYPE": true, "ROLE": true,
	"RSVP": true, "SENT-BY": true, "TZID": true, "VALUE": true,
	"SCHEDULE-AGENT": true, "SCHEDULE-FORCE-SEND": true, "SCHEDULE-STATUS": true,
	"DISPLAY": true, "EMAIL": true, "FEATURE": true, "LABEL": true,
	"FILENAME": true, "SIZE": true, "MANAGED-ID": true, "ORDER": true,
	"DERIVED": true, "GAP": true, "LINKREL": true, "SCHEMA": true,
}

// IsExtensionParam reports whether name is not a registered parameter.
func IsExtensionParam(name string) bool {
	return !standardParams[strings.ToUpper(name)]
}

// HasExtensionParams reports whether any parameter of p is an extension.
func HasExtensionParams(p wire.Property) bool {
	for k := range p.Params {
		if IsExtensionParam(k) {
			return true
		}
	}
	return false
}

// rest returns the parameters not in known, or nil.
func rest(params wire.Params, known ...string) map[string][]string {
	var out map[string][]string
	for k, v := range params {
		if slices.Contains(known, k) {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[k] = slices.Clone(v)
	}
	return out
}

func setAll(params wire.Params, name string, values []string) {
	if len(values) > 0 {
		params[name] = slices.Clone(values)
	}
}

func putRest(params wire.Params, extra map[string][]string) {
	for k, v := range extra {
		if _, ok := params[k]; !ok {
			params[k] = slices.Clone(v)
		}
	}
}

var attendeeParams = []string{
	"CN", "ROLE", "PARTSTAT", "CUTYPE", "RSVP", "DELEGATED-TO", "DELEGATED-FROM",
	"MEMBER", "SENT-BY", "DIR", "LANGUAGE", "SCHEDULE-AGENT", "SCHEDULE-STATUS",
}

// Attendee reads an ATTENDEE property.
func Attendee(p wire.Property) model.Attendee {
	return model.Attendee{
		Address:        strings.TrimSpace(p.Value()),
		CommonName:     p.Param("CN"),
		Role:           strings.ToUpper(p.Param("ROLE")),
		PartStat:       strings.ToUpper(p.Param("PARTSTAT")),
		CUType:         strings.ToUpper(p.Param("CUTYPE")),
		RSVP:           strings.EqualFold(p.Param("RSVP"), "TRUE"),
		DelegatedTo:    slices.Clone(p.Params["DELEGATED-TO"]),
		DelegatedFrom:  slices.Clone(p.Params["DELEGATED-FROM"]),
		Member:         slices.Clone(p.Params["MEMBER"]),
		SentBy:         p.Param("SENT-BY"),
		Dir:            p.Param("DIR"),
		Language:       p.Param("LANGUAGE"),
		ScheduleAgent:  strings.ToUpper(p.Param("SCHEDULE-AGENT")),
		ScheduleStatus: p.Param("SCHEDULE-STATUS"),
		Params:         rest(p.Params, attendeeParams...),
	}
}

// AttendeeProperty renders a as a property named name (ATTENDEE, or an
// alarm's ATTENDEE). Default values are not written.
func AttendeeProperty(a model.Attendee) wire.Property {
	p := wire.NewProperty("ATTENDEE", a.Address)
	p.Params.Set("CN", a.CommonName)
	if a.Role != "" && a.Role != "REQ-PARTICIPANT" {
		p.Params.Set("ROLE", a.Role)
	}
	if a.PartStat != "" {
		p.Params.Set("PARTSTAT", a.PartStat)
	}
	if a.CUType != "" && a.CUType != "INDIVIDUAL" {
		p.Params.Set("CUTYPE", a.CUType)
	}
	if a.RSVP {
		p.Params.Set("RSVP", "TRUE")
	}
	setAll(p.Params, "DELEGATED-TO", a.DelegatedTo)
	setAll(p.Params, "DELEGATED-FROM", a.DelegatedFrom)
	setAll(p.Params, "MEMBER", a.Member)
	p.Params.Set("SENT-BY", a.SentBy)
	p.Params.Set("DIR", a.Dir)
	p.Params.Set("LANGUAGE", a.Language)
	p.Params.Set("SCHEDULE-AGENT", a.ScheduleAgent)
	p.Params.Set("SCHEDULE-STATUS", a.ScheduleStatus)
	putRest(p.Params, a.Params)
	return p
}

var organizerParams = []string{"CN", "SENT-BY", "DIR", "LANGUAGE", "SCHEDULE-STATUS"}

// Organizer reads an ORGANIZER property.
func Organizer(p wire.Property) *model.Organizer {
	return &model.Organizer{
		Address:        strings.TrimSpace(p.Value()),
		CommonName:     p.Param("CN"),
		SentBy:         p.Param("SENT-BY"),
		Dir:            p.Param("DIR"),
		Language:       p.Param("LANGUAGE"),
		ScheduleStatus: p.Param("SCHEDULE-STATUS"),
		Params:         rest(p.Params, organizerParams...),
	}
}

// OrganizerProperty renders o.
func OrganizerProperty(o *model.Organizer) wire.Property {
	p := wire.NewProperty("ORGANIZER", o.Address)
	p.Params.Set("CN", o.CommonName)
	p.Params.Set("SENT-BY", o.SentBy)
	p.Params.Set("DIR", o.Dir)
	p.Params.Set("LANGUAGE", o.Language)
	p.Params.Set("SCHEDULE-STATUS", o.ScheduleStatus)
	putRest(p.Params, o.Params)
	return p
}

// Attachment reads an ATTACH property.
func Attachment(p wire.Property) model.Attachment {
	a := model.Attachment{
		FmtType: p.Param("FMTTYPE"),
		Params:  rest(p.Params, "FMTTYPE", "VALUE", "ENCODING"),
	}
	if strings.EqualFold(p.Param("VALUE"), wire.TypeBinary) || strings.EqualFold(p.Param("ENCODING"), "BASE64") {
		a.Binary = p.Value()
	} else {
		a.URI = p.Value()
	}
	return a
}

// AttachmentProperty renders a.
func AttachmentProperty(a model.Attachment) wire.Property {
	if a.Binary != "" {
		p := wire.NewProperty("ATTACH", a.Binary)
		p.Params.Set("VALUE", wire.TypeBinary)
		p.Params.Set("ENCODING", "BASE64")
		p.Params.Set("FMTTYPE", a.FmtType)
		putRest(p.Params, a.Params)
		return p
	}
	p := wire.NewProperty("ATTACH", a.URI)
	p.Params.Set("FMTTYPE", a.FmtType)
	putRest(p.Params, a.Params)
	return p
}

// Text reads a TEXT property with LANGUAGE and ALTREP.
func Text(p wire.Property) model.Text {
	return model.Text{Value: p.Value(), Language: p.Param("LANGUAGE"), AltRep: p.Param("ALTREP")}
}

// TextProperty renders t.
func TextProperty(name string, t model.Text) wire.Property {
	p := wire.NewProperty(name, t.Value)
	p.Params.Set("LANGUAGE", t.Language)
	p.Params.Set("ALTREP", t.AltRep)
	return p
}

// Relation reads RELATED-TO.
func Relation(p wire.Property) model.Relation {
	return model.Relation{UID: p.Value(), RelType: strings.ToUpper(p.Param("RELTYPE"))}
}

// RelationProperty renders r. PARENT is the default relation type.
func RelationProperty(r model.Relation) wire.Property {
	p := wire.NewProperty("RELATED-TO", r.UID)
	if r.RelType != "" && r.RelType != "PARENT" {
		p.Params.Set("RELTYPE", r.RelType)
	}
	return p
}

// XProp keeps any property verbatim.
func XProp(p wire.Property) model.XProp {
	return model.XProp{Name: p.Name, Params: rest(p.Params), Value: strings.Join(p.Values, ",")}
}

// XPropProperty renders x.
func XPropProperty(x model.XProp) wire.Property {
	p := wire.NewProperty(x.Name, x.Value)
	putRest(p.Params, x.Params)
	return p
}
