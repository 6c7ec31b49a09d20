// Package wire is the encoding-neutral calendar tree and its three
// renderings: iCalendar text, xCal XML and jCal JSON. Values are kept in
// their canonical text form (unescaped, compact date-times); each codec
// reshapes them on the way in and out.
package wire

import (
	"slices"
	"sort"
	"strings"
)

// Params holds property parameters keyed by upper-case name.
type Params map[string][]string

// Get returns the first value of name.
func (p Params) Get(name string) string {
	if v := p[strings.ToUpper(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Set replaces name with a single value; an empty value deletes it.
func (p Params) Set(name, value string) {
	name = strings.ToUpper(name)
	if value == "" {
		delete(p, name)
		return
	}
	p[name] = []string{value}
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}

// Property is one content line.
type Property struct {
	Name   string
	Params Params
	Values []string
}

// NewProperty builds a single-valued property.
func NewProperty(name, value string) Property {
	return Property{Name: strings.ToUpper(name), Params: Params{}, Values: []string{value}}
}

// Value returns the first value.
func (p Property) Value() string {
	if len(p.Values) == 0 {
		return ""
	}
	return p.Values[0]
}

// Param returns the first value of a parameter.
func (p Property) Param(name string) string {
	return p.Params.Get(name)
}

// WithParam returns p with a parameter set.
func (p Property) WithParam(name, value string) Property {
	if p.Params == nil {
		p.Params = Params{}
	}
	p.Params.Set(name, value)
	return p
}

// Type is the effective value type: the VALUE parameter or the default
// for the property name.
func (p Property) Type() string {
	if v := p.Param("VALUE"); v != "" {
		return strings.ToUpper(v)
	}
	return DefaultType(p.Name)
}

// Component is a named block of properties and sub-components.
type Component struct {
	Name       string
	Props      []Property
	Components []*Component
}

// NewComponent builds an empty component.
func NewComponent(name string) *Component {
	return &Component{Name: strings.ToUpper(name)}
}

// Add appends a property.
func (c *Component) Add(p Property) {
	c.Props = append(c.Props, p)
}

// AddValue appends a single-valued property.
func (c *Component) AddValue(name, value string) {
	c.Add(NewProperty(name, value))
}

// Get returns the first property named name.
func (c *Component) Get(name string) (Property, bool) {
	name = strings.ToUpper(name)
	for _, p := range c.Props {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// All returns every property named name.
func (c *Component) All(name string) []Property {
	name = strings.ToUpper(name)
	var out []Property
	for _, p := range c.Props {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Sub returns sub-components named name.
func (c *Component) Sub(name string) []*Component {
	name = strings.ToUpper(name)
	var out []*Component
	for _, s := range c.Components {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Calendar is a VCALENDAR: calendar-level properties and components.
type Calendar struct {
	Props      []Property
	Components []*Component
}

// Method returns the iTIP METHOD, upper-cased.
func (c *Calendar) Method() string {
	for _, p := range c.Props {
		if p.Name == "METHOD" {
			return strings.ToUpper(p.Value())
		}
	}
	return ""
}

// Value types.
const (
	TypeBinary     = "BINARY"
	TypeBoolean    = "BOOLEAN"
	TypeCalAddress = "CAL-ADDRESS"
	TypeDate       = "DATE"
	TypeDateTime   = "DATE-TIME"
	TypeDuration   = "DURATION"
	TypeFloat      = "FLOAT"
	TypeInteger    = "INTEGER"
	TypePeriod     = "PERIOD"
	TypeRecur      = "RECUR"
	TypeText       = "TEXT"
	TypeTime       = "TIME"
	TypeURI        = "URI"
	TypeUTCOffset  = "UTC-OFFSET"
	TypeUnknown    = "UNKNOWN"
)

var defaultTypes = map[string]string{
	"DTSTART":          TypeDateTime,
	"DTEND":            TypeDateTime,
	"DUE":              TypeDateTime,
	"RECURRENCE-ID":    TypeDateTime,
	"EXDATE":           TypeDateTime,
	"RDATE":            TypeDateTime,
	"CREATED":          TypeDateTime,
	"DTSTAMP":          TypeDateTime,
	"LAST-MODIFIED":    TypeDateTime,
	"COMPLETED":        TypeDateTime,
	"ACKNOWLEDGED":     TypeDateTime,
	"DURATION":         TypeDuration,
	"TRIGGER":          TypeDuration,
	"RRULE":            TypeRecur,
	"EXRULE":           TypeRecur,
	"FREEBUSY":         TypePeriod,
	"TZOFFSETFROM":     TypeUTCOffset,
	"TZOFFSETTO":       TypeUTCOffset,
	"ATTENDEE":         TypeCalAddress,
	"ORGANIZER":        TypeCalAddress,
	"URL":              TypeURI,
	"ATTACH":           TypeURI,
	"TZURL":            TypeURI,
	"SOURCE":           TypeURI,
	"SEQUENCE":         TypeInteger,
	"PRIORITY":         TypeInteger,
	"PERCENT-COMPLETE": TypeInteger,
	"REPEAT":           TypeInteger,
	"POLL-WINNER":      TypeInteger,
	"POLL-ITEM-ID":     TypeInteger,
	"GEO":              TypeFloat,
}

// DefaultType is the value type a property has without a VALUE parameter.
// Unregistered names are TEXT.
func DefaultType(name string) string {
	if t, ok := defaultTypes[strings.ToUpper(name)]; ok {
		return t
	}
	return TypeText
}

// isExtension reports names whose type is not fixed by RFC 5545.
func isExtension(name string) bool {
	name = strings.ToUpper(name)
	if strings.HasPrefix(name, "X-") {
		return true
	}
	_, known := defaultTypes[name]
	return !known && !knownText[name]
}

var knownText = map[string]bool{
	"CALSCALE": true, "METHOD": true, "PRODID": true, "VERSION": true,
	"CATEGORIES": true, "CLASS": true, "COMMENT": true, "DESCRIPTION": true,
	"LOCATION": true, "RESOURCES": true, "STATUS": true, "SUMMARY": true,
	"TRANSP": true, "TZID": true, "TZNAME": true, "CONTACT": true,
	"RELATED-TO": true, "UID": true, "ACTION": true, "REQUEST-STATUS": true,
	"BUSYTYPE": true, "POLL-MODE": true, "POLL-PROPERTIES": true, "NAME": true,
	"COLOR": true,
}

// multiValued lists properties whose value is a comma separated list.
var multiValued = map[string]bool{
	"EXDATE":          true,
	"RDATE":           true,
	"FREEBUSY":        true,
	"CATEGORIES":      true,
	"RESOURCES":       true,
	"POLL-PROPERTIES": true,
}

// textList lists multi-valued TEXT properties, rendered one value per line
// in the text encoding.
var textList = map[string]bool{
	"CATEGORIES":      true,
	"RESOURCES":       true,
	"POLL-PROPERTIES": true,
}

// paramTypes is the value type of parameters in the XML encoding.
var paramTypes = map[string]string{
	"ALTREP":         TypeURI,
	"DIR":            TypeURI,
	"DELEGATED-FROM": TypeCalAddress,
	"DELEGATED-TO":   TypeCalAddress,
	"MEMBER":         TypeCalAddress,
	"SENT-BY":        TypeCalAddress,
	"RSVP":           TypeBoolean,
}

func paramType(name string) string {
	if t, ok := paramTypes[strings.ToUpper(name)]; ok {
		return t
	}
	return TypeText
}

// normalizeValueParam drops a VALUE parameter that restates the default.
func normalizeValueParam(p *Property) {
	if p.Params == nil {
		return
	}
	if v := p.Params.Get("VALUE"); v != "" && strings.EqualFold(v, DefaultType(p.Name)) {
		delete(p.Params, "VALUE")
	}
}

// splitValues breaks a raw list value into its members.
func splitValues(name, raw string) []string {
	if !multiValued[strings.ToUpper(name)] {
		return []string{raw}
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}
