package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// DecodeText parses an iCalendar text stream. Properties that appear
// between components are kept as calendar properties.
func DecodeText(r io.Reader) (*Calendar, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendarWithOptions(bytes.NewReader(body),
		ical.WithUnknownPropertyHandler(ical.AcceptUnknownPropertyHandler))
	if err != nil {
		return nil, fmt.Errorf("ics parse: %w", err)
	}

	out := &Calendar{}
	for _, cp := range cal.CalendarProperties {
		out.Props = append(out.Props, fromICSProperty(cp.BaseProperty))
	}
	for _, c := range cal.Components {
		out.Components = append(out.Components, fromICSComponent(c))
	}
	return out, nil
}

// DecodeTextFragment parses a bare component (e.g. a VTIMEZONE block) by
// wrapping it in a calendar.
func DecodeTextFragment(fragment string) (*Component, error) {
	body := strings.TrimSpace(fragment)
	if !strings.HasPrefix(strings.ToUpper(body), "BEGIN:VCALENDAR") {
		body = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" + body + "\r\nEND:VCALENDAR\r\n"
	}
	cal, err := DecodeText(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(cal.Components) != 1 {
		return nil, fmt.Errorf("fragment: expected one component, found %d", len(cal.Components))
	}
	return cal.Components[0], nil
}

func componentName(c ical.Component) string {
	switch v := c.(type) {
	case *ical.VEvent:
		return string(ical.ComponentVEvent)
	case *ical.VTodo:
		return string(ical.ComponentVTodo)
	case *ical.VJournal:
		return string(ical.ComponentVJournal)
	case *ical.VBusy:
		return string(ical.ComponentVFreeBusy)
	case *ical.VTimezone:
		return string(ical.ComponentVTimezone)
	case *ical.VAlarm:
		return string(ical.ComponentVAlarm)
	case *ical.Standard:
		return string(ical.ComponentStandard)
	case *ical.Daylight:
		return string(ical.ComponentDaylight)
	case *ical.GeneralComponent:
		return strings.ToUpper(v.Token)
	default:
		return ""
	}
}

func fromICSComponent(c ical.Component) *Component {
	out := NewComponent(componentName(c))
	for _, p := range c.UnknownPropertiesIANAProperties() {
		out.Props = append(out.Props, fromICSProperty(p.BaseProperty))
	}
	for _, sub := range c.SubComponents() {
		out.Components = append(out.Components, fromICSComponent(sub))
	}
	return out
}

func fromICSProperty(bp ical.BaseProperty) Property {
	p := Property{Name: strings.ToUpper(bp.IANAToken), Params: Params{}}
	for k, v := range bp.ICalParameters {
		p.Params[strings.ToUpper(k)] = append([]string(nil), v...)
	}
	normalizeValueParam(&p)
	p.Values = splitValues(p.Name, bp.Value)
	return p
}

// EncodeText renders cal as iCalendar text with CRLF line endings and
// 75-octet folding.
func EncodeText(w io.Writer, cal *Calendar) error {
	out := &ical.Calendar{}
	for _, p := range cal.Props {
		for _, bp := range toICSProperties(p) {
			out.CalendarProperties = append(out.CalendarProperties, ical.CalendarProperty{BaseProperty: bp})
		}
	}
	for _, c := range cal.Components {
		out.Components = append(out.Components, toICSComponent(c))
	}
	return out.SerializeTo(w, ical.WithNewLineWindows)
}

// EncodeTextString is EncodeText into a string.
func EncodeTextString(cal *Calendar) (string, error) {
	var b strings.Builder
	if err := EncodeText(&b, cal); err != nil {
		return "", err
	}
	return b.String(), nil
}

// EncodeComponentText renders a single component without a calendar
// wrapper, e.g. to capture a VTIMEZONE verbatim.
func EncodeComponentText(c *Component) (string, error) {
	var b strings.Builder
	if err := toICSComponent(c).SerializeTo(&b, &ical.SerializationConfiguration{
		MaxLength:         75,
		PropertyMaxLength: 75,
		NewLine:           string(ical.WithNewLineWindows),
	}); err != nil {
		return "", err
	}
	return b.String(), nil
}

func toICSComponent(c *Component) *ical.GeneralComponent {
	out := &ical.GeneralComponent{Token: c.Name}
	for _, p := range c.Props {
		for _, bp := range toICSProperties(p) {
			out.Properties = append(out.Properties, ical.IANAProperty{BaseProperty: bp})
		}
	}
	for _, sub := range c.Components {
		out.Components = append(out.Components, toICSComponent(sub))
	}
	return out
}

// toICSProperties renders one tree property as one or more content lines.
// TEXT lists go one value per line so separators are not escaped away;
// non-TEXT values the library would treat as TEXT get an explicit VALUE.
func toICSProperties(p Property) []ical.BaseProperty {
	values := []string{strings.Join(p.Values, ",")}
	if textList[p.Name] && len(p.Values) > 1 {
		values = p.Values
	}
	out := make([]ical.BaseProperty, 0, len(values))
	for _, v := range values {
		params := map[string][]string{}
		for k, vs := range p.Params {
			params[k] = append([]string(nil), vs...)
		}
		bp := ical.BaseProperty{IANAToken: p.Name, ICalParameters: params, Value: v}
		if bp.GetValueType() == ical.ValueDataTypeText && p.Type() != TypeText {
			bp.ICalParameters[string(ical.ParameterValue)] = []string{p.Type()}
		}
		out = append(out, bp)
	}
	return out
}
