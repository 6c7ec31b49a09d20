package wire

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// XMLNamespace is the xCal namespace.
const XMLNamespace = "urn:ietf:params:xml:ns:icalendar-2.0"

type xmlNode struct {
	XMLName  xml.Name
	Children []xmlNode `xml:",any"`
	Text     string    `xml:",chardata"`
}

func elem(name string, children ...xmlNode) xmlNode {
	return xmlNode{XMLName: xml.Name{Local: name}, Children: children}
}

func leaf(name, text string) xmlNode {
	return xmlNode{XMLName: xml.Name{Local: name}, Text: text}
}

func (n xmlNode) name() string { return strings.ToLower(n.XMLName.Local) }

func (n xmlNode) child(name string) (xmlNode, bool) {
	for _, c := range n.Children {
		if c.name() == name {
			return c, true
		}
	}
	return xmlNode{}, false
}

// EncodeXML renders cal as an xCal document.
func EncodeXML(w io.Writer, cal *Calendar) error {
	root := xmlNode{
		XMLName:  xml.Name{Space: XMLNamespace, Local: "icalendar"},
		Children: []xmlNode{xmlComponent("vcalendar", cal.Props, cal.Components)},
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("xcal encode: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func xmlComponent(name string, props []Property, comps []*Component) xmlNode {
	n := elem(strings.ToLower(name))
	pn := elem("properties")
	for _, p := range props {
		pn.Children = append(pn.Children, xmlProperty(p))
	}
	n.Children = append(n.Children, pn)
	if len(comps) > 0 {
		cn := elem("components")
		for _, c := range comps {
			cn.Children = append(cn.Children, xmlComponent(c.Name, c.Props, c.Components))
		}
		n.Children = append(n.Children, cn)
	}
	return n
}

func xmlProperty(p Property) xmlNode {
	n := elem(strings.ToLower(p.Name))
	if params := xmlParams(p.Params); len(params.Children) > 0 {
		n.Children = append(n.Children, params)
	}
	typ := p.Type()
	for _, v := range p.Values {
		if fields, ok := splitStructured(p.Name, v); ok && p.Param("VALUE") == "" {
			names := structuredFields[p.Name]
			for i, f := range fields {
				if i < len(names) {
					n.Children = append(n.Children, leaf(names[i], f))
				}
			}
			continue
		}
		switch typ {
		case TypeRecur:
			n.Children = append(n.Children, xmlRecur(v))
		case TypePeriod:
			start, end, _ := strings.Cut(toExtended(TypePeriod, v), "/")
			pe := elem("period", leaf("start", start))
			if isDurationText(end) {
				pe.Children = append(pe.Children, leaf("duration", end))
			} else {
				pe.Children = append(pe.Children, leaf("end", end))
			}
			n.Children = append(n.Children, pe)
		default:
			n.Children = append(n.Children, leaf(xmlTypeName(p), toExtended(typ, v)))
		}
	}
	return n
}

func xmlTypeName(p Property) string {
	if p.Param("VALUE") == "" && isExtension(p.Name) {
		return "unknown"
	}
	return strings.ToLower(p.Type())
}

func xmlParams(params Params) xmlNode {
	n := elem("parameters")
	for _, k := range params.Keys() {
		if k == "VALUE" {
			continue
		}
		pn := elem(strings.ToLower(k))
		typ := paramType(k)
		for _, v := range params[k] {
			pn.Children = append(pn.Children, leaf(strings.ToLower(typ), toExtended(typ, v)))
		}
		n.Children = append(n.Children, pn)
	}
	return n
}

func xmlRecur(rule string) xmlNode {
	n := elem("recur")
	parts, err := ParseRecur(rule)
	if err != nil {
		// Keep unparseable rules readable rather than dropping them.
		n.Text = rule
		return n
	}
	for _, part := range parts {
		for _, v := range part.Values {
			if part.Key == "UNTIL" {
				v = toExtended(TypeDateTime, v)
			}
			n.Children = append(n.Children, leaf(strings.ToLower(part.Key), v))
		}
	}
	return n
}

// DecodeXML parses an xCal document.
func DecodeXML(r io.Reader) (*Calendar, error) {
	var root xmlNode
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("xcal decode: %w", err)
	}
	if root.name() != "icalendar" {
		return nil, fmt.Errorf("xcal decode: unexpected root %q", root.XMLName.Local)
	}
	vcal, ok := root.child("vcalendar")
	if !ok {
		return nil, errors.New("xcal decode: missing vcalendar")
	}
	c, err := xmlToComponent(vcal)
	if err != nil {
		return nil, err
	}
	return &Calendar{Props: c.Props, Components: c.Components}, nil
}

func xmlToComponent(n xmlNode) (*Component, error) {
	out := NewComponent(n.XMLName.Local)
	if props, ok := n.child("properties"); ok {
		for _, pn := range props.Children {
			p, err := xmlToProperty(pn)
			if err != nil {
				return nil, err
			}
			out.Props = append(out.Props, p)
		}
	}
	if comps, ok := n.child("components"); ok {
		for _, cn := range comps.Children {
			c, err := xmlToComponent(cn)
			if err != nil {
				return nil, err
			}
			out.Components = append(out.Components, c)
		}
	}
	return out, nil
}

func xmlToProperty(n xmlNode) (Property, error) {
	p := Property{Name: strings.ToUpper(n.XMLName.Local), Params: Params{}}
	typ := ""
	var structured []string
	for _, c := range n.Children {
		switch c.name() {
		case "parameters":
			for _, pn := range c.Children {
				key := strings.ToUpper(pn.XMLName.Local)
				for _, vn := range pn.Children {
					p.Params[key] = append(p.Params[key], fromExtended(strings.ToUpper(vn.XMLName.Local), strings.TrimSpace(vn.Text)))
				}
			}
		case "recur":
			typ = TypeRecur
			p.Values = append(p.Values, xmlToRecur(c))
		case "period":
			typ = TypePeriod
			start, _ := c.child("start")
			v := start.Text
			if end, ok := c.child("end"); ok {
				v += "/" + end.Text
			} else if dur, ok := c.child("duration"); ok {
				v += "/" + dur.Text
			} else {
				return Property{}, fmt.Errorf("xcal %s: period without end or duration", p.Name)
			}
			p.Values = append(p.Values, fromExtended(TypePeriod, strings.TrimSpace(v)))
		case "latitude", "longitude", "code", "description", "data":
			structured = append(structured, strings.TrimSpace(c.Text))
		default:
			t := strings.ToUpper(c.XMLName.Local)
			if t != TypeUnknown {
				typ = t
			}
			conv := t
			if t == TypeUnknown {
				conv = DefaultType(p.Name)
			}
			p.Values = append(p.Values, fromExtended(conv, c.Text))
		}
	}
	if len(structured) > 0 {
		p.Values = append(p.Values, joinStructured(structured))
	}
	if len(p.Values) == 0 {
		p.Values = []string{""}
	}
	if typ != "" && typ != DefaultType(p.Name) {
		p.Params.Set("VALUE", typ)
	}
	return p, nil
}

func xmlToRecur(n xmlNode) string {
	if len(n.Children) == 0 {
		return strings.TrimSpace(n.Text)
	}
	var parts []RecurPart
	index := map[string]int{}
	for _, c := range n.Children {
		key := strings.ToUpper(c.XMLName.Local)
		v := strings.TrimSpace(c.Text)
		if key == "UNTIL" {
			v = fromExtended(TypeDateTime, v)
		}
		if i, ok := index[key]; ok {
			parts[i].Values = append(parts[i].Values, v)
			continue
		}
		index[key] = len(parts)
		parts = append(parts, RecurPart{Key: key, Values: []string{v}})
	}
	return CanonicalRecur(FormatRecur(parts))
}
