package wire

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// EncodeJSON renders cal as a jCal document.
func EncodeJSON(w io.Writer, cal *Calendar) error {
	doc := jsonComponent("vcalendar", cal.Props, cal.Components)
	data, err := json.Marshal(doc,
		json.Deterministic(true),
		jsontext.Multiline(true),
		jsontext.WithIndent("  "),
	)
	if err != nil {
		return fmt.Errorf("jcal encode: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func jsonComponent(name string, props []Property, comps []*Component) []any {
	jp := make([]any, 0, len(props))
	for _, p := range props {
		jp = append(jp, jsonProperty(p))
	}
	jc := make([]any, 0, len(comps))
	for _, c := range comps {
		jc = append(jc, jsonComponent(c.Name, c.Props, c.Components))
	}
	return []any{strings.ToLower(name), jp, jc}
}

func jsonProperty(p Property) []any {
	params := map[string]any{}
	for _, k := range p.Params.Keys() {
		if k == "VALUE" {
			continue
		}
		vs := p.Params[k]
		if len(vs) == 1 {
			params[strings.ToLower(k)] = vs[0]
		} else {
			params[strings.ToLower(k)] = append([]string(nil), vs...)
		}
	}

	typ := p.Type()
	typeName := strings.ToLower(typ)
	if p.Param("VALUE") == "" && isExtension(p.Name) {
		typeName = "unknown"
	}
	out := []any{strings.ToLower(p.Name), params, typeName}
	for _, v := range p.Values {
		out = append(out, jsonValue(p, typ, v))
	}
	return out
}

func jsonValue(p Property, typ, v string) any {
	if fields, ok := splitStructured(p.Name, v); ok && p.Param("VALUE") == "" {
		if p.Name == "GEO" {
			out := make([]any, 0, len(fields))
			for _, f := range fields {
				if n, ok := numeric(TypeFloat, f); ok {
					out = append(out, n)
				} else {
					out = append(out, f)
				}
			}
			return out
		}
		out := make([]any, 0, len(fields))
		for _, f := range fields {
			out = append(out, f)
		}
		return out
	}
	switch typ {
	case TypeRecur:
		return jsonRecur(v)
	case TypeInteger, TypeFloat:
		if n, ok := numeric(typ, v); ok {
			return n
		}
		return v
	case TypeBoolean:
		return strings.EqualFold(v, "TRUE")
	default:
		return toExtended(typ, v)
	}
}

func jsonRecur(rule string) any {
	parts, err := ParseRecur(rule)
	if err != nil {
		return rule
	}
	out := map[string]any{}
	for _, part := range parts {
		vals := make([]any, 0, len(part.Values))
		for _, v := range part.Values {
			switch {
			case part.Key == "UNTIL":
				vals = append(vals, toExtended(TypeDateTime, v))
			case recurIntParts[part.Key]:
				if n, ok := numeric(TypeInteger, v); ok {
					vals = append(vals, n)
				} else {
					vals = append(vals, v)
				}
			default:
				vals = append(vals, v)
			}
		}
		key := strings.ToLower(part.Key)
		if len(vals) == 1 {
			out[key] = vals[0]
		} else {
			out[key] = vals
		}
	}
	return out
}

// DecodeJSON parses a jCal document.
func DecodeJSON(r io.Reader) (*Calendar, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc []any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jcal decode: %w", err)
	}
	c, err := jsonToComponent(doc)
	if err != nil {
		return nil, err
	}
	if c.Name != "VCALENDAR" {
		return nil, fmt.Errorf("jcal decode: unexpected root %q", c.Name)
	}
	return &Calendar{Props: c.Props, Components: c.Components}, nil
}

func jsonToComponent(doc []any) (*Component, error) {
	if len(doc) != 3 {
		return nil, errors.New("jcal decode: component must have three members")
	}
	name, ok := doc[0].(string)
	if !ok {
		return nil, errors.New("jcal decode: component name is not a string")
	}
	out := NewComponent(name)
	props, ok := doc[1].([]any)
	if !ok {
		return nil, fmt.Errorf("jcal decode: %s properties are not an array", name)
	}
	for _, raw := range props {
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("jcal decode: %s property is not an array", name)
		}
		p, err := jsonToProperty(arr)
		if err != nil {
			return nil, err
		}
		out.Props = append(out.Props, p)
	}
	subs, ok := doc[2].([]any)
	if !ok {
		return nil, fmt.Errorf("jcal decode: %s components are not an array", name)
	}
	for _, raw := range subs {
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("jcal decode: %s sub-component is not an array", name)
		}
		c, err := jsonToComponent(arr)
		if err != nil {
			return nil, err
		}
		out.Components = append(out.Components, c)
	}
	return out, nil
}

func jsonToProperty(arr []any) (Property, error) {
	if len(arr) < 4 {
		return Property{}, errors.New("jcal decode: property needs name, parameters, type and value")
	}
	name, ok := arr[0].(string)
	if !ok {
		return Property{}, errors.New("jcal decode: property name is not a string")
	}
	p := Property{Name: strings.ToUpper(name), Params: Params{}}
	params, ok := arr[1].(map[string]any)
	if !ok {
		return Property{}, fmt.Errorf("jcal decode: %s parameters are not an object", p.Name)
	}
	for k, v := range params {
		key := strings.ToUpper(k)
		switch pv := v.(type) {
		case string:
			p.Params[key] = []string{pv}
		case bool:
			p.Params[key] = []string{strings.ToUpper(fmt.Sprint(pv))}
		case []any:
			for _, item := range pv {
				p.Params[key] = append(p.Params[key], fmt.Sprint(item))
			}
		default:
			p.Params[key] = []string{fmt.Sprint(pv)}
		}
	}
	typeName, ok := arr[2].(string)
	if !ok {
		return Property{}, fmt.Errorf("jcal decode: %s type is not a string", p.Name)
	}
	typ := strings.ToUpper(typeName)
	conv := typ
	if typ == TypeUnknown {
		conv = DefaultType(p.Name)
	}
	for _, raw := range arr[3:] {
		v, err := jsonToValue(p.Name, conv, raw)
		if err != nil {
			return Property{}, err
		}
		p.Values = append(p.Values, v)
	}
	if typ != TypeUnknown && typ != DefaultType(p.Name) {
		p.Params.Set("VALUE", typ)
	}
	return p, nil
}

func jsonToValue(name, typ string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return fromExtended(typ, v), nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case float64:
		return formatNumber(v, typ), nil
	case []any:
		fields := make([]string, 0, len(v))
		for _, f := range v {
			switch fv := f.(type) {
			case float64:
				fields = append(fields, formatNumber(fv, TypeFloat))
			default:
				fields = append(fields, fmt.Sprint(fv))
			}
		}
		return joinStructured(fields), nil
	case map[string]any:
		if typ != TypeRecur {
			return "", fmt.Errorf("jcal decode: %s: object value for type %s", name, typ)
		}
		return jsonToRecur(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("jcal decode: %s: unsupported value %T", name, raw)
	}
}

func jsonToRecur(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]RecurPart, 0, len(keys))
	for _, k := range keys {
		key := strings.ToUpper(k)
		var vals []string
		add := func(x any) {
			switch xv := x.(type) {
			case float64:
				vals = append(vals, formatNumber(xv, TypeInteger))
			case string:
				if key == "UNTIL" {
					xv = fromExtended(TypeDateTime, xv)
				}
				vals = append(vals, xv)
			default:
				vals = append(vals, fmt.Sprint(xv))
			}
		}
		if arr, ok := m[k].([]any); ok {
			for _, x := range arr {
				add(x)
			}
		} else {
			add(m[k])
		}
		parts = append(parts, RecurPart{Key: key, Values: vals})
	}
	return CanonicalRecur(FormatRecur(parts))
}
