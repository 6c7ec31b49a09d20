package wire

import (
	"fmt"
	"strconv"
	"strings"

	"calcore/internal/caltime"
)

// RecurPart is one NAME=VALUE[,VALUE] element of a recurrence rule.
type RecurPart struct {
	Key    string
	Values []string
}

var recurOrder = []string{
	"FREQ", "UNTIL", "COUNT", "INTERVAL",
	"BYSECOND", "BYMINUTE", "BYHOUR", "BYDAY", "BYMONTHDAY",
	"BYYEARDAY", "BYWEEKNO", "BYMONTH", "BYSETPOS", "WKST",
}

var recurIntParts = map[string]bool{
	"COUNT": true, "INTERVAL": true, "BYSECOND": true, "BYMINUTE": true,
	"BYHOUR": true, "BYMONTHDAY": true, "BYYEARDAY": true, "BYWEEKNO": true,
	"BYMONTH": true, "BYSETPOS": true,
}

// ParseRecur splits a rule into parts in canonical order. It only checks
// the NAME=VALUE shape; semantic validation belongs to the expander.
func ParseRecur(rule string) ([]RecurPart, error) {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if rule == "" {
		return nil, fmt.Errorf("empty recurrence rule")
	}
	byKey := make(map[string]RecurPart)
	var extra []string
	for _, attr := range strings.Split(rule, ";") {
		if attr == "" {
			continue
		}
		k, v, ok := strings.Cut(attr, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("recurrence rule %q: bad element %q", rule, attr)
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		if _, dup := byKey[k]; dup {
			return nil, fmt.Errorf("recurrence rule %q: duplicate %s", rule, k)
		}
		byKey[k] = RecurPart{Key: k, Values: strings.Split(strings.ToUpper(strings.TrimSpace(v)), ",")}
		if !isRecurKey(k) {
			extra = append(extra, k)
		}
	}
	out := make([]RecurPart, 0, len(byKey))
	for _, k := range recurOrder {
		if p, ok := byKey[k]; ok {
			out = append(out, p)
		}
	}
	for _, k := range extra {
		out = append(out, byKey[k])
	}
	return out, nil
}

func isRecurKey(k string) bool {
	for _, o := range recurOrder {
		if o == k {
			return true
		}
	}
	return false
}

// FormatRecur joins parts back into rule text.
func FormatRecur(parts []RecurPart) string {
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		items = append(items, p.Key+"="+strings.Join(p.Values, ","))
	}
	return strings.Join(items, ";")
}

// CanonicalRecur reorders a rule into canonical order. Unparseable rules
// are returned unchanged.
func CanonicalRecur(rule string) string {
	parts, err := ParseRecur(rule)
	if err != nil {
		return rule
	}
	return FormatRecur(parts)
}

// toExtended reshapes a canonical value for the XML and JSON encodings.
func toExtended(typ, v string) string {
	switch typ {
	case TypeDate, TypeDateTime:
		return caltime.ISOFromCompact(v)
	case TypePeriod:
		start, end, ok := strings.Cut(v, "/")
		if !ok {
			return v
		}
		if isDurationText(end) {
			return caltime.ISOFromCompact(start) + "/" + end
		}
		return caltime.ISOFromCompact(start) + "/" + caltime.ISOFromCompact(end)
	case TypeUTCOffset:
		if len(v) == 5 {
			return v[:3] + ":" + v[3:]
		}
		if len(v) == 7 {
			return v[:3] + ":" + v[3:5] + ":" + v[5:]
		}
		return v
	case TypeBoolean:
		return strings.ToLower(v)
	default:
		return v
	}
}

// fromExtended is the inverse of toExtended.
func fromExtended(typ, v string) string {
	switch typ {
	case TypeDate, TypeDateTime:
		return caltime.CompactFromISO(v)
	case TypePeriod:
		start, end, ok := strings.Cut(v, "/")
		if !ok {
			return v
		}
		if isDurationText(end) {
			return caltime.CompactFromISO(start) + "/" + end
		}
		return caltime.CompactFromISO(start) + "/" + caltime.CompactFromISO(end)
	case TypeUTCOffset:
		return strings.ReplaceAll(v, ":", "")
	case TypeBoolean:
		return strings.ToUpper(v)
	default:
		return v
	}
}

func isDurationText(v string) bool {
	return strings.HasPrefix(v, "P") || strings.HasPrefix(v, "+P") || strings.HasPrefix(v, "-P")
}

// splitStructured breaks GEO and REQUEST-STATUS into their fields.
func splitStructured(name, v string) ([]string, bool) {
	switch strings.ToUpper(name) {
	case "GEO":
		lat, lon, ok := strings.Cut(v, ";")
		if !ok {
			return nil, false
		}
		return []string{lat, lon}, true
	case "REQUEST-STATUS":
		return strings.SplitN(v, ";", 3), true
	}
	return nil, false
}

var structuredFields = map[string][]string{
	"GEO":            {"latitude", "longitude"},
	"REQUEST-STATUS": {"code", "description", "data"},
}

func joinStructured(fields []string) string {
	return strings.Join(fields, ";")
}

// numeric converts integer/float text for the JSON encoding.
func numeric(typ, v string) (any, bool) {
	switch typ {
	case TypeInteger:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, false
		}
		return n, true
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

func formatNumber(f float64, typ string) string {
	if typ == TypeInteger {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
