package tz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"time"
)

// zoneType is one local time type of a TZif file.
type zoneType struct {
	offset int
	isDST  bool
	name   string
}

// transition switches to zone index at the given UTC instant.
type transition struct {
	at   int64
	zone int
}

// buildTZif encodes a version 2 TZif blob. zones[0] is never referenced by
// a transition, so the loader uses it for instants before the first one.
func buildTZif(zones []zoneType, trans []transition) ([]byte, error) {
	if len(zones) == 0 {
		return nil, errors.New("tzif: no zone types")
	}
	sort.SliceStable(trans, func(i, j int) bool { return trans[i].at < trans[j].at })

	var abbrev bytes.Buffer
	abbrevIdx := make(map[string]int)
	for _, z := range zones {
		if _, ok := abbrevIdx[z.name]; ok {
			continue
		}
		abbrevIdx[z.name] = abbrev.Len()
		abbrev.WriteString(z.name)
		abbrev.WriteByte(0)
	}

	var b bytes.Buffer
	header := func(timecnt, typecnt, charcnt int) {
		b.WriteString("TZif")
		b.WriteByte('2')
		b.Write(make([]byte, 15))
		for _, n := range []int{0, 0, 0, timecnt, typecnt, charcnt} { // isut, isstd, leap, time, type, char
			_ = binary.Write(&b, binary.BigEndian, uint32(n))
		}
	}

	// Empty v1 block; readers that understand v2 skip it.
	header(0, 0, 0)

	header(len(trans), len(zones), abbrev.Len())
	for _, t := range trans {
		_ = binary.Write(&b, binary.BigEndian, t.at)
	}
	for _, t := range trans {
		b.WriteByte(byte(t.zone))
	}
	for _, z := range zones {
		_ = binary.Write(&b, binary.BigEndian, int32(z.offset))
		if z.isDST {
			b.WriteByte(1)
		} else {
			b.WriteByte(0)
		}
		b.WriteByte(byte(abbrevIdx[z.name]))
	}
	b.Write(abbrev.Bytes())
	b.WriteString("\n\n")
	return b.Bytes(), nil
}

// loadTZif builds a location from zone types and transitions.
func loadTZif(id string, zones []zoneType, trans []transition) (*time.Location, error) {
	if len(zones) > 255 {
		return nil, errors.New("tzif: too many zone types")
	}
	data, err := buildTZif(zones, trans)
	if err != nil {
		return nil, err
	}
	return time.LoadLocationFromTZData(id, data)
}
