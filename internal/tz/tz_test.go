package tz

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/errs"
	"calcore/internal/wire"
)

const customZone = "BEGIN:VTIMEZONE\r\n" +
	"TZID:Custom/Central\r\n" +
	"BEGIN:STANDARD\r\n" +
	"DTSTART:19701025T030000\r\n" +
	"TZOFFSETFROM:+0200\r\n" +
	"TZOFFSETTO:+0100\r\n" +
	"TZNAME:CCT\r\n" +
	"RRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU\r\n" +
	"END:STANDARD\r\n" +
	"BEGIN:DAYLIGHT\r\n" +
	"DTSTART:19700329T020000\r\n" +
	"TZOFFSETFROM:+0100\r\n" +
	"TZOFFSETTO:+0200\r\n" +
	"TZNAME:CCST\r\n" +
	"RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU\r\n" +
	"END:DAYLIGHT\r\n" +
	"END:VTIMEZONE\r\n"

func offsetAt(loc *time.Location, t time.Time) int {
	_, off := t.In(loc).Zone()
	return off
}

func TestResolveSystem(t *testing.T) {
	r := NewResolver()
	info, err := r.Resolve("Europe/Berlin")
	require.NoError(t, err)
	assert.False(t, info.Embedded)
	assert.Equal(t, 7200, offsetAt(info.Location, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)))

	utc, err := r.Resolve("Z")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, utc.Location)
}

func TestResolveVendorPrefix(t *testing.T) {
	r := NewResolver()
	info, err := r.Resolve("/mozilla.org/20050126_1/Europe/Paris")
	require.NoError(t, err)
	assert.Equal(t, "/mozilla.org/20050126_1/Europe/Paris", info.ID)
	assert.Equal(t, 3600, offsetAt(info.Location, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)))
}

func TestResolveEmbedded(t *testing.T) {
	r := NewResolver()
	id, err := r.Register(customZone)
	require.NoError(t, err)
	assert.Equal(t, "Custom/Central", id)
	assert.False(t, r.SystemKnows(id))

	info, err := r.Resolve(id)
	require.NoError(t, err)
	assert.True(t, info.Embedded)

	tests := []struct {
		at     time.Time
		offset int
	}{
		{time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), 3600},
		{time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC), 7200},
		// last Sunday of March 2024 is the 31st; switch at 01:00 UTC
		{time.Date(2024, 3, 31, 0, 59, 0, 0, time.UTC), 3600},
		{time.Date(2024, 3, 31, 1, 0, 0, 0, time.UTC), 7200},
		{time.Date(2024, 10, 27, 1, 0, 0, 0, time.UTC), 3600},
		{time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), 3600},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.offset, offsetAt(info.Location, tc.at), tc.at.String())
	}

	raw, ok := r.Definition(id)
	require.True(t, ok)
	assert.Equal(t, customZone, raw)
}

func TestResolveEmbeddedInline(t *testing.T) {
	r := NewResolver()
	info, err := r.ResolveEmbedded("Custom/Central", customZone, false)
	require.NoError(t, err)
	assert.Equal(t, "CCST", func() string {
		name, _ := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC).In(info.Location).Zone()
		return name
	}())

	// Second lookup is served from the cache without the raw text.
	again, err := r.Resolve("Custom/Central")
	require.NoError(t, err)
	assert.Same(t, info, again)
}

func TestResolveUnknown(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve("Nowhere/Special")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTimezone))
	assert.True(t, errors.Is(err, errs.ErrMalformedInput))

	info, err := r.ResolveEmbedded("Nowhere/Special", "", true)
	require.NoError(t, err)
	assert.True(t, info.Fallback)
	assert.Equal(t, time.UTC, info.Location)

	forced := NewResolver(WithForceUTC(true))
	info, err = forced.Resolve("Nowhere/Else")
	require.NoError(t, err)
	assert.True(t, info.Fallback)
}

func TestRegisterRejectsNonTimezone(t *testing.T) {
	r := NewResolver()
	_, err := r.Register("BEGIN:VEVENT\r\nUID:x\r\nEND:VEVENT")
	require.Error(t, err)

	_, err = r.Register("BEGIN:VTIMEZONE\r\nBEGIN:STANDARD\r\nDTSTART:19700101T000000\r\nTZOFFSETTO:+0000\r\nEND:STANDARD\r\nEND:VTIMEZONE")
	require.Error(t, err)
	assert.Equal(t, errs.KindMissingRequiredField, errs.KindOf(err))
}

func TestBuildDefinitionRoundTrip(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	c := BuildDefinition("Europe/Berlin", berlin,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, c.Components, 2)
	assert.Equal(t, "DAYLIGHT", c.Components[0].Name)
	start, _ := c.Components[0].Get("DTSTART")
	assert.Equal(t, "20240331T020000", start.Value())
	rdate, _ := c.Components[0].Get("RDATE")
	assert.Equal(t, []string{"20250330T020000"}, rdate.Values)

	text, err := wire.EncodeComponentText(c)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "BEGIN:VTIMEZONE"))

	info, err := ParseDefinition(text)
	require.NoError(t, err)
	for _, at := range []time.Time{
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
	} {
		assert.Equal(t, offsetAt(berlin, at), offsetAt(info.Location, at), at.String())
	}
}

func TestBuildDefinitionFixedZone(t *testing.T) {
	c := BuildDefinition("Asia/Tokyo", time.FixedZone("JST", 9*3600),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, c.Components, 1)
	to, _ := c.Components[0].Get("TZOFFSETTO")
	assert.Equal(t, "+0900", to.Value())
}

func TestResolverConcurrent(t *testing.T) {
	r := NewResolver()
	_, err := r.Register(customZone)
	require.NoError(t, err)

	var wg sync.WaitGroup
	infos := make([]*Info, 8)
	for i := range infos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			infos[i], _ = r.Resolve("Custom/Central")
		}(i)
	}
	wg.Wait()
	for _, info := range infos {
		assert.Same(t, infos[0], info)
	}
}
