package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//calcore//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-1@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;TZID=Europe/Berlin:20240101T090000\r\n" +
	"DURATION:PT1H\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE;TZID=Europe/Berlin:20240103T090000,20240104T090000\r\n" +
	"SUMMARY:Stand-up\r\n" +
	"DESCRIPTION:daily sync\\, short\r\n" +
	"GEO:52.52;13.405\r\n" +
	"CATEGORIES:WORK,TEAM\r\n" +
	"ATTENDEE;CN=Jane;RSVP=TRUE;PARTSTAT=NEEDS-ACTION:mailto:jane@example.com\r\n" +
	"X-FOO;X-PARAM=bar:custom\r\n" +
	"BEGIN:VALARM\r\n" +
	"ACTION:DISPLAY\r\n" +
	"TRIGGER;RELATED=START:-PT15M\r\n" +
	"DESCRIPTION:Reminder\r\n" +
	"END:VALARM\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func decodeSample(t *testing.T) *Calendar {
	t.Helper()
	cal, err := DecodeText(strings.NewReader(sampleICS))
	require.NoError(t, err)
	require.Len(t, cal.Components, 1)
	return cal
}

func TestDecodeText(t *testing.T) {
	cal := decodeSample(t)
	ev := cal.Components[0]
	assert.Equal(t, "VEVENT", ev.Name)

	start, ok := ev.Get("DTSTART")
	require.True(t, ok)
	assert.Equal(t, "Europe/Berlin", start.Param("TZID"))
	assert.Equal(t, "20240101T090000", start.Value())

	exdate, ok := ev.Get("EXDATE")
	require.True(t, ok)
	assert.Equal(t, []string{"20240103T090000", "20240104T090000"}, exdate.Values)

	desc, _ := ev.Get("DESCRIPTION")
	assert.Equal(t, "daily sync, short", desc.Value())

	cats, _ := ev.Get("CATEGORIES")
	assert.Equal(t, []string{"WORK", "TEAM"}, cats.Values)

	require.Len(t, ev.Sub("VALARM"), 1)
	assert.Equal(t, "2.0", cal.Props[0].Value())
}

func TestDecodeTextRejectsEmpty(t *testing.T) {
	_, err := DecodeText(strings.NewReader("  \r\n"))
	require.Error(t, err)
}

func TestTextRoundTrip(t *testing.T) {
	cal := decodeSample(t)

	out, err := EncodeTextString(cal)
	require.NoError(t, err)
	assert.Contains(t, out, "\r\n")
	assert.Contains(t, out, `DESCRIPTION:daily sync\, short`)

	// Text lists come back one value per line, so compare the second
	// rendering rather than the trees.
	again, err := DecodeText(strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, again.Components[0].All("CATEGORIES"), 2)
	out2, err := EncodeTextString(again)
	require.NoError(t, err)
	assert.Equal(t, out, out2)
}

func TestXMLRoundTrip(t *testing.T) {
	cal := decodeSample(t)

	var buf bytes.Buffer
	require.NoError(t, EncodeXML(&buf, cal))
	doc := buf.String()
	assert.Contains(t, doc, XMLNamespace)
	assert.Contains(t, doc, "<freq>DAILY</freq>")
	assert.Contains(t, doc, "<count>5</count>")
	assert.Contains(t, doc, "<date-time>2024-01-01T09:00:00</date-time>")
	assert.Contains(t, doc, "<latitude>52.52</latitude>")
	assert.Contains(t, doc, "<unknown>custom</unknown>")

	back, err := DecodeXML(&buf)
	require.NoError(t, err)
	assert.Equal(t, cal, back)
}

func TestJSONRoundTrip(t *testing.T) {
	cal := decodeSample(t)

	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, cal))
	doc := buf.String()
	assert.Contains(t, doc, `"vcalendar"`)
	assert.Contains(t, doc, `"freq": "DAILY"`)
	assert.Contains(t, doc, `"count": 5`)
	assert.Contains(t, doc, `"2024-01-01T09:00:00"`)

	back, err := DecodeJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, cal, back)
}

func TestEncodingsAgree(t *testing.T) {
	cal := decodeSample(t)

	var xbuf, jbuf bytes.Buffer
	require.NoError(t, EncodeXML(&xbuf, cal))
	require.NoError(t, EncodeJSON(&jbuf, cal))

	fromXML, err := DecodeXML(&xbuf)
	require.NoError(t, err)
	fromJSON, err := DecodeJSON(&jbuf)
	require.NoError(t, err)

	textA, err := EncodeTextString(fromXML)
	require.NoError(t, err)
	textB, err := EncodeTextString(fromJSON)
	require.NoError(t, err)
	assert.Equal(t, textA, textB)
}

func TestValueParamNormalization(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		expect string
	}{
		{"default restated", "DTSTART;VALUE=DATE-TIME:20240101T090000Z", ""},
		{"date kept", "DTSTART;VALUE=DATE:20240101", TypeDate},
		{"period kept", "RDATE;VALUE=PERIOD:20240101T090000Z/PT1H", TypePeriod},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := DecodeTextFragment("BEGIN:VEVENT\r\nUID:x\r\n" + tc.line + "\r\nEND:VEVENT")
			require.NoError(t, err)
			p := c.All(strings.SplitN(tc.line, ";", 2)[0])
			require.Len(t, p, 1)
			assert.Equal(t, tc.expect, p[0].Param("VALUE"))
		})
	}
}

func TestExtensionRecurKeepsValueParam(t *testing.T) {
	c := NewComponent("VEVENT")
	c.AddValue("UID", "x")
	c.Add(NewProperty("EXRULE", "FREQ=WEEKLY;BYDAY=MO,WE"))

	out, err := EncodeComponentText(c)
	require.NoError(t, err)
	assert.Contains(t, out, "EXRULE;VALUE=RECUR:FREQ=WEEKLY;BYDAY=MO,WE")

	back, err := DecodeTextFragment(out)
	require.NoError(t, err)
	p, ok := back.Get("EXRULE")
	require.True(t, ok)
	assert.Equal(t, "", p.Param("VALUE"))
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE", p.Value())
}

func TestParseRecur(t *testing.T) {
	parts, err := ParseRecur("count=5;byday=MO,TU;freq=weekly")
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=5;BYDAY=MO,TU", FormatRecur(parts))

	_, err = ParseRecur("FREQ=DAILY;FREQ=WEEKLY")
	require.Error(t, err)
	_, err = ParseRecur("FREQ")
	require.Error(t, err)
}

func TestRecurUntilReshaped(t *testing.T) {
	c := NewComponent("VEVENT")
	c.Add(NewProperty("RRULE", "FREQ=DAILY;UNTIL=20240110T090000Z"))
	cal := &Calendar{Components: []*Component{c}}

	var xbuf, jbuf bytes.Buffer
	require.NoError(t, EncodeXML(&xbuf, cal))
	require.NoError(t, EncodeJSON(&jbuf, cal))
	assert.Contains(t, xbuf.String(), "<until>2024-01-10T09:00:00Z</until>")
	assert.Contains(t, jbuf.String(), `"until": "2024-01-10T09:00:00Z"`)

	fromJSON, err := DecodeJSON(&jbuf)
	require.NoError(t, err)
	p, _ := fromJSON.Components[0].Get("RRULE")
	assert.Equal(t, "FREQ=DAILY;UNTIL=20240110T090000Z", p.Value())
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":                         FormatText,
		"ICS":                      FormatText,
		"application/calendar+xml": FormatXML,
		"jcal":                     FormatJSON,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("yaml")
	assert.Error(t, err)
}
