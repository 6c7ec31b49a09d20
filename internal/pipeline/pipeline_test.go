package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/config"
	"calcore/internal/errs"
	"calcore/internal/wire"
)

const daily = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"METHOD:PUBLISH\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:daily@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T100000Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20240103T090000Z\r\n" +
	"SUMMARY:Daily\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:daily@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"RECURRENCE-ID:20240104T090000Z\r\n" +
	"DTSTART:20240104T130000Z\r\n" +
	"DTEND:20240104T140000Z\r\n" +
	"SUMMARY:Moved\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newPipeline() *Pipeline {
	opts := OptionsFromConfig(config.DefaultConfig(), nil)
	opts.Now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return New(opts)
}

func TestConvertAcrossFormats(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	var asJSON bytes.Buffer
	require.NoError(t, p.Convert(ctx, strings.NewReader(daily), wire.FormatText, &asJSON, EmitOptions{Format: wire.FormatJSON}))
	assert.Contains(t, asJSON.String(), `"vcalendar"`)

	var asXML bytes.Buffer
	require.NoError(t, p.Convert(ctx, &asJSON, wire.FormatJSON, &asXML, EmitOptions{Format: wire.FormatXML}))
	assert.Contains(t, asXML.String(), "<vevent>")

	var back bytes.Buffer
	require.NoError(t, p.Convert(ctx, &asXML, wire.FormatXML, &back, EmitOptions{Format: wire.FormatText}))
	out := back.String()
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "PRODID:"+config.DefaultConfig().ProductID)
	assert.Contains(t, out, "SUMMARY:Moved")
	assert.Contains(t, out, "RECURRENCE-ID:20240104T090000Z")
}

func TestConvertRejectsGarbage(t *testing.T) {
	err := newPipeline().Convert(context.Background(), strings.NewReader("not a calendar"), wire.FormatJSON, &bytes.Buffer{}, EmitOptions{})
	require.Error(t, err)
	assert.Equal(t, errs.KindMalformedInput, errs.KindOf(err))
}

func TestExpandResolvesOverridesAndExclusions(t *testing.T) {
	p := newPipeline()
	infos, err := p.Decode(context.Background(), strings.NewReader(daily), wire.FormatText)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	res, err := p.Expand(infos, Window{})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 4)

	var starts []string
	for _, o := range res.Occurrences {
		starts = append(starts, o.Start.Format("02T15"))
	}
	assert.Equal(t, []string{"01T09", "02T09", "04T13", "05T09"}, starts)
	assert.True(t, res.Occurrences[2].Override)
	assert.Equal(t, "Moved", res.Occurrences[2].Summary)

	periods, err := p.Periods(infos[0].Event)
	require.NoError(t, err)
	assert.Len(t, periods.Instances, 4)
}

func TestExpandWindow(t *testing.T) {
	p := newPipeline()
	infos, err := p.Decode(context.Background(), strings.NewReader(daily), wire.FormatText)
	require.NoError(t, err)

	res, err := p.Expand(infos, Window{
		Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)

	_, err = p.Expand(infos, Window{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, errs.KindMalformedInput, errs.KindOf(err))
}
