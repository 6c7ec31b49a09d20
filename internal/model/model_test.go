package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/caltime"
)

func TestKindFromComponent(t *testing.T) {
	for _, k := range []Kind{KindEvent, KindTodo, KindJournal, KindFreeBusy, KindAvailability, KindAvailableSlot, KindPoll} {
		got, ok := KindFromComponent(k.ComponentName())
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := KindFromComponent("VTIMEZONE")
	assert.False(t, ok)

	assert.True(t, KindTodo.AllowsNoStart())
	assert.True(t, KindFreeBusy.AllowsNoStart())
	assert.True(t, KindPoll.AllowsNoStart())
	assert.False(t, KindEvent.AllowsNoStart())
}

func TestCloneIsDeep(t *testing.T) {
	pct := 10
	ev := &Event{
		UID:             "a",
		Attendees:       []Attendee{{Address: "mailto:x@example.com", Member: []string{"mailto:g@example.com"}}},
		RRules:          []string{"FREQ=DAILY"},
		PercentComplete: &pct,
		TimeZones:       map[string]string{"X/Zone": "BEGIN:VTIMEZONE"},
	}
	c := ev.Clone()
	c.Attendees[0].Member[0] = "changed"
	c.RRules[0] = "FREQ=WEEKLY"
	*c.PercentComplete = 50
	c.TimeZones["Y/Zone"] = ""

	assert.Equal(t, "mailto:g@example.com", ev.Attendees[0].Member[0])
	assert.Equal(t, "FREQ=DAILY", ev.RRules[0])
	assert.Equal(t, 10, *ev.PercentComplete)
	assert.Len(t, ev.TimeZones, 1)
}

func TestRecurrenceKeyAcrossZones(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	utc := caltime.UTC(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	zoned := caltime.Zoned(time.Date(2024, 1, 1, 9, 0, 0, 0, tokyo), "Asia/Tokyo", tokyo)
	assert.Equal(t, RecurrenceKey(utc), RecurrenceKey(zoned))

	info := NewEventInfo(&Event{UID: "m"})
	info.SetOverride(NewEventInfo(&Event{UID: "m", RecurrenceID: &zoned}))
	_, ok := info.Override(utc)
	assert.True(t, ok)
}

func TestEndTime(t *testing.T) {
	start := caltime.UTC(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	d := caltime.Duration{Hours: 2}
	ev := &Event{Start: start, Duration: &d, EndType: EndDuration}
	assert.Equal(t, start.Time.Add(2*time.Hour), ev.EndTime())

	ev = &Event{Start: start}
	assert.Equal(t, start.Time, ev.EndTime())
}
