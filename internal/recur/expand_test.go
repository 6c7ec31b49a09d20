package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/caltime"
	"calcore/internal/model"
)

func weeklyWithOverride(t *testing.T) *model.EventInfo {
	t.Helper()
	master := timedEvent(utc(2024, 1, 1, 10), time.Hour, "FREQ=WEEKLY;COUNT=4")
	master.Summary = model.Text{Value: "Weekly"}
	info := model.NewEventInfo(master)

	rid := caltime.UTC(utc(2024, 1, 15, 10))
	ov := master.Clone()
	ov.RRules = nil
	ov.RecurrenceID = &rid
	ov.Start = caltime.UTC(utc(2024, 1, 15, 14))
	ov.Summary = model.Text{Value: "Moved"}
	info.SetOverride(model.NewEventInfo(ov))
	return info
}

func TestOverridePrecedence(t *testing.T) {
	info := weeklyWithOverride(t)

	res, err := ExpandOccurrences([]*model.EventInfo{info}, ExpandConfig{MaxYears: 2, MaxInstances: 10})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 4)

	third := res.Occurrences[2]
	assert.True(t, third.Override)
	assert.Equal(t, utc(2024, 1, 15, 14), third.Start)
	assert.Equal(t, utc(2024, 1, 15, 15), third.End)
	assert.Equal(t, "Moved", third.Summary)
	assert.Equal(t, "20240115T100000Z", third.InstanceKey)

	for _, i := range []int{0, 1, 3} {
		assert.False(t, res.Occurrences[i].Override)
		assert.Equal(t, "Weekly", res.Occurrences[i].Summary)
		assert.Equal(t, 10, res.Occurrences[i].Start.Hour())
	}
	assert.Empty(t, res.Divergent)
}

func TestExclusionBeatsOverride(t *testing.T) {
	info := weeklyWithOverride(t)
	info.Event.ExDates = []caltime.DateTime{caltime.UTC(utc(2024, 1, 15, 10))}

	res, err := ExpandOccurrences([]*model.EventInfo{info}, ExpandConfig{MaxYears: 2, MaxInstances: 10})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 3)
	for _, o := range res.Occurrences {
		assert.False(t, o.Override)
	}
	require.Len(t, res.Divergent, 1)
	assert.Equal(t, "evt-1", res.Divergent[0].UID)
	assert.Equal(t, utc(2024, 1, 15, 10), res.Divergent[0].RecurrenceID)
}

func TestExpandWindowAndDisplay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	info := model.NewEventInfo(timedEvent(utc(2024, 1, 1, 10), time.Hour, "FREQ=DAILY;COUNT=10"))

	res, err := ExpandOccurrences([]*model.EventInfo{info}, ExpandConfig{
		DisplayLocation: tokyo,
		RangeStart:      utc(2024, 1, 3, 0),
		RangeEnd:        utc(2024, 1, 5, 23),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 3)
	assert.Equal(t, 19, res.Occurrences[0].Start.Hour())
	assert.Equal(t, tokyo, res.Occurrences[0].Start.Location())
}

func TestExpandReportsTruncation(t *testing.T) {
	info := model.NewEventInfo(timedEvent(utc(2024, 1, 1, 10), time.Hour, "FREQ=HOURLY"))
	res, err := ExpandOccurrences([]*model.EventInfo{info}, ExpandConfig{MaxYears: 1, MaxInstances: 24})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 24)
	assert.Equal(t, []string{"evt-1"}, res.TruncatedEvents)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: utc(2024, 2, 1, 0), RangeEnd: utc(2024, 1, 1, 0)})
	assert.Error(t, err)
}

func TestContainedItemsBoundedByContainer(t *testing.T) {
	avail := &model.Event{
		Kind:    model.KindAvailability,
		UID:     "avail",
		Start:   caltime.UTC(utc(2024, 1, 1, 0)),
		End:     caltime.UTC(utc(2024, 1, 15, 0)),
		EndType: model.EndDate,
	}
	slot := timedEvent(utc(2024, 1, 1, 9), time.Hour, "FREQ=WEEKLY")
	slot.Kind = model.KindAvailableSlot
	slot.UID = "slot"

	info := model.NewEventInfo(avail)
	info.Contained = []*model.EventInfo{model.NewEventInfo(slot)}

	res, err := ExpandOccurrences([]*model.EventInfo{info}, ExpandConfig{MaxYears: 1, MaxInstances: 100})
	require.NoError(t, err)

	var slots []time.Time
	for _, o := range res.Occurrences {
		if o.UID == "slot" {
			slots = append(slots, o.Start)
		}
	}
	assert.Equal(t, []time.Time{utc(2024, 1, 1, 9), utc(2024, 1, 8, 9)}, slots)
	assert.Empty(t, res.TruncatedEvents)
}
