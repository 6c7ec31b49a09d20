package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/caltime"
	"calcore/internal/errs"
	"calcore/internal/model"
)

func utc(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func timedEvent(start time.Time, dur time.Duration, rules ...string) *model.Event {
	d := caltime.FromStd(dur)
	return &model.Event{
		Kind:     model.KindEvent,
		UID:      "evt-1",
		Start:    caltime.UTC(start),
		Duration: &d,
		EndType:  model.EndDuration,
		RRules:   rules,
	}
}

func starts(ps []Period) []time.Time {
	var out []time.Time
	for _, p := range ps {
		if !p.Placeholder {
			out = append(out, p.Start)
		}
	}
	return out
}

func TestDailyCountWithExdate(t *testing.T) {
	ev := &model.Event{
		Kind:    model.KindEvent,
		UID:     "daily",
		Start:   caltime.Date(2024, 1, 1),
		EndType: model.EndNone,
		RRules:  []string{"FREQ=DAILY;COUNT=5"},
	}

	res, err := GetPeriods(ev, 5, 100)
	require.NoError(t, err)
	require.Len(t, res.Instances, 5)
	for i, p := range res.Instances {
		assert.Equal(t, time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC), p.Start)
		assert.Equal(t, p.Start.AddDate(0, 0, 1), p.End)
	}

	ev.ExDates = []caltime.DateTime{caltime.Date(2024, 1, 3)}
	res, err = GetPeriods(ev, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 0), utc(2024, 1, 2, 0), utc(2024, 1, 4, 0), utc(2024, 1, 5, 0),
	}, starts(res.Instances))
	assert.Equal(t, []time.Time{utc(2024, 1, 3, 0)}, res.Excluded)
	assert.False(t, res.Truncated)
}

func TestUnboundedRuleIsBounded(t *testing.T) {
	start := utc(2024, 1, 1, 9)
	ev := timedEvent(start, time.Hour, "FREQ=DAILY")

	res, err := GetPeriods(ev, 1, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, res.Instances)
	assert.LessOrEqual(t, len(res.Instances), 1000)
	last := res.Instances[len(res.Instances)-1]
	assert.False(t, last.Start.After(start.AddDate(1, 0, 0)))
	assert.Equal(t, start.AddDate(1, 0, 0), res.RangeEnd)

	res, err = GetPeriods(ev, 1, 50)
	require.NoError(t, err)
	assert.Len(t, res.Instances, 50)
	assert.True(t, res.Truncated)
	assert.Equal(t, res.Instances[49].End, res.RangeEnd)
}

func TestUntil(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want int
	}{
		{"utc until", "FREQ=WEEKLY;UNTIL=20240129T090000Z", 5},
		{"date until covers the day", "FREQ=DAILY;UNTIL=20240103", 3},
		{"lower case", "freq=daily;until=20240102T090000z", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := timedEvent(utc(2024, 1, 1, 9), time.Hour, tc.rule)
			res, err := GetPeriods(ev, 5, 100)
			require.NoError(t, err)
			assert.Len(t, res.Instances, tc.want)
		})
	}
}

func TestRDateOnly(t *testing.T) {
	ev := timedEvent(utc(2024, 1, 1, 10), 30*time.Minute)
	ev.RDates = []model.RDate{
		{At: caltime.UTC(utc(2024, 3, 1, 10))},
		{At: caltime.UTC(utc(2024, 2, 1, 10))},
		{Period: &caltime.Period{Start: caltime.UTC(utc(2024, 4, 1, 8)), End: caltime.UTC(utc(2024, 4, 1, 12))}},
	}

	res, err := GetPeriods(ev, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 10), utc(2024, 2, 1, 10), utc(2024, 3, 1, 10), utc(2024, 4, 1, 8),
	}, starts(res.Instances))
	assert.Equal(t, utc(2024, 4, 1, 12), res.Instances[3].End)
	assert.Equal(t, utc(2024, 1, 1, 10), res.RangeStart)
}

func TestExRule(t *testing.T) {
	ev := timedEvent(utc(2024, 1, 1, 9), time.Hour, "FREQ=DAILY;COUNT=10")
	ev.ExRules = []string{"FREQ=WEEKLY;BYDAY=SA,SU"}

	res, err := GetPeriods(ev, 5, 100)
	require.NoError(t, err)
	assert.Len(t, res.Instances, 8)
	for _, p := range res.Instances {
		assert.NotEqual(t, time.Saturday, p.Start.Weekday())
		assert.NotEqual(t, time.Sunday, p.Start.Weekday())
	}
}

func TestMalformedRule(t *testing.T) {
	for _, rule := range []string{"FREQ=SOMETIMES", "COUNT=3", "FREQ=DAILY;COUNT=2;UNTIL=20240105T000000Z", "FREQ=DAILY;BOGUS=1"} {
		ev := timedEvent(utc(2024, 1, 1, 9), time.Hour, rule)
		_, err := GetPeriods(ev, 5, 100)
		require.Error(t, err, rule)
		assert.ErrorIs(t, err, errs.ErrMalformedInput)

		var e *errs.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "VEVENT", e.Component)
		assert.Equal(t, "evt-1", e.UID)

		assert.Error(t, ValidateRule(rule))
	}
	assert.NoError(t, ValidateRule("FREQ=MONTHLY;BYDAY=1MO;INTERVAL=2"))
}

func TestZonedAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	d := caltime.FromStd(time.Hour)
	ev := &model.Event{
		Kind:     model.KindEvent,
		UID:      "dst",
		Start:    caltime.Zoned(time.Date(2024, 3, 25, 9, 0, 0, 0, berlin), "Europe/Berlin", berlin),
		Duration: &d,
		EndType:  model.EndDuration,
		RRules:   []string{"FREQ=WEEKLY;COUNT=2"},
	}

	res, err := GetPeriods(ev, 1, 10)
	require.NoError(t, err)
	require.Len(t, res.Instances, 2)
	assert.Equal(t, 8, res.Instances[0].Start.UTC().Hour())
	assert.Equal(t, 7, res.Instances[1].Start.UTC().Hour())
	assert.Equal(t, 9, res.Instances[1].Start.Hour())
}

func TestParentEndClips(t *testing.T) {
	ev := timedEvent(utc(2024, 1, 1, 9), time.Hour, "FREQ=DAILY")
	res, err := GetPeriods(ev, 5, 1000, WithParentEnd(utc(2024, 1, 5, 12)))
	require.NoError(t, err)
	assert.Len(t, res.Instances, 5)
	assert.Equal(t, utc(2024, 1, 5, 12), res.RangeEnd)
}

func TestSuppressedMasterPlaceholder(t *testing.T) {
	ev := timedEvent(utc(2024, 5, 10, 9), time.Hour)
	ev.Suppressed = true
	ev.RDates = []model.RDate{{At: caltime.UTC(utc(2024, 5, 10, 9))}}

	res, err := GetPeriods(ev, 5, 100)
	require.NoError(t, err)
	require.Len(t, res.Instances, 2)
	ph := res.Instances[0]
	assert.True(t, ph.Placeholder)
	assert.True(t, ph.End.Before(res.RangeStart))
	assert.False(t, ph.End.Before(ph.Start))
	assert.Equal(t, utc(2024, 5, 10, 9), res.Instances[1].Start)
}

func TestNoStart(t *testing.T) {
	_, err := GetPeriods(&model.Event{UID: "x"}, 1, 1)
	assert.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestPeriodsNeverNegative(t *testing.T) {
	ev := &model.Event{
		Kind:    model.KindEvent,
		UID:     "neg",
		Start:   caltime.UTC(utc(2024, 1, 2, 9)),
		End:     caltime.UTC(utc(2024, 1, 1, 9)),
		EndType: model.EndDate,
		RRules:  []string{"FREQ=DAILY;COUNT=3"},
	}
	res, err := GetPeriods(ev, 1, 10)
	require.NoError(t, err)
	for _, p := range res.Instances {
		assert.False(t, p.End.Before(p.Start))
	}
}

func TestHighFrequencyRuleStopsAtCap(t *testing.T) {
	for _, rule := range []string{"FREQ=SECONDLY", "FREQ=MINUTELY"} {
		t.Run(rule, func(t *testing.T) {
			ev := timedEvent(utc(2024, 1, 1, 9), time.Second, rule)
			began := time.Now()
			res, err := GetPeriods(ev, 1, 10)
			require.NoError(t, err)
			assert.Less(t, time.Since(began), 2*time.Second)
			require.Len(t, res.Instances, 10)
			assert.True(t, res.Truncated)
			assert.Equal(t, utc(2024, 1, 1, 9), res.Instances[0].Start)
			assert.Equal(t, res.Instances[9].End, res.RangeEnd)
		})
	}
}

func TestFullyExcludedRuleStops(t *testing.T) {
	ev := timedEvent(utc(2024, 1, 1, 9), time.Second, "FREQ=SECONDLY")
	ev.ExRules = []string{"FREQ=SECONDLY"}

	res, err := GetPeriods(ev, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Instances)
	assert.True(t, res.Truncated)
	assert.NotEmpty(t, res.Excluded)
}

func TestRDatesMergeInOrder(t *testing.T) {
	ev := timedEvent(utc(2024, 1, 1, 9), time.Hour, "FREQ=WEEKLY;COUNT=3")
	ev.RDates = []model.RDate{
		{At: caltime.UTC(utc(2024, 1, 10, 9))},
		{At: caltime.UTC(utc(2024, 1, 8, 9))},
	}

	res, err := GetPeriods(ev, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9), utc(2024, 1, 8, 9), utc(2024, 1, 10, 9), utc(2024, 1, 15, 9),
	}, starts(res.Instances))
	assert.Equal(t, utc(2024, 1, 16, 10), res.RangeEnd)
}
