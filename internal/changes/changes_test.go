package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	assert.Equal(t, IndexDtStart, Lookup("dtstart"))
	assert.Equal(t, IndexCost, Lookup("X-CALCORE-COST"))
	assert.Equal(t, IndexCategories, Lookup("X-CALCORE-CATEGORY"))
	assert.Equal(t, IndexXProp, Lookup("X-MOZ-GENERATION"))
	assert.Equal(t, IndexUnknown, Lookup("FOO"))
	assert.True(t, IsReservedAlias("x-calcore-location"))
	assert.Equal(t, "RECURRENCE-ID", IndexRecurrenceID.String())
}

func TestBuilderPresenceOnlyIsEmpty(t *testing.T) {
	b := NewBuilder("mailto:me@example.com")
	b.MarkPresent(IndexSummary)
	b.Record(IndexSummary, []string{"a"}, []string{"a"})
	s := b.Build()

	assert.True(t, s.Empty())
	assert.True(t, s.Present(IndexSummary))
	assert.Equal(t, "mailto:me@example.com", s.Principal)
}

func TestBuilderTransitions(t *testing.T) {
	b := NewBuilder("")
	b.MarkPresent(IndexAttendee)
	b.Record(IndexAttendee, []string{"mailto:a", "mailto:b"}, []string{"mailto:b", "mailto:c"})
	b.Record(IndexDtStart, nil, []string{"20240101"})
	s := b.Build()

	require.False(t, s.Empty())
	assert.Equal(t, []Index{IndexDtStart, IndexAttendee}, s.ChangedIndexes())

	e, ok := s.Get(IndexAttendee)
	require.True(t, ok)
	assert.Equal(t, []string{"mailto:c"}, e.Added())
	assert.Equal(t, []string{"mailto:a"}, e.Removed())
	assert.False(t, s.Present(IndexDtStart))
}

func TestMerge(t *testing.T) {
	a := NewBuilder("p")
	a.Record(IndexSummary, []string{"x"}, []string{"y"})
	s := a.Build()

	b := NewBuilder("p")
	b.MarkPresent(IndexSummary)
	b.Record(IndexSummary, []string{"y"}, []string{"z"})
	b.Record(IndexStatus, nil, []string{"CONFIRMED"})
	s.Merge(b.Build())

	e, _ := s.Get(IndexSummary)
	assert.Equal(t, []string{"x"}, e.Old)
	assert.Equal(t, []string{"z"}, e.New)
	assert.True(t, e.Present)
	assert.True(t, s.Changed(IndexStatus))
}
