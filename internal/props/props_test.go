package props

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/model"
	"calcore/internal/wire"
)

func TestExtensionParams(t *testing.T) {
	assert.False(t, IsExtensionParam("cn"))
	assert.False(t, IsExtensionParam("TZID"))
	assert.True(t, IsExtensionParam("X-PARAM"))
	assert.True(t, IsExtensionParam("FOO"))

	p := wire.NewProperty("SUMMARY", "x").WithParam("LANGUAGE", "en")
	assert.False(t, HasExtensionParams(p))
	assert.True(t, HasExtensionParams(p.WithParam("X-TRACE", "1")))
}

func TestAttendeeRoundTrip(t *testing.T) {
	p := wire.NewProperty("ATTENDEE", " mailto:jane@example.com ").
		WithParam("CN", "Jane").
		WithParam("ROLE", "opt-participant").
		WithParam("PARTSTAT", "accepted").
		WithParam("RSVP", "true").
		WithParam("X-TEAM", "core")
	p.Params["DELEGATED-FROM"] = []string{"mailto:a@example.com", "mailto:b@example.com"}

	a := Attendee(p)
	assert.Equal(t, "mailto:jane@example.com", a.Address)
	assert.Equal(t, "OPT-PARTICIPANT", a.Role)
	assert.Equal(t, "ACCEPTED", a.PartStat)
	assert.True(t, a.RSVP)
	assert.Len(t, a.DelegatedFrom, 2)
	assert.Equal(t, map[string][]string{"X-TEAM": {"core"}}, a.Params)

	back := AttendeeProperty(a)
	assert.Equal(t, "ATTENDEE", back.Name)
	assert.Equal(t, "OPT-PARTICIPANT", back.Param("ROLE"))
	assert.Equal(t, "TRUE", back.Param("RSVP"))
	assert.Equal(t, "core", back.Param("X-TEAM"))
	assert.Equal(t, p.Params["DELEGATED-FROM"], back.Params["DELEGATED-FROM"])
}

func TestAttendeeDefaultsNotWritten(t *testing.T) {
	p := AttendeeProperty(model.Attendee{Address: "mailto:x@example.com", Role: "REQ-PARTICIPANT", CUType: "INDIVIDUAL"})
	assert.Empty(t, p.Params)
}

func TestOrganizer(t *testing.T) {
	o := Organizer(wire.NewProperty("ORGANIZER", "mailto:boss@example.com").WithParam("CN", "Boss").WithParam("X-A", "1"))
	require.NotNil(t, o)
	assert.Equal(t, "Boss", o.CommonName)

	back := OrganizerProperty(o)
	assert.Equal(t, "mailto:boss@example.com", back.Value())
	assert.Equal(t, "Boss", back.Param("CN"))
	assert.Equal(t, "1", back.Param("X-A"))
}

func TestAttachment(t *testing.T) {
	uri := Attachment(wire.NewProperty("ATTACH", "https://example.com/a.pdf").WithParam("FMTTYPE", "application/pdf"))
	assert.Equal(t, "https://example.com/a.pdf", uri.URI)
	assert.Empty(t, uri.Binary)
	assert.Equal(t, "application/pdf", AttachmentProperty(uri).Param("FMTTYPE"))

	bin := Attachment(wire.NewProperty("ATTACH", "aGVsbG8=").WithParam("VALUE", "BINARY").WithParam("ENCODING", "BASE64"))
	assert.Equal(t, "aGVsbG8=", bin.Binary)
	out := AttachmentProperty(bin)
	assert.Equal(t, "BINARY", out.Param("VALUE"))
	assert.Equal(t, "BASE64", out.Param("ENCODING"))
}

func TestTextAndRelation(t *testing.T) {
	txt := Text(wire.NewProperty("SUMMARY", "Hallo").WithParam("LANGUAGE", "de"))
	assert.Equal(t, model.Text{Value: "Hallo", Language: "de"}, txt)
	assert.Equal(t, "de", TextProperty("SUMMARY", txt).Param("LANGUAGE"))

	rel := Relation(wire.NewProperty("RELATED-TO", "parent@example.com").WithParam("RELTYPE", "parent"))
	assert.Equal(t, "PARENT", rel.RelType)
	assert.Empty(t, RelationProperty(rel).Params, "PARENT is the default")
	assert.Equal(t, "SIBLING", RelationProperty(model.Relation{UID: "s", RelType: "SIBLING"}).Param("RELTYPE"))
}

func TestXProp(t *testing.T) {
	p := wire.Property{Name: "X-LIST", Params: wire.Params{"X-K": {"v"}}, Values: []string{"a", "b"}}
	x := XProp(p)
	assert.Equal(t, "a,b", x.Value)

	back := XPropProperty(x)
	assert.Equal(t, "X-LIST", back.Name)
	assert.Equal(t, "a,b", back.Value())
	assert.Equal(t, "v", back.Param("X-K"))
}
