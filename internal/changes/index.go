// Package changes tracks per-property transitions while a component is
// translated onto an existing event.
package changes

import "strings"

// Index is the canonical identity of a property, independent of how it is
// spelled on the wire.
type Index int

const (
	IndexUnknown Index = iota
	IndexUID
	IndexRecurrenceID
	IndexDtStart
	IndexDtEnd
	IndexDuration
	IndexDue
	IndexSequence
	IndexStatus
	IndexClass
	IndexSummary
	IndexDescription
	IndexLocation
	IndexCategories
	IndexContact
	IndexComment
	IndexResources
	IndexURL
	IndexPriority
	IndexTransp
	IndexCreated
	IndexLastModified
	IndexDtStamp
	IndexCompleted
	IndexPercentComplete
	IndexGeo
	IndexOrganizer
	IndexAttendee
	IndexAttach
	IndexRelatedTo
	IndexRequestStatus
	IndexRRule
	IndexRDate
	IndexExRule
	IndexExDate
	IndexFreeBusy
	IndexBusyType
	IndexPollMode
	IndexPollProperties
	IndexPollWinner
	IndexPollItemID
	IndexCost
	IndexAlarm
	IndexTimezone
	IndexSnapshot
	IndexXProp

	indexCount
)

// ReservedPrefix marks x-properties owned by this module.
const ReservedPrefix = "X-CALCORE-"

var indexNames = [indexCount]string{
	IndexUnknown:         "",
	IndexUID:             "UID",
	IndexRecurrenceID:    "RECURRENCE-ID",
	IndexDtStart:         "DTSTART",
	IndexDtEnd:           "DTEND",
	IndexDuration:        "DURATION",
	IndexDue:             "DUE",
	IndexSequence:        "SEQUENCE",
	IndexStatus:          "STATUS",
	IndexClass:           "CLASS",
	IndexSummary:         "SUMMARY",
	IndexDescription:     "DESCRIPTION",
	IndexLocation:        "LOCATION",
	IndexCategories:      "CATEGORIES",
	IndexContact:         "CONTACT",
	IndexComment:         "COMMENT",
	IndexResources:       "RESOURCES",
	IndexURL:             "URL",
	IndexPriority:        "PRIORITY",
	IndexTransp:          "TRANSP",
	IndexCreated:         "CREATED",
	IndexLastModified:    "LAST-MODIFIED",
	IndexDtStamp:         "DTSTAMP",
	IndexCompleted:       "COMPLETED",
	IndexPercentComplete: "PERCENT-COMPLETE",
	IndexGeo:             "GEO",
	IndexOrganizer:       "ORGANIZER",
	IndexAttendee:        "ATTENDEE",
	IndexAttach:          "ATTACH",
	IndexRelatedTo:       "RELATED-TO",
	IndexRequestStatus:   "REQUEST-STATUS",
	IndexRRule:           "RRULE",
	IndexRDate:           "RDATE",
	IndexExRule:          "EXRULE",
	IndexExDate:          "EXDATE",
	IndexFreeBusy:        "FREEBUSY",
	IndexBusyType:        "BUSYTYPE",
	IndexPollMode:        "POLL-MODE",
	IndexPollProperties:  "POLL-PROPERTIES",
	IndexPollWinner:      "POLL-WINNER",
	IndexPollItemID:      "POLL-ITEM-ID",
	IndexCost:            ReservedPrefix + "COST",
	IndexAlarm:           "VALARM",
	IndexTimezone:        ReservedPrefix + "TZ",
	IndexSnapshot:        ReservedPrefix + "ICAL",
	IndexXProp:           "X-",
}

// Reserved x-properties that decode onto a standard index.
var reservedAliases = map[string]Index{
	ReservedPrefix + "CATEGORY": IndexCategories,
	ReservedPrefix + "LOCATION": IndexLocation,
	ReservedPrefix + "CONTACT":  IndexContact,
}

var byName map[string]Index

func init() {
	byName = make(map[string]Index, indexCount)
	for i := IndexUID; i < indexCount; i++ {
		if i == IndexXProp {
			continue
		}
		byName[indexNames[i]] = i
	}
	for name, idx := range reservedAliases {
		byName[name] = idx
	}
}

func (i Index) String() string {
	if i < 0 || i >= indexCount {
		return ""
	}
	return indexNames[i]
}

// Lookup resolves a property (or sub-component) name to its index.
// Unregistered x-properties resolve to IndexXProp; anything else is unknown.
func Lookup(name string) Index {
	name = strings.ToUpper(strings.TrimSpace(name))
	if idx, ok := byName[name]; ok {
		return idx
	}
	if strings.HasPrefix(name, "X-") {
		return IndexXProp
	}
	return IndexUnknown
}

// IsReservedAlias reports whether name is the x-property spelling of a
// standard index (categories, location, contact).
func IsReservedAlias(name string) bool {
	_, ok := reservedAliases[strings.ToUpper(name)]
	return ok
}

// All lists every index in traversal order.
func All() []Index {
	out := make([]Index, 0, indexCount-1)
	for i := IndexUID; i < indexCount; i++ {
		out = append(out, i)
	}
	return out
}
