package model

import "strings"

// Kind is the entity kind of a calendar component, decided once when the
// component is parsed and carried explicitly afterwards.
type Kind int

const (
	KindEvent Kind = iota
	KindTodo
	KindJournal
	KindFreeBusy
	KindAvailability
	KindAvailableSlot
	KindPoll
)

var kindComponents = map[Kind]string{
	KindEvent:         "VEVENT",
	KindTodo:          "VTODO",
	KindJournal:       "VJOURNAL",
	KindFreeBusy:      "VFREEBUSY",
	KindAvailability:  "VAVAILABILITY",
	KindAvailableSlot: "AVAILABLE",
	KindPoll:          "VPOLL",
}

// ComponentName returns the wire component name, e.g. "VTODO".
func (k Kind) ComponentName() string {
	return kindComponents[k]
}

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindTodo:
		return "todo"
	case KindJournal:
		return "journal"
	case KindFreeBusy:
		return "freebusy"
	case KindAvailability:
		return "availability"
	case KindAvailableSlot:
		return "available"
	case KindPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// KindFromComponent maps a wire component name to its kind.
func KindFromComponent(name string) (Kind, bool) {
	name = strings.ToUpper(name)
	for k, n := range kindComponents {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// AllowsNoStart reports whether the kind may arrive without any of
// DTSTART/DTEND/DURATION/DUE (free/busy replies, tasks, polls).
func (k Kind) AllowsNoStart() bool {
	switch k {
	case KindFreeBusy, KindTodo, KindPoll:
		return true
	default:
		return false
	}
}

// EndType says which of end or duration is authoritative.
type EndType int

const (
	EndNone EndType = iota
	EndDate
	EndDuration
)

func (e EndType) String() string {
	switch e {
	case EndDate:
		return "date"
	case EndDuration:
		return "duration"
	default:
		return "none"
	}
}
