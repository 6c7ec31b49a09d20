package model

import (
	"strings"

	"calcore/internal/caltime"
)

// AlarmKind is the internal alarm action.
type AlarmKind int

const (
	AlarmNone AlarmKind = iota
	AlarmDisplay
	AlarmAudio
	AlarmEmail
	AlarmProcedure
	AlarmOther
)

// AlarmKindFromAction maps an ACTION value. Unknown actions are AlarmOther.
func AlarmKindFromAction(action string) AlarmKind {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "DISPLAY":
		return AlarmDisplay
	case "AUDIO":
		return AlarmAudio
	case "EMAIL":
		return AlarmEmail
	case "PROCEDURE":
		return AlarmProcedure
	case "NONE":
		return AlarmNone
	default:
		return AlarmOther
	}
}

// Action returns the ACTION value for k. AlarmOther has no fixed value.
func (k AlarmKind) Action() string {
	switch k {
	case AlarmDisplay:
		return "DISPLAY"
	case AlarmAudio:
		return "AUDIO"
	case AlarmEmail:
		return "EMAIL"
	case AlarmProcedure:
		return "PROCEDURE"
	case AlarmNone:
		return "NONE"
	default:
		return ""
	}
}

// Alarm is the internal form of a VALARM block.
type Alarm struct {
	UID  string
	Kind AlarmKind
	// ActionName keeps the wire action for AlarmOther.
	ActionName string

	// Exactly one of TriggerAt or TriggerOffset is set.
	TriggerAt     caltime.DateTime
	TriggerOffset *caltime.Duration
	RelatedEnd    bool
	// Snoozed marks TriggerAt as a snooze time that replaced the trigger.
	Snoozed bool

	// Duration and Repeat are both set or both absent.
	Duration *caltime.Duration
	Repeat   int

	Description string
	Summary     string
	Attachments []Attachment
	Attendees   []Attendee

	Acknowledged caltime.DateTime
	RelatedTo    []Relation
	XProps       []XProp
}
