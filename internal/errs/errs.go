// Package errs defines the failure taxonomy shared by ingest, emit and
// recurrence expansion. Every failure names the offending component,
// property and uid so callers can map it onto a protocol response.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a translation failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedInput
	KindMissingRequiredField
	KindAmbiguity
	KindMismatchedType
	KindPolicyViolation
	KindCollaboratorFailure
)

func (k Kind) String() string {
	switch k {
	case KindMalformedInput:
		return "malformed input"
	case KindMissingRequiredField:
		return "missing required field"
	case KindAmbiguity:
		return "ambiguous uid"
	case KindMismatchedType:
		return "mismatched type"
	case KindPolicyViolation:
		return "policy violation"
	case KindCollaboratorFailure:
		return "collaborator failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrMalformedInput       = &Error{Kind: KindMalformedInput}
	ErrMissingRequiredField = &Error{Kind: KindMissingRequiredField}
	ErrAmbiguity            = &Error{Kind: KindAmbiguity}
	ErrMismatchedType       = &Error{Kind: KindMismatchedType}
	ErrPolicyViolation      = &Error{Kind: KindPolicyViolation}
	ErrCollaboratorFailure  = &Error{Kind: KindCollaboratorFailure}
)

// Error is a classified failure with location context.
type Error struct {
	Kind      Kind
	Component string
	Property  string
	UID       string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	var loc []string
	if e.Component != "" {
		loc = append(loc, "component="+e.Component)
	}
	if e.Property != "" {
		loc = append(loc, "property="+e.Property)
	}
	if e.UID != "" {
		loc = append(loc, "uid="+e.UID)
	}
	if len(loc) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(loc, " "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrAmbiguity)
// works regardless of location fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// At fills in location fields that are still empty and returns e.
func (e *Error) At(component, property, uid string) *Error {
	if e.Component == "" {
		e.Component = component
	}
	if e.Property == "" {
		e.Property = property
	}
	if e.UID == "" {
		e.UID = uid
	}
	return e
}

// Locate attaches location to err. Classified errors keep their kind,
// anything else is reported as MalformedInput.
func Locate(err error, component, property, uid string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		e.At(component, property, uid)
		return err
	}
	return (&Error{Kind: KindMalformedInput, Err: err}).At(component, property, uid)
}

// KindOf reports the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
