// Package translate maps wire components onto the event graph (ingest)
// and the graph back onto a wire tree (emit). Both directions walk the
// same property handler table.
package translate

import (
	"context"
	"strings"

	"calcore/internal/model"
)

// Strictness governs how iTIP conformance problems are treated.
type Strictness int

const (
	Strict Strictness = iota
	Warn
	Lenient
)

func (s Strictness) String() string {
	switch s {
	case Strict:
		return "strict"
	case Warn:
		return "warn"
	default:
		return "lenient"
	}
}

// ParseStrictness reads a config value; unknown values are Warn.
func ParseStrictness(s string) Strictness {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return Strict
	case "lenient":
		return Lenient
	default:
		return Warn
	}
}

// Collaborators is everything ingest needs from the host system. Calls
// are assumed idempotent by value and are never retried.
type Collaborators interface {
	// CurrentPrincipal is the calendar address of the acting user.
	CurrentPrincipal() string
	// Owner is the calendar address of the collection owner.
	Owner() string
	// NormalizeAddress canonicalizes a calendar user address.
	NormalizeAddress(addr string) string

	FindOrCreateCategory(ctx context.Context, ref model.Ref) (model.Ref, error)
	FindOrCreateContact(ctx context.Context, ref model.Ref) (model.Ref, error)
	FindOrCreateLocation(ctx context.Context, ref model.Ref) (model.Ref, error)

	// EventsByUID returns every persisted event with uid.
	EventsByUID(ctx context.Context, uid string) ([]*model.EventInfo, error)

	Strictness() Strictness
}

// Collection describes the target collection.
type Collection struct {
	Path               string
	IsSchedulingInbox  bool
	IsSchedulingOutbox bool
}

func (c Collection) scheduling() bool {
	return c.IsSchedulingInbox || c.IsSchedulingOutbox
}

// Batch is the state shared by the components of one calendar object.
type Batch struct {
	// Method is the iTIP METHOD of the enclosing calendar.
	Method string
	// Masters holds every master returned or manufactured so far, by uid.
	Masters map[string]*model.EventInfo
	order   []string
}

// NewBatch starts a batch for a calendar carrying method.
func NewBatch(method string) *Batch {
	return &Batch{Method: strings.ToUpper(method), Masters: make(map[string]*model.EventInfo)}
}

func (b *Batch) add(info *model.EventInfo) {
	uid := info.Event.UID
	if _, ok := b.Masters[uid]; !ok {
		b.order = append(b.order, uid)
	}
	b.Masters[uid] = info
}

// Infos lists the batch's masters in first-seen order.
func (b *Batch) Infos() []*model.EventInfo {
	out := make([]*model.EventInfo, 0, len(b.order))
	for _, uid := range b.order {
		out = append(out, b.Masters[uid])
	}
	return out
}
