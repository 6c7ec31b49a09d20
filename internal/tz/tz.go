// Package tz resolves TZID values: first against the system registry, then
// a per-context cache, then VTIMEZONE definitions carried in-band.
package tz

import (
	"errors"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"calcore/internal/errs"
	appLog "calcore/internal/log"
)

// ErrUnknownTimezone is wrapped by every resolution failure.
var ErrUnknownTimezone = errors.New("unknown timezone")

// Registry is the system timezone database.
type Registry interface {
	Load(id string) (*time.Location, error)
}

// SystemRegistry loads zones through time.LoadLocation, backed by the
// embedded tzdata when the host has none.
type SystemRegistry struct{}

func (SystemRegistry) Load(id string) (*time.Location, error) {
	if id == "" || strings.EqualFold(id, "Local") {
		return nil, ErrUnknownTimezone
	}
	return time.LoadLocation(id)
}

// Info is a resolved zone.
type Info struct {
	ID       string
	Location *time.Location
	// Raw is the VTIMEZONE text the zone was built from, if any.
	Raw      string
	Embedded bool
	// Fallback marks a zone that could not be resolved and was replaced
	// by UTC because forceUTC was set.
	Fallback bool
}

// Resolver is one translation context's view of timezones. It is safe for
// concurrent use; a single lock covers the cache and embedded parsing.
type Resolver struct {
	registry Registry
	forceUTC bool

	mu       sync.Mutex
	cache    map[string]*Info
	embedded map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRegistry replaces the system registry.
func WithRegistry(reg Registry) Option {
	return func(r *Resolver) { r.registry = reg }
}

// WithForceUTC makes every unresolvable zone fall back to UTC.
func WithForceUTC(force bool) Option {
	return func(r *Resolver) { r.forceUTC = force }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		registry: SystemRegistry{},
		cache:    make(map[string]*Info),
		embedded: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// utcInfo is shared by every UTC spelling.
var utcInfo = &Info{ID: "UTC", Location: time.UTC}

func isUTCName(id string) bool {
	switch strings.ToUpper(strings.TrimSpace(id)) {
	case "UTC", "Z", "GMT", "ETC/UTC", "ETC/GMT":
		return true
	}
	return false
}

// registryName strips vendor prefixes such as "/mozilla.org/20050126_1/".
func registryName(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "/") {
		parts := strings.Split(strings.TrimPrefix(id, "/"), "/")
		if len(parts) > 2 && strings.Contains(parts[0], ".") {
			return strings.Join(parts[2:], "/")
		}
		return strings.TrimPrefix(id, "/")
	}
	return id
}

// SystemKnows reports whether the registry resolves id without help.
func (r *Resolver) SystemKnows(id string) bool {
	if isUTCName(id) {
		return true
	}
	_, err := r.registry.Load(registryName(id))
	return err == nil
}

// Resolve looks id up without an in-band definition.
func (r *Resolver) Resolve(id string) (*Info, error) {
	return r.ResolveEmbedded(id, "", false)
}

// ResolveEmbedded looks id up, falling back to raw (a VTIMEZONE block
// carried on the event) and finally to UTC when forceUTC or the resolver's
// own setting allows it.
func (r *Resolver) ResolveEmbedded(id, raw string, forceUTC bool) (*Info, error) {
	if isUTCName(id) {
		return utcInfo, nil
	}
	if loc, err := r.registry.Load(registryName(id)); err == nil {
		return &Info{ID: id, Location: loc}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.cache[id]; ok {
		return info, nil
	}
	if raw == "" {
		raw = r.embedded[id]
	}
	if raw != "" {
		info, err := ParseDefinition(raw)
		if err == nil && info.ID == id {
			r.cache[id] = info
			return info, nil
		}
		if err == nil {
			err = errs.New(errs.KindMalformedInput, "definition is for %q", info.ID)
		}
		appLog.Warn("tz: embedded definition unusable", "tzid", id, "err", err)
	}

	if forceUTC || r.forceUTC {
		appLog.Warn("tz: unknown timezone, using UTC", "tzid", id)
		info := &Info{ID: id, Location: time.UTC, Fallback: true}
		r.cache[id] = info
		return info, nil
	}
	return nil, errs.Wrap(errs.KindMalformedInput, ErrUnknownTimezone, "tzid %q", id)
}

// Register makes an in-band VTIMEZONE available to later lookups and
// returns its TZID. Parsing is deferred to the first lookup that needs it.
func (r *Resolver) Register(raw string) (string, error) {
	id, err := definitionID(raw)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.embedded[id]; !ok {
		r.embedded[id] = raw
	}
	return id, nil
}

// Definition returns the in-band VTIMEZONE text registered or resolved
// for id.
func (r *Resolver) Definition(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.cache[id]; ok && info.Raw != "" {
		return info.Raw, true
	}
	raw, ok := r.embedded[id]
	return raw, ok
}
