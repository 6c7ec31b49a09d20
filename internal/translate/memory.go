package translate

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"calcore/internal/model"
)

// MemoryStore is an in-process Collaborators implementation. It backs the
// command line tools and the HTTP service, where no persistence layer
// exists.
type MemoryStore struct {
	principal  string
	owner      string
	strictness Strictness

	mu        sync.Mutex
	events    map[string][]*model.EventInfo
	refs      map[string]map[string]model.Ref
	refValues map[string]map[string]string
}

// NewMemoryStore creates an empty store acting as principal.
func NewMemoryStore(principal string, strictness Strictness) *MemoryStore {
	return &MemoryStore{
		principal:  principal,
		owner:      principal,
		strictness: strictness,
		events:     make(map[string][]*model.EventInfo),
		refs:       make(map[string]map[string]model.Ref),
		refValues:  make(map[string]map[string]string),
	}
}

func (s *MemoryStore) CurrentPrincipal() string { return s.principal }
func (s *MemoryStore) Owner() string            { return s.owner }
func (s *MemoryStore) Strictness() Strictness   { return s.strictness }

// NormalizeAddress lower-cases the scheme and mailto address.
func (s *MemoryStore) NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
		return "mailto:" + strings.ToLower(addr[7:])
	}
	return addr
}

func (s *MemoryStore) FindOrCreateCategory(_ context.Context, ref model.Ref) (model.Ref, error) {
	return s.findOrCreate("category", ref), nil
}

func (s *MemoryStore) FindOrCreateContact(_ context.Context, ref model.Ref) (model.Ref, error) {
	return s.findOrCreate("contact", ref), nil
}

func (s *MemoryStore) FindOrCreateLocation(_ context.Context, ref model.Ref) (model.Ref, error) {
	return s.findOrCreate("location", ref), nil
}

// findOrCreate matches by id, then by value, else creates.
func (s *MemoryStore) findOrCreate(kind string, ref model.Ref) model.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.refs[kind]
	if !ok {
		byID = make(map[string]model.Ref)
		s.refs[kind] = byID
		s.refValues[kind] = make(map[string]string)
	}
	if ref.ID != "" {
		if got, ok := byID[ref.ID]; ok {
			return got
		}
	}
	if id, ok := s.refValues[kind][ref.Value]; ok {
		return byID[id]
	}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	byID[ref.ID] = ref
	s.refValues[kind][ref.Value] = ref.ID
	return ref
}

func (s *MemoryStore) EventsByUID(_ context.Context, uid string) ([]*model.EventInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.EventInfo(nil), s.events[uid]...), nil
}

// Put stores info, replacing any event with the same uid.
func (s *MemoryStore) Put(info *model.EventInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[info.Event.UID] = []*model.EventInfo{info}
}

// Add stores info alongside any event with the same uid.
func (s *MemoryStore) Add(info *model.EventInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[info.Event.UID] = append(s.events[info.Event.UID], info)
}
