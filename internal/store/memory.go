package store

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/school-intel/internal/model"
)

// MemoryStore is an in-process Store. Writes for different schools only
// contend on a short map lookup; writes for one school are serialized by
// that school's lock.
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	schools map[string]*memEntry
}

type memEntry struct {
	mu      sync.RWMutex
	school  model.School
	history []*model.ExtractionResult
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{schools: make(map[string]*memEntry)}
}

func (s *MemoryStore) entry(id string, create bool) *memEntry {
	s.mu.RLock()
	e, ok := s.schools[id]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.schools[id]; ok {
		return e
	}
	e = &memEntry{school: model.School{ID: id}}
	s.schools[id] = e
	s.order = append(s.order, id)
	return e
}

// RegisterSchool implements Store.
func (s *MemoryStore) RegisterSchool(_ context.Context, school model.School) error {
	if school.ID == "" {
		return eris.New("store: empty school id")
	}
	e := s.entry(school.ID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.school.Name = school.Name
	e.school.SourceURLs = append([]string(nil), school.SourceURLs...)
	if school.LastScrapedAt != nil {
		e.school.LastScrapedAt = laterOf(e.school.LastScrapedAt, *school.LastScrapedAt)
	}
	return nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, schoolID string, res *model.ExtractionResult) error {
	if err := checkPut(schoolID, res); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "store: put")
	}
	stored := stamp(schoolID, res)

	e := s.entry(schoolID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, stored)
	e.school.LastScrapedAt = laterOf(e.school.LastScrapedAt, stored.ExtractedAt)
	return nil
}

// GetLatest implements Store.
func (s *MemoryStore) GetLatest(_ context.Context, schoolID string) (*model.ExtractionResult, error) {
	e := s.entry(schoolID, false)
	if e == nil {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "store: %s", schoolID)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return pickLatest(schoolID, e.history)
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, schoolID string) ([]*model.ExtractionResult, error) {
	e := s.entry(schoolID, false)
	if e == nil {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "store: %s", schoolID)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.ExtractionResult, len(e.history))
	for i, r := range e.history {
		out[i] = r.Clone()
	}
	return out, nil
}

// ListSchools implements Store.
func (s *MemoryStore) ListSchools(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// GetSchool implements Store.
func (s *MemoryStore) GetSchool(_ context.Context, schoolID string) (*model.School, error) {
	e := s.entry(schoolID, false)
	if e == nil {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "store: %s", schoolID)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp := e.school
	cp.SourceURLs = append([]string(nil), e.school.SourceURLs...)
	if e.school.LastScrapedAt != nil {
		t := *e.school.LastScrapedAt
		cp.LastScrapedAt = &t
	}
	return &cp, nil
}

// Migrate is a no-op for the memory store.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
