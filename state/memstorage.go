package state

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/ts4z/spinwheel/he"
	"github.com/ts4z/spinwheel/model"
)

// MemStorage keeps wheels in process memory.  It is what runs when no
// database is configured, and what tests use.
type MemStorage struct {
	lock   sync.Mutex
	nextID int64
	wheels map[int64]*record
}

type record struct {
	lock  int64
	wheel storedWheel
}

var _ WheelStorage = (*MemStorage)(nil)

func NewMemStorage() *MemStorage {
	return &MemStorage{
		nextID: 1,
		wheels: map[int64]*record{},
	}
}

func (s *MemStorage) Close() {}

func cloneStored(w storedWheel) storedWheel {
	w.Entries = slices.Clone(w.Entries)
	return w
}

func (s *MemStorage) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids := make([]int64, 0, len(s.wheels))
	for id := range s.wheels {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	overview := &model.Overview{Slugs: []model.WheelSlug{}}
	for i, id := range ids {
		if i < offset {
			continue
		}
		if limit > 0 && len(overview.Slugs) >= limit {
			break
		}
		w := s.wheels[id].wheel
		overview.Slugs = append(overview.Slugs, model.WheelSlug{
			WheelID:    id,
			Name:       w.Name,
			EntryCount: len(w.Entries),
		})
	}
	return overview, nil
}

func (s *MemStorage) CreateWheel(ctx context.Context, w *model.Wheel) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	id := s.nextID
	s.nextID++
	s.wheels[id] = &record{wheel: cloneStored(toStored(w))}
	return id, nil
}

func (s *MemStorage) FetchWheel(ctx context.Context, id int64) (*model.Wheel, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	r, ok := s.wheels[id]
	if !ok {
		return nil, he.HTTPCodedErrorf(http.StatusNotFound, "no such wheel id %d", id)
	}
	return cloneStored(r.wheel).toWheel(id, r.lock), nil
}

func (s *MemStorage) SaveWheel(ctx context.Context, w *model.Wheel) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	r, ok := s.wheels[w.WheelID]
	if !ok {
		return he.HTTPCodedErrorf(http.StatusNotFound, "no such wheel id %d", w.WheelID)
	}
	if r.lock != w.OptimisticLock {
		return he.HTTPCodedErrorf(http.StatusConflict, "optimistic lock failure on wheel %d: have %d, stored %d", w.WheelID, w.OptimisticLock, r.lock)
	}
	r.lock++
	r.wheel = cloneStored(toStored(w))
	w.OptimisticLock = r.lock
	return nil
}

func (s *MemStorage) DeleteWheel(ctx context.Context, id int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.wheels[id]; !ok {
		return he.HTTPCodedErrorf(http.StatusNotFound, "no such wheel id %d", id)
	}
	delete(s.wheels, id)
	return nil
}
