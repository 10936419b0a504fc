// Package dbcache keeps recently used wheels in memory in front of a
// slower state.WheelStorage.
package dbcache

import (
	"context"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ts4z/spinwheel/model"
	"github.com/ts4z/spinwheel/state"
	"github.com/ts4z/spinwheel/varz"
)

var (
	wheelCacheHits       = varz.NewInt("wheelCacheHits")
	wheelCacheMisses     = varz.NewInt("wheelCacheMisses")
	wheelCacheStaleStore = varz.NewInt("wheelCacheStaleStore")
)

type WheelStorage struct {
	cache *lru.Cache[int64, *model.Wheel]
	lock  sync.Mutex
	next  state.WheelStorage
}

var _ state.WheelStorage = (*WheelStorage)(nil)

func NewWheelStorage(size int, next state.WheelStorage) *WheelStorage {
	cache, err := lru.New[int64, *model.Wheel](size)
	if err != nil {
		log.Fatalf("can't create wheel cache: %v", err)
	}
	return &WheelStorage{
		cache: cache,
		next:  next,
	}
}

func (s *WheelStorage) Close() {
	s.cache.Purge()
	s.next.Close()
}

func (s *WheelStorage) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	return s.next.FetchOverview(ctx, offset, limit)
}

func (s *WheelStorage) CreateWheel(ctx context.Context, w *model.Wheel) (int64, error) {
	return s.next.CreateWheel(ctx, w)
}

func (s *WheelStorage) DeleteWheel(ctx context.Context, id int64) error {
	s.cache.Remove(id)
	return s.next.DeleteWheel(ctx, id)
}

// store keeps a copy of w unless we already hold something newer.
func (s *WheelStorage) store(w *model.Wheel) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if cached, ok := s.cache.Peek(w.WheelID); ok && cached.OptimisticLock > w.OptimisticLock {
		wheelCacheStaleStore.Add(1)
		log.Printf("cache: have lock %d for wheel %d, incoming %d, ignoring", cached.OptimisticLock, w.WheelID, w.OptimisticLock)
		return
	}
	s.cache.Add(w.WheelID, w.Clone())
}

func (s *WheelStorage) FetchWheel(ctx context.Context, id int64) (*model.Wheel, error) {
	if w, ok := s.cache.Get(id); ok {
		wheelCacheHits.Add(1)
		return w.Clone(), nil
	}

	wheelCacheMisses.Add(1)
	w, err := s.next.FetchWheel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(w)
	return w, nil
}

func (s *WheelStorage) SaveWheel(ctx context.Context, w *model.Wheel) error {
	if err := s.next.SaveWheel(ctx, w); err != nil {
		// Whatever we hold may be what lost the race.
		s.cache.Remove(w.WheelID)
		return err
	}
	s.store(w)
	return nil
}

// Invalidate drops the cached wheel if it is older than lock.  Notifications
// about writes from other servers end up here.
func (s *WheelStorage) Invalidate(id, lock int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if cached, ok := s.cache.Peek(id); ok && cached.OptimisticLock < lock {
		s.cache.Remove(id)
	}
}
