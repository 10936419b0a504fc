package state

// package state manages persistence.

import (
	"context"

	"github.com/ts4z/spinwheel/model"
)

type Closer interface {
	Close()
}

// WheelStorage stores wheels: name, entries and settings.  Spin state is
// never stored.
type WheelStorage interface {
	Closer

	FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error)

	CreateWheel(ctx context.Context, w *model.Wheel) (int64, error)
	FetchWheel(ctx context.Context, id int64) (*model.Wheel, error)
	// SaveWheel fails with a 409 if w.OptimisticLock is stale, and bumps it
	// on success.
	SaveWheel(ctx context.Context, w *model.Wheel) error
	DeleteWheel(ctx context.Context, id int64) error
}

// storedWheel is the part of a wheel that is kept.
type storedWheel struct {
	Name     string
	Entries  []string
	Settings model.Settings
}

func toStored(w *model.Wheel) storedWheel {
	return storedWheel{
		Name:     w.Name,
		Entries:  w.Entries,
		Settings: w.Settings,
	}
}

func (s storedWheel) toWheel(id, lock int64) *model.Wheel {
	entries := s.Entries
	if entries == nil {
		entries = []string{}
	}
	return &model.Wheel{
		WheelID:        id,
		OptimisticLock: lock,
		Name:           s.Name,
		Entries:        entries,
		Settings:       s.Settings,
	}
}
