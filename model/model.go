package model

import (
	"slices"
	"time"
)

// Settings are the per-wheel knobs a user can change.
type Settings struct {
	SpinDurationMillis int64
	RemoveWinner       bool
}

func (s Settings) SpinDuration() time.Duration {
	return time.Duration(s.SpinDurationMillis) * time.Millisecond
}

func DefaultSettings(spinDuration time.Duration) Settings {
	return Settings{SpinDurationMillis: spinDuration.Milliseconds()}
}

type Winner struct {
	Label string
	Index int
}

// SpinView is what the wheel looks like right now.  It comes from the live
// engine, never from storage.
type SpinView struct {
	Session    uint64
	Rotation   float64
	Progress   float64
	IsSpinning bool
	Winner     *Winner
}

func (v *SpinView) Clone() *SpinView {
	if v == nil {
		return nil
	}
	c := *v
	if v.Winner != nil {
		w := *v.Winner
		c.Winner = &w
	}
	return &c
}

// Transients are computed for clients and not stored.
type Transients struct {
	ProtocolVersion int
	EntryCount      string
}

// Wheel is a named list of entries plus its settings.  Only WheelID,
// OptimisticLock, Name, Entries and Settings are stored.
type Wheel struct {
	WheelID        int64
	OptimisticLock int64

	Name     string
	Entries  []string
	Settings Settings

	// Version counts every visible change, spin frames included.  Clients
	// listen for it to move.
	Version    int64
	View       *SpinView   `json:",omitempty"`
	Transients *Transients `json:",omitempty"`
}

func (w *Wheel) Clone() *Wheel {
	c := *w
	c.Entries = slices.Clone(w.Entries)
	c.View = w.View.Clone()
	if w.Transients != nil {
		t := *w.Transients
		c.Transients = &t
	}
	return &c
}

type WheelSlug struct {
	WheelID    int64
	Name       string
	EntryCount int
}

type Overview struct {
	Slugs []WheelSlug
}

// OwnerCookieData is what we keep in the owner cookie: the wheels this
// client created and may therefore change.
type OwnerCookieData struct {
	WheelIDs []int64
}

func (o *OwnerCookieData) Owns(id int64) bool {
	return o != nil && slices.Contains(o.WheelIDs, id)
}

// Grant adds id, keeping at most limit of the most recent wheels.
func (o *OwnerCookieData) Grant(id int64, limit int) {
	if o.Owns(id) {
		return
	}
	o.WheelIDs = append(o.WheelIDs, id)
	if limit > 0 && len(o.WheelIDs) > limit {
		o.WheelIDs = slices.Clone(o.WheelIDs[len(o.WheelIDs)-limit:])
	}
}
