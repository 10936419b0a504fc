// Package wheel owns live wheels: the stored name, entries and settings, plus
// a spin engine per wheel and the view it publishes.
//
// Anything that changes what a client would see bumps the wheel's Version and
// wakes listeners, spin frames included.
//
// Lock order is engine, then liveWheel.mu, then the hub.  Nothing holding
// liveWheel.mu may call into the engine, since the engine's sink takes
// liveWheel.mu.
package wheel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ts4z/spinwheel/entries"
	"github.com/ts4z/spinwheel/he"
	"github.com/ts4z/spinwheel/listener"
	"github.com/ts4z/spinwheel/model"
	"github.com/ts4z/spinwheel/protocol"
	"github.com/ts4z/spinwheel/spin"
	"github.com/ts4z/spinwheel/state"
	"github.com/ts4z/spinwheel/varz"
)

var (
	spinsStarted    = varz.NewInt("spinsStarted")
	spinsIgnored    = varz.NewInt("spinsIgnored")
	winsRemoved     = varz.NewInt("winsRemoved")
	liveWheels      = varz.NewInt("liveWheels")
	wheelsRefreshed = varz.NewInt("wheelsRefreshed")
)

// Options bound what clients may ask for and tune the engines.
type Options struct {
	FrameInterval time.Duration
	GraceDelay    time.Duration

	MinSpinDuration     time.Duration
	MaxSpinDuration     time.Duration
	DefaultSpinDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinSpinDuration <= 0 {
		o.MinSpinDuration = time.Second
	}
	if o.MaxSpinDuration < o.MinSpinDuration {
		o.MaxSpinDuration = max(5*time.Second, o.MinSpinDuration)
	}
	if o.DefaultSpinDuration <= 0 {
		o.DefaultSpinDuration = 3 * time.Second
	}
	o.DefaultSpinDuration = min(max(o.DefaultSpinDuration, o.MinSpinDuration), o.MaxSpinDuration)
	return o
}

type Config struct {
	Clock   clockwork.Clock
	Storage state.WheelStorage
	// RandomSource is shared by every engine.  Nil means crypto/rand.
	RandomSource spin.RandomSource
	Options      Options
}

type Manager struct {
	clock   clockwork.Clock
	rng     spin.RandomSource
	storage state.WheelStorage
	opts    Options
	hub     *listener.Hub

	mu   sync.Mutex
	live map[int64]*liveWheel
}

type liveWheel struct {
	engine *spin.Engine

	// saveMu serializes read-modify-save cycles against storage.
	saveMu sync.Mutex

	mu      sync.Mutex
	wheel   *model.Wheel
	deleted bool
}

func NewManager(cf *Config) *Manager {
	rng := cf.RandomSource
	if rng == nil {
		rng = spin.DefaultRandomSource()
	}
	m := &Manager{
		clock:   cf.Clock,
		rng:     rng,
		storage: cf.Storage,
		opts:    cf.Options.withDefaults(),
		live:    map[int64]*liveWheel{},
	}
	m.hub = listener.New(m)
	return m
}

func (m *Manager) Options() Options {
	return m.opts
}

// DefaultSettings are what a wheel gets when created without any.
func (m *Manager) DefaultSettings() model.Settings {
	return model.DefaultSettings(m.opts.DefaultSpinDuration)
}

func (m *Manager) validateSettings(s model.Settings) error {
	d := s.SpinDuration()
	if d < m.opts.MinSpinDuration || d > m.opts.MaxSpinDuration {
		return he.HTTPCodedErrorf(http.StatusBadRequest, "spin duration %v not in [%v, %v]", d, m.opts.MinSpinDuration, m.opts.MaxSpinDuration)
	}
	return nil
}

func badEntries(err error) error {
	if errors.Is(err, entries.ErrEmptyLabel) || errors.Is(err, entries.ErrIndexOutOfRange) {
		return he.New(http.StatusBadRequest, err)
	}
	return err
}

// load returns the live wheel for id, reading it from storage on first use.
func (m *Manager) load(ctx context.Context, id int64) (*liveWheel, error) {
	m.mu.Lock()
	lw, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		return lw, nil
	}

	w, err := m.storage.FetchWheel(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Version = 1
	w.View = &model.SpinView{}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lw, ok := m.live[id]; ok {
		// Lost a race with another loader.
		return lw, nil
	}
	lw = &liveWheel{wheel: w}
	lw.engine = spin.New(m.clock, m.rng, &sink{m: m, lw: lw}, spin.Options{
		FrameInterval: m.opts.FrameInterval,
		GraceDelay:    m.opts.GraceDelay,
	})
	m.live[id] = lw
	liveWheels.Add(1)
	return lw, nil
}

// snapshot copies the wheel with transients filled in.  lw.mu must be held.
func (lw *liveWheel) snapshot() *model.Wheel {
	w := lw.wheel.Clone()
	w.Transients = &model.Transients{
		ProtocolVersion: protocol.Version,
		EntryCount:      entries.CountLabel(len(w.Entries)),
	}
	return w
}

// touch applies fn to the live wheel, bumps its version and returns a
// snapshot to publish, or nil if the wheel is gone.
func (lw *liveWheel) touch(fn func(w *model.Wheel)) *model.Wheel {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.deleted {
		return nil
	}
	fn(lw.wheel)
	lw.wheel.Version++
	return lw.snapshot()
}

func (m *Manager) notify(w *model.Wheel) {
	if w != nil {
		m.hub.NotifyUpdated(w)
	}
}

// mutate runs a read-modify-save cycle on the stored part of a wheel.  fn
// edits a private copy; nothing changes if fn or the save fails.
func (m *Manager) mutate(ctx context.Context, id int64, fn func(w *model.Wheel) error) (*model.Wheel, error) {
	lw, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	lw.saveMu.Lock()
	defer lw.saveMu.Unlock()

	lw.mu.Lock()
	if lw.deleted {
		lw.mu.Unlock()
		return nil, he.HTTPCodedErrorf(http.StatusNotFound, "wheel %d has been deleted", id)
	}
	next := lw.wheel.Clone()
	lw.mu.Unlock()

	if err := fn(next); err != nil {
		return nil, err
	}
	if err := m.storage.SaveWheel(ctx, next); err != nil {
		return nil, fmt.Errorf("while saving wheel %d: %w", id, err)
	}

	snap := lw.touch(func(w *model.Wheel) {
		w.OptimisticLock = next.OptimisticLock
		w.Name = next.Name
		w.Entries = next.Entries
		w.Settings = next.Settings
	})
	m.notify(snap)
	if snap == nil {
		return nil, he.HTTPCodedErrorf(http.StatusNotFound, "wheel %d has been deleted", id)
	}
	return snap, nil
}

// Create stores a new wheel.  Nil list means the sample entries, nil
// settings the defaults.
func (m *Manager) Create(ctx context.Context, name string, list []string, settings *model.Settings) (*model.Wheel, error) {
	if list == nil {
		list = entries.Sample()
	}
	list, err := entries.Normalize(list)
	if err != nil {
		return nil, badEntries(err)
	}
	s := m.DefaultSettings()
	if settings != nil {
		s = *settings
	}
	if err := m.validateSettings(s); err != nil {
		return nil, err
	}

	id, err := m.storage.CreateWheel(ctx, &model.Wheel{Name: name, Entries: list, Settings: s})
	if err != nil {
		return nil, fmt.Errorf("while creating wheel: %w", err)
	}
	log.Printf("created wheel %d %q with %d entries", id, name, len(list))
	return m.FetchWheel(ctx, id)
}

// FetchWheel returns the live wheel: stored fields, spin view, version and
// transients.  It satisfies listener.Fetcher.
func (m *Manager) FetchWheel(ctx context.Context, id int64) (*model.Wheel, error) {
	lw, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.deleted {
		return nil, he.HTTPCodedErrorf(http.StatusNotFound, "wheel %d has been deleted", id)
	}
	return lw.snapshot(), nil
}

func (m *Manager) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	return m.storage.FetchOverview(ctx, offset, limit)
}

func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.storage.DeleteWheel(ctx, id); err != nil {
		return err
	}
	m.Forget(id)
	log.Printf("deleted wheel %d", id)
	return nil
}

// Forget drops the live wheel for id after it was deleted elsewhere.
// Listeners get a 404.
func (m *Manager) Forget(id int64) {
	m.mu.Lock()
	lw, ok := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()

	if ok {
		lw.mu.Lock()
		lw.deleted = true
		lw.mu.Unlock()
		lw.engine.Reset()
		liveWheels.Add(-1)
	}
	m.hub.NotifyDeleted(id)
}

// Refresh reloads the stored fields of a live wheel when another server
// saved a newer copy (lock is the new optimistic lock).  Wheels nobody here
// has loaded are left alone.
func (m *Manager) Refresh(ctx context.Context, id, lock int64) error {
	m.mu.Lock()
	lw, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	lw.saveMu.Lock()
	defer lw.saveMu.Unlock()

	lw.mu.Lock()
	current := lw.wheel.OptimisticLock
	lw.mu.Unlock()
	if lock <= current {
		return nil
	}

	next, err := m.storage.FetchWheel(ctx, id)
	if err != nil {
		return fmt.Errorf("while refreshing wheel %d: %w", id, err)
	}
	snap := lw.touch(func(w *model.Wheel) {
		if next.OptimisticLock <= w.OptimisticLock {
			return
		}
		w.OptimisticLock = next.OptimisticLock
		w.Name = next.Name
		w.Entries = next.Entries
		w.Settings = next.Settings
	})
	wheelsRefreshed.Add(1)
	m.notify(snap)
	return nil
}

// Listen is the long poll: see listener.Hub.ListenWheelVersion.
func (m *Manager) Listen(ctx context.Context, id, version int64, errCh chan<- error, wheelCh chan<- *model.Wheel) {
	m.hub.ListenWheelVersion(ctx, id, version, errCh, wheelCh)
}

func (m *Manager) Rename(ctx context.Context, id int64, name string) (*model.Wheel, error) {
	return m.mutate(ctx, id, func(w *model.Wheel) error {
		w.Name = name
		return nil
	})
}

// SetEntriesText replaces the list with the parsed contents of a text box.
func (m *Manager) SetEntriesText(ctx context.Context, id int64, text string) (*model.Wheel, error) {
	return m.mutate(ctx, id, func(w *model.Wheel) error {
		w.Entries = entries.Parse(text)
		return nil
	})
}

func (m *Manager) AddEntry(ctx context.Context, id int64, label string) (*model.Wheel, error) {
	return m.mutate(ctx, id, func(w *model.Wheel) error {
		list, err := entries.Add(w.Entries, label)
		if err != nil {
			return badEntries(err)
		}
		w.Entries = list
		return nil
	})
}

func (m *Manager) RemoveEntry(ctx context.Context, id int64, index int) (*model.Wheel, error) {
	return m.mutate(ctx, id, func(w *model.Wheel) error {
		list, err := entries.RemoveIndex(w.Entries, index)
		if err != nil {
			return badEntries(err)
		}
		w.Entries = list
		return nil
	})
}

// ClearEntries empties the list and resets the wheel.
func (m *Manager) ClearEntries(ctx context.Context, id int64) (*model.Wheel, error) {
	w, err := m.mutate(ctx, id, func(w *model.Wheel) error {
		w.Entries = []string{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Reset(ctx, w.WheelID)
}

func (m *Manager) UpdateSettings(ctx context.Context, id int64, s model.Settings) (*model.Wheel, error) {
	if err := m.validateSettings(s); err != nil {
		return nil, err
	}
	return m.mutate(ctx, id, func(w *model.Wheel) error {
		w.Settings = s
		return nil
	})
}

// Spin starts a spin over the entries as they are now.  It reports false,
// without error, when there is nothing to spin or a spin is running.
func (m *Manager) Spin(ctx context.Context, id int64) (bool, error) {
	lw, err := m.load(ctx, id)
	if err != nil {
		return false, err
	}

	lw.mu.Lock()
	if lw.deleted {
		lw.mu.Unlock()
		return false, he.HTTPCodedErrorf(http.StatusNotFound, "wheel %d has been deleted", id)
	}
	list := lw.wheel.Entries
	settings := lw.wheel.Settings
	lw.mu.Unlock()

	if !lw.engine.Spin(list, settings.SpinDuration(), settings.RemoveWinner) {
		spinsIgnored.Add(1)
		return false, nil
	}
	spinsStarted.Add(1)
	return true, nil
}

// Reset stops any spin and returns the wheel to rotation 0 with no winner.
func (m *Manager) Reset(ctx context.Context, id int64) (*model.Wheel, error) {
	lw, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	lw.engine.Reset()
	return m.FetchWheel(ctx, id)
}

// RemoveWinner takes the last winner off the list by hand.
func (m *Manager) RemoveWinner(ctx context.Context, id int64) (*model.Wheel, error) {
	lw, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	r, ok := lw.engine.Dismiss()
	if !ok {
		if r, shown := lw.engine.Result(); shown {
			return nil, he.HTTPCodedErrorf(http.StatusConflict, "wheel %d: %q was already removed", id, r.Label)
		}
		return nil, he.HTTPCodedErrorf(http.StatusConflict, "wheel %d has no winner to remove", id)
	}
	m.notify(lw.touch(func(w *model.Wheel) { w.View.Winner = nil }))
	return m.removeFromList(ctx, id, r)
}

func (m *Manager) removeFromList(ctx context.Context, id int64, r spin.Result) (*model.Wheel, error) {
	return m.mutate(ctx, id, func(w *model.Wheel) error {
		list, ok := entries.RemoveWinner(w.Entries, r.Index, r.Label)
		if !ok {
			log.Printf("wheel %d: winner %q is no longer listed", id, r.Label)
		}
		w.Entries = list
		return nil
	})
}

// sink feeds one engine's output into its live wheel.
type sink struct {
	m  *Manager
	lw *liveWheel
}

var _ spin.Sink = (*sink)(nil)

func (s *sink) PublishFrame(f spin.Frame) {
	s.m.notify(s.lw.touch(func(w *model.Wheel) {
		w.View = &model.SpinView{
			Session:    f.Session,
			Rotation:   f.Rotation,
			Progress:   f.Progress,
			IsSpinning: f.Spinning,
		}
	}))
}

func (s *sink) PublishResult(r spin.Result) {
	s.m.notify(s.lw.touch(func(w *model.Wheel) {
		w.View.Winner = &model.Winner{Label: r.Label, Index: r.Index}
	}))
}

// PublishRemoval is called with the engine locked, and saving may be slow,
// so the save happens on its own goroutine.  The engine's list is only the
// spin's snapshot; the saved list is recomputed from storage as it is then.
func (s *sink) PublishRemoval(r spin.Result, _ []string) {
	s.lw.mu.Lock()
	id := s.lw.wheel.WheelID
	s.lw.mu.Unlock()

	go func() {
		if _, err := s.m.removeFromList(context.Background(), id, r); err != nil {
			log.Printf("wheel %d: can't remove winner %q: %v", id, r.Label, err)
			return
		}
		winsRemoved.Add(1)
	}()
}
