// Package spin runs the spin animation for one wheel: it draws a random
// target rotation, eases toward it on a frame ticker, resolves the winner
// when the animation ends, and optionally removes the winner from the list
// after a grace delay.
//
// An Engine holds at most one session at a time.  Spin and Reset never block;
// progress is delivered to a Sink from the engine's own goroutine.  Every
// publication happens under the engine lock after checking that the session
// that scheduled it is still current, so nothing from a reset or superseded
// session reaches the Sink.
package spin

import (
	"log"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ts4z/spinwheel/segment"
)

const (
	DefaultFrameInterval = 16 * time.Millisecond
	DefaultGraceDelay    = 2 * time.Second
	DefaultMinDuration   = time.Millisecond
)

type State int

const (
	Idle State = iota
	Spinning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Spinning:
		return "spinning"
	default:
		return "unknown"
	}
}

// Frame is one published rotation sample.
type Frame struct {
	Session  uint64
	Rotation float64
	Progress float64
	Spinning bool
}

// Result is the outcome of a completed session.
type Result struct {
	Session  uint64
	Index    int
	Label    string
	Rotation float64
}

// Sink receives everything an Engine publishes, in order.  Calls are made
// with the engine lock held, so a Sink must not call back into the Engine.
type Sink interface {
	PublishFrame(f Frame)
	PublishResult(r Result)
	// PublishRemoval delivers the session's entry list with the winner
	// removed, once the grace delay has passed or sooner if another spin
	// starts first.
	PublishRemoval(r Result, remaining []string)
}

// Options tune an Engine.  Zero values take the defaults.
type Options struct {
	FrameInterval time.Duration
	GraceDelay    time.Duration
	// MinDuration is what non-positive spin durations are clamped to.
	MinDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.FrameInterval <= 0 {
		o.FrameInterval = DefaultFrameInterval
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = DefaultGraceDelay
	}
	if o.MinDuration <= 0 {
		o.MinDuration = DefaultMinDuration
	}
	return o
}

// Session describes the spin in flight.
type Session struct {
	ID           uint64
	Target       float64
	Start        time.Time
	Duration     time.Duration
	RemoveWinner bool
	Entries      []string
}

type session struct {
	Session
	done chan struct{}
}

// pendingRemoval is a winner waiting out the grace delay.
type pendingRemoval struct {
	result    Result
	remaining []string
	timer     clockwork.Timer
}

type Engine struct {
	clock clockwork.Clock
	rng   RandomSource
	sink  Sink
	opts  Options

	mu       sync.Mutex
	lastID   uint64
	active   *session
	rotation float64
	result   *Result
	// removed is set once result's winner has been handed to the sink.
	removed bool
	pending *pendingRemoval
}

func New(clock clockwork.Clock, rng RandomSource, sink Sink, opts Options) *Engine {
	if rng == nil {
		rng = DefaultRandomSource()
	}
	return &Engine{
		clock: clock,
		rng:   rng,
		sink:  sink,
		opts:  opts.withDefaults(),
	}
}

// Spin starts a session over a snapshot of entries and reports whether it
// did.  It is a no-op when entries is empty or a session is already running.
func (e *Engine) Spin(entries []string, duration time.Duration, removeWinner bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(entries) == 0 {
		log.Printf("debug: can't spin a wheel with no entries")
		return false
	}
	if e.active != nil {
		log.Printf("debug: can't spin a spinning wheel (session %d)", e.active.ID)
		return false
	}
	if duration < e.opts.MinDuration {
		duration = e.opts.MinDuration
	}

	// The previous winner still goes, just without waiting.
	e.deliverRemoval()
	e.lastID++
	s := &session{
		Session: Session{
			ID:           e.lastID,
			Target:       DrawTarget(e.rng),
			Start:        e.clock.Now(),
			Duration:     duration,
			RemoveWinner: removeWinner,
			Entries:      slices.Clone(entries),
		},
		done: make(chan struct{}),
	}
	e.active = s
	e.result = nil
	e.removed = false
	e.rotation = 0

	ticker := e.clock.NewTicker(e.opts.FrameInterval)
	e.sink.PublishFrame(Frame{Session: s.ID, Spinning: true})
	go e.drive(s, ticker)
	return true
}

func (e *Engine) drive(s *session, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			if e.step(s) {
				return
			}
		}
	}
}

// step samples the clock for s and reports whether s is over.
func (e *Engine) step(s *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != s {
		return true
	}

	p := progress(float64(e.clock.Since(s.Start)), float64(s.Duration))
	rotation := s.Target * EaseOutCubic(p)
	if p >= 1 {
		rotation = s.Target
	}
	rotation = max(rotation, e.rotation)
	e.rotation = rotation

	if p < 1 {
		e.sink.PublishFrame(Frame{Session: s.ID, Rotation: rotation, Progress: p, Spinning: true})
		return false
	}

	e.finish(s)
	return true
}

func (e *Engine) finish(s *session) {
	idx := segment.ResolveWinner(s.Entries, s.Target)
	r := Result{
		Session:  s.ID,
		Index:    idx,
		Label:    s.Entries[idx],
		Rotation: s.Target,
	}
	e.active = nil
	close(s.done)
	e.result = &r
	log.Printf("debug: spin %d landed on %q (index %d of %d)", s.ID, r.Label, idx, len(s.Entries))

	if s.RemoveWinner {
		p := &pendingRemoval{
			result:    r,
			remaining: slices.Delete(slices.Clone(s.Entries), idx, idx+1),
		}
		// The callback needs e.mu, which we hold, so p.timer is set first.
		p.timer = e.clock.AfterFunc(e.opts.GraceDelay, func() {
			e.applyRemoval(p)
		})
		e.pending = p
	}

	e.sink.PublishFrame(Frame{Session: s.ID, Rotation: s.Target, Progress: 1})
	e.sink.PublishResult(r)
}

func (e *Engine) applyRemoval(p *pendingRemoval) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != p {
		return
	}
	e.deliverRemoval()
}

// deliverRemoval hands any pending removal to the sink now.  e.mu must be
// held.
func (e *Engine) deliverRemoval() {
	p := e.pending
	if p == nil {
		return
	}
	p.timer.Stop()
	e.pending = nil
	if e.result != nil && e.result.Session == p.result.Session {
		e.removed = true
	}
	log.Printf("debug: spin %d: removing %q, %d entries remain", p.result.Session, p.result.Label, len(p.remaining))
	e.sink.PublishRemoval(p.result, p.remaining)
}

func (e *Engine) cancelRemoval() {
	if e.pending == nil {
		return
	}
	e.pending.timer.Stop()
	e.pending = nil
}

// Reset stops any session, cancels a pending removal, and returns the wheel
// to rotation 0 with no result.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		log.Printf("debug: reset cancels spin %d", e.active.ID)
		close(e.active.done)
		e.active = nil
	}
	e.cancelRemoval()
	e.rotation = 0
	e.result = nil
	e.removed = false
	e.sink.PublishFrame(Frame{})
}

// Dismiss discards the current result, and any removal pending for it,
// leaving the wheel where it stopped.  It returns the discarded result, or
// false if there is none or its winner was already removed.
func (e *Engine) Dismiss() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.result == nil || e.removed {
		return Result{}, false
	}
	r := *e.result
	e.result = nil
	e.cancelRemoval()
	return r, true
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return Spinning
	}
	return Idle
}

// Rotation is the last published rotation.
func (e *Engine) Rotation() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotation
}

func (e *Engine) Result() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return Result{}, false
	}
	return *e.result, true
}

// Session returns a copy of the session in flight, if any.
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return Session{}, false
	}
	s := e.active.Session
	s.Entries = slices.Clone(s.Entries)
	return s, true
}
