// Package listener implements long-poll change notification for wheels.
//
// A listen request names a wheel and the version the client already has.
// If the live wheel is already past that version, it is sent at once;
// otherwise the request waits for the next NotifyUpdated or NotifyDeleted.
package listener

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/ts4z/spinwheel/he"
	"github.com/ts4z/spinwheel/model"
)

// Fetcher supplies the current live wheel, transients filled in.
type Fetcher interface {
	FetchWheel(ctx context.Context, id int64) (*model.Wheel, error)
}

// A listen request eventually results in at most one write to one of these
// channels.  Callers should buffer them so a write never blocks.
type channels struct {
	token   uint64
	errCh   chan<- error
	wheelCh chan<- *model.Wheel
}

type Hub struct {
	fetcher Fetcher

	mu        sync.Mutex
	nextToken uint64
	listeners map[int64][]channels
}

func New(fetcher Fetcher) *Hub {
	return &Hub{
		fetcher:   fetcher,
		listeners: make(map[int64][]channels),
	}
}

// ListenWheelVersion arranges for exactly one write to errCh or wheelCh:
// the wheel once its version differs from version, or an error.  When ctx
// is done first, the request is dropped and nothing is written.
func (h *Hub) ListenWheelVersion(ctx context.Context, id, version int64, errCh chan<- error, wheelCh chan<- *model.Wheel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Fetching under h.mu orders this against NotifyUpdated: either the
	// fetch sees the new version, or the notification sees the listener.
	w, err := h.fetcher.FetchWheel(ctx, id)
	if err != nil {
		errCh <- err
		return
	}

	if w.Version != version {
		if w.Version < version {
			log.Printf("warning: client version %d is newer than live version %d for wheel %d", version, w.Version, id)
		}
		wheelCh <- w
		return
	}

	h.nextToken++
	token := h.nextToken
	h.listeners[id] = append(h.listeners[id], channels{token, errCh, wheelCh})

	context.AfterFunc(ctx, func() { h.forget(id, token) })
}

func (h *Hub) forget(id int64, token uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls := h.listeners[id]
	for i, l := range ls {
		if l.token == token {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(h.listeners, id)
	} else {
		h.listeners[id] = ls
	}
}

// take removes and returns the listeners for id.  h.mu must be held.
func (h *Hub) take(id int64) []channels {
	ls := h.listeners[id]
	delete(h.listeners, id)
	return ls
}

// NotifyUpdated sends w to everyone listening on its wheel.  Each listener
// gets its own copy.
func (h *Hub) NotifyUpdated(w *model.Wheel) {
	h.mu.Lock()
	ls := h.take(w.WheelID)
	h.mu.Unlock()

	for _, l := range ls {
		l.wheelCh <- w.Clone()
	}
}

// NotifyDeleted fails everyone listening on the wheel with a 404.
func (h *Hub) NotifyDeleted(id int64) {
	h.mu.Lock()
	ls := h.take(id)
	h.mu.Unlock()

	for _, l := range ls {
		l.errCh <- he.HTTPCodedErrorf(http.StatusNotFound, "wheel %d has been deleted", id)
	}
	if len(ls) > 0 {
		log.Printf("told %d listeners wheel %d is gone", len(ls), id)
	}
}

// Count is how many requests are waiting on the wheel.
func (h *Hub) Count(id int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[id])
}
