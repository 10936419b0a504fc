// Package labrea is a tarpit for vulnerability scanners.  Requests for paths
// that no wheel server has, but that scanners always ask for, get a slow,
// dribbled-out 404.  Repeat visitors wait longer.
package labrea

import (
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ts4z/spinwheel/dep"
)

var DefaultPaths = []string{
	".env",
	".git",
	".htaccess",
	"admin",
	"config.php",
	"phpmyadmin",
	"server-status",
	"wp-admin",
	"wp-login.php",
	"wordpress/wp-admin",
	"xmlrpc.php",
}

const maxTrackedAddrs = 1000

type Config struct {
	Clock clockwork.Clock
	Next  http.Handler
	// Paths are matched against the last two elements of the request path.
	// Nil means DefaultPaths.
	Paths []string
}

type Handler struct {
	clock clockwork.Clock
	next  http.Handler
	paths map[string]struct{}

	mu     sync.Mutex
	visits map[string]int
}

var _ http.Handler = &Handler{}

func New(cf *Config) *Handler {
	paths := cf.Paths
	if paths == nil {
		paths = DefaultPaths
	}
	h := &Handler{
		clock:  dep.Required(cf.Clock),
		next:   dep.Required(cf.Next),
		paths:  make(map[string]struct{}, len(paths)),
		visits: map[string]int{},
	}
	for _, p := range paths {
		h.paths[p] = struct{}{}
	}
	return h
}

func (h *Handler) visit(addr string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.visits) >= maxTrackedAddrs {
		h.visits = map[string]int{}
	}
	h.visits[addr]++
	return h.visits[addr]
}

// between picks a duration in [lo, hi).  If lo >= hi it's lo.
func between(lo, hi time.Duration) time.Duration {
	if lo >= hi {
		return lo
	}
	return lo + rand.N(hi-lo)
}

const notFoundPage = `<!DOCTYPE HTML PUBLIC "-//IETF//DTD HTML 2.0//EN">
<html><head>
<title>404 Not Found</title>
</head><body>
<h1>Not Found</h1>
<p>The requested URL was not found on this server.</p>
</body></html>
`

func (h *Handler) mishandle(w http.ResponseWriter, r *http.Request) {
	floor := time.Duration(11*h.visit(r.RemoteAddr)) * time.Millisecond
	h.clock.Sleep(between(floor, 3*time.Second))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Server", "Apache")
	w.WriteHeader(http.StatusNotFound)

	rc := http.NewResponseController(w)
	for pos := 0; pos < len(notFoundPage); {
		n := min(10+rand.IntN(10), len(notFoundPage)-pos)
		if _, err := w.Write([]byte(notFoundPage[pos : pos+n])); err != nil {
			return
		}
		pos += n
		rc.Flush()
		h.clock.Sleep(between(100*time.Millisecond, 300*time.Millisecond))
	}
}

// last2 is the last two non-empty elements of path, slash joined.
func last2(path string) string {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "/")
}

func (h *Handler) trapped(path string) bool {
	if _, ok := h.paths[last2(path)]; ok {
		return true
	}
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(parts) > 0 {
		_, ok := h.paths[parts[len(parts)-1]]
		return ok
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.trapped(r.URL.Path) {
		h.mishandle(w, r)
		return
	}
	h.next.ServeHTTP(w, r)
}
