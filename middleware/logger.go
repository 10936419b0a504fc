package middleware

import (
	"log"
	"net/http"

	"github.com/jonboulle/clockwork"
)

// RequestLogger writes one access log line per request.
type RequestLogger struct {
	next  http.Handler
	clock clockwork.Clock
}

func NewRequestLogger(next http.Handler, clock clockwork.Clock) *RequestLogger {
	return &RequestLogger{next: next, clock: clock}
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func (rl *RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := rl.clock.Now()
	cw := &codeWatcher{w: w}
	rl.next.ServeHTTP(cw, r)
	log.Printf("[access log] %d %s %v %v (%v)", cw.Code(), r.Method, remoteAddr(r), r.URL.Path, rl.clock.Since(start))
}
