package labrea

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLast2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/", ""},
		{"/wp-admin", "wp-admin"},
		{"/wp-admin/", "wp-admin"},
		{"/blog/wordpress/wp-admin", "wordpress/wp-admin"},
		{"//a//b//", "a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := last2(tt.in); got != tt.want {
				t.Errorf("last2(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBetween(t *testing.T) {
	if got := between(time.Second, time.Second); got != time.Second {
		t.Errorf("between(1s, 1s) = %v", got)
	}
	if got := between(2*time.Second, time.Second); got != 2*time.Second {
		t.Errorf("between(2s, 1s) = %v", got)
	}
	for range 100 {
		if got := between(10*time.Millisecond, 20*time.Millisecond); got < 10*time.Millisecond || got >= 20*time.Millisecond {
			t.Fatalf("between(10ms, 20ms) = %v", got)
		}
	}
}

func TestPassThrough(t *testing.T) {
	called := false
	h := New(&Config{
		Clock: clockwork.NewFakeClock(),
		Next:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/wheels", nil))
	if !called {
		t.Errorf("ordinary request did not reach next handler")
	}
}

func TestTarpit(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := New(&Config{
		Clock: fc,
		Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("trapped request reached next handler")
		}),
	})

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blog/wp-login.php", nil))
		close(done)
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-done:
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "404 Not Found") {
				t.Errorf("body = %q", rec.Body.String())
			}
			return
		case <-deadline:
			t.Fatalf("tarpit never finished")
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		if fc.BlockUntilContext(ctx, 1) == nil {
			fc.Advance(5 * time.Second)
		}
		cancel()
	}
}
