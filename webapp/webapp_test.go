package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ts4z/spinwheel/model"
	"github.com/ts4z/spinwheel/permission"
	"github.com/ts4z/spinwheel/protocol"
	"github.com/ts4z/spinwheel/segment"
	"github.com/ts4z/spinwheel/state"
	"github.com/ts4z/spinwheel/wheel"
)

// scriptedSource replays values in order; {0, 0.3} lands on index 2.
type scriptedSource struct {
	values []float64
	idx    int
}

func (s *scriptedSource) Float64() float64 {
	v := s.values[s.idx%len(s.values)]
	s.idx++
	return v
}

type fixture struct {
	app     *App
	clock   *clockwork.FakeClock
	cookies []*http.Cookie
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clockwork.NewFakeClock()
	m := wheel.NewManager(&wheel.Config{
		Clock:        fc,
		Storage:      state.NewMemStorage(),
		RandomSource: &scriptedSource{values: []float64{0, 0.3}},
		Options: wheel.Options{
			FrameInterval:       10 * time.Millisecond,
			GraceDelay:          2 * time.Second,
			MinSpinDuration:     time.Second,
			MaxSpinDuration:     5 * time.Second,
			DefaultSpinDuration: 3 * time.Second,
		},
	})
	bakery, err := permission.New(nil, nil, false)
	if err != nil {
		t.Fatalf("permission.New() returned error: %v", err)
	}
	app := New(&Config{
		Manager:       m,
		Bakery:        bakery,
		Clock:         fc,
		ListenTimeout: time.Minute,
	})
	return &fixture{app: app, clock: fc}
}

// do sends a request, with the owner cookie if withCookie, and remembers
// any cookie the server sets.
func (f *fixture) do(t *testing.T, method, path string, body any, withCookie bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("can't encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if withCookie {
		for _, c := range f.cookies {
			r.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, r)
	if cs := rec.Result().Cookies(); len(cs) > 0 {
		f.cookies = cs
	}
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("can't decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (f *fixture) create(t *testing.T, body any) *model.Wheel {
	t.Helper()
	if body == nil {
		body = map[string]any{}
	}
	rec := f.do(t, http.MethodPost, "/api/wheels", body, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/wheels = %d %s", rec.Code, rec.Body.String())
	}
	return decode[*model.Wheel](t, rec)
}

func TestCreateAndFetch(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, map[string]any{"Name": "lunch"})

	if w.Name != "lunch" || len(w.Entries) != 8 {
		t.Errorf("created wheel = %+v", w)
	}
	if len(f.cookies) == 0 {
		t.Fatalf("no owner cookie baked")
	}

	rec := f.do(t, http.MethodGet, "/api/wheel/1", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/wheel/1 = %d", rec.Code)
	}
	got := decode[*model.Wheel](t, rec)
	if got.Transients == nil || got.Transients.EntryCount != "8 entries" {
		t.Errorf("transients = %+v", got.Transients)
	}

	rec = f.do(t, http.MethodGet, "/api/wheel/1/segments", nil, false)
	segs := decode[[]segment.Segment](t, rec)
	if len(segs) != 8 || segs[0].Label != "Alice" || segs[7].End != segment.FullTurn {
		t.Errorf("segments = %+v", segs)
	}

	rec = f.do(t, http.MethodGet, "/api/wheels", nil, false)
	overview := decode[model.Overview](t, rec)
	if len(overview.Slugs) != 1 || overview.Slugs[0].Name != "lunch" {
		t.Errorf("overview = %+v", overview)
	}
}

func TestCreateFromText(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, map[string]any{"EntriesText": "a\n\n b \n"})
	if !slices.Equal(w.Entries, []string{"a", "b"}) {
		t.Errorf("entries = %q", w.Entries)
	}

	rec := f.do(t, http.MethodPost, "/api/wheels", map[string]any{"Bogus": 1}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create with unknown field = %d, want 400", rec.Code)
	}
}

func TestMutationsRequireOwner(t *testing.T) {
	f := newFixture(t)
	f.create(t, map[string]any{"Entries": []string{"a", "b"}})

	tests := []struct {
		method, path string
		body         any
	}{
		{http.MethodPut, "/api/wheel/1/entries", map[string]string{"Text": "x"}},
		{http.MethodPost, "/api/wheel/1/entries", map[string]string{"Label": "x"}},
		{http.MethodDelete, "/api/wheel/1/entries", nil},
		{http.MethodDelete, "/api/wheel/1/entries/0", nil},
		{http.MethodPut, "/api/wheel/1/settings", model.Settings{SpinDurationMillis: 2000}},
		{http.MethodPost, "/api/wheel/1/spin", nil},
		{http.MethodPost, "/api/wheel/1/reset", nil},
		{http.MethodPost, "/api/wheel/1/remove-winner", nil},
		{http.MethodDelete, "/api/wheel/1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if rec := f.do(t, tt.method, tt.path, tt.body, false); rec.Code != http.StatusUnauthorized {
				t.Errorf("without cookie = %d, want 401", rec.Code)
			}
		})
	}
}

func TestEntryEndpoints(t *testing.T) {
	f := newFixture(t)
	f.create(t, map[string]any{"Entries": []string{"a", "b"}})

	rec := f.do(t, http.MethodPut, "/api/wheel/1/entries", map[string]string{"Text": "x\ny\nz"}, true)
	if got := decode[*model.Wheel](t, rec); !slices.Equal(got.Entries, []string{"x", "y", "z"}) {
		t.Errorf("after PUT entries = %q", got.Entries)
	}

	rec = f.do(t, http.MethodPost, "/api/wheel/1/entries", map[string]string{"Label": "w"}, true)
	if got := decode[*model.Wheel](t, rec); !slices.Equal(got.Entries, []string{"x", "y", "z", "w"}) {
		t.Errorf("after POST entries = %q", got.Entries)
	}
	if rec := f.do(t, http.MethodPost, "/api/wheel/1/entries", map[string]string{"Label": " "}, true); rec.Code != http.StatusBadRequest {
		t.Errorf("POST blank entry = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/wheel/1/entries/1", nil, true)
	if got := decode[*model.Wheel](t, rec); !slices.Equal(got.Entries, []string{"x", "z", "w"}) {
		t.Errorf("after DELETE entries/1 = %q", got.Entries)
	}
	if rec := f.do(t, http.MethodDelete, "/api/wheel/1/entries/9", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("DELETE entries/9 = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/wheel/1/entries", nil, true)
	if got := decode[*model.Wheel](t, rec); len(got.Entries) != 0 {
		t.Errorf("after clear = %q", got.Entries)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.create(t, nil)

	rec := f.do(t, http.MethodPut, "/api/wheel/1/settings", model.Settings{SpinDurationMillis: 1500, RemoveWinner: true}, true)
	if got := decode[*model.Wheel](t, rec); got.Settings.SpinDurationMillis != 1500 || !got.Settings.RemoveWinner {
		t.Errorf("settings = %+v", got.Settings)
	}
	if rec := f.do(t, http.MethodPut, "/api/wheel/1/settings", model.Settings{SpinDurationMillis: 10000}, true); rec.Code != http.StatusBadRequest {
		t.Errorf("10s spin = %d, want 400", rec.Code)
	}
}

func TestRenameEndpoint(t *testing.T) {
	f := newFixture(t)
	f.create(t, nil)

	rec := f.do(t, http.MethodPut, "/api/wheel/1/name", map[string]string{"Name": "  Lunch  "}, true)
	if got := decode[*model.Wheel](t, rec); got.Name != "Lunch" {
		t.Errorf("Name = %q, want %q", got.Name, "Lunch")
	}
	if rec := f.do(t, http.MethodPut, "/api/wheel/1/name", map[string]string{"Name": " "}, true); rec.Code != http.StatusBadRequest {
		t.Errorf("blank name = %d, want 400", rec.Code)
	}
}

func TestSpinAndRemoveWinner(t *testing.T) {
	f := newFixture(t)
	f.create(t, map[string]any{"Entries": []string{"Alice", "Bob", "Charlie", "Diana"}})

	rec := f.do(t, http.MethodPost, "/api/wheel/1/spin", nil, true)
	resp := decode[spinResponse](t, rec)
	if !resp.Started || !resp.Wheel.View.IsSpinning {
		t.Fatalf("spin response = %+v, view %+v", resp, resp.Wheel.View)
	}
	rec = f.do(t, http.MethodPost, "/api/wheel/1/spin", nil, true)
	if resp := decode[spinResponse](t, rec); resp.Started {
		t.Errorf("second spin started while spinning")
	}

	f.clock.Advance(3 * time.Second)
	deadline := time.Now().Add(5 * time.Second)
	var w *model.Wheel
	for {
		w = decode[*model.Wheel](t, f.do(t, http.MethodGet, "/api/wheel/1", nil, false))
		if w.View.Winner != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no winner; view = %+v", w.View)
		}
		time.Sleep(time.Millisecond)
	}
	if w.View.Winner.Label != "Charlie" {
		t.Errorf("winner = %+v, want Charlie", w.View.Winner)
	}

	rec = f.do(t, http.MethodPost, "/api/wheel/1/remove-winner", nil, true)
	if got := decode[*model.Wheel](t, rec); !slices.Equal(got.Entries, []string{"Alice", "Bob", "Diana"}) {
		t.Errorf("after remove-winner = %q", got.Entries)
	}
	if rec := f.do(t, http.MethodPost, "/api/wheel/1/remove-winner", nil, true); rec.Code != http.StatusConflict {
		t.Errorf("second remove-winner = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/wheel/1/reset", nil, true)
	if got := decode[*model.Wheel](t, rec); got.View.Rotation != 0 {
		t.Errorf("rotation after reset = %v", got.View.Rotation)
	}
}

func listenBody(id, version, proto int64) map[string]int64 {
	return map[string]int64{"WheelID": id, "Version": version, "ProtocolVersion": proto}
}

func TestListenImmediate(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, nil)

	tests := []struct {
		name string
		body map[string]int64
		code int
	}{
		{"stale version", listenBody(1, w.Version-1, protocol.Version), http.StatusOK},
		{"old protocol", listenBody(1, w.Version, protocol.Version-1), http.StatusOK},
		{"bad id", listenBody(0, 1, protocol.Version), http.StatusBadRequest},
		{"missing wheel", listenBody(42, 1, protocol.Version), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/wheel-listen", tt.body, false)
			if rec.Code != tt.code {
				t.Errorf("listen = %d %s, want %d", rec.Code, rec.Body.String(), tt.code)
			}
		})
	}
}

func TestListenWaitsForChange(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, nil)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- f.do(t, http.MethodPost, "/api/wheel-listen", listenBody(1, w.Version, protocol.Version), false)
	}()

	// The listener's timeout is the only thing on the clock.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("listener never started: %v", err)
	}

	f.do(t, http.MethodPost, "/api/wheel/1/entries", map[string]string{"Label": "Zed"}, true)

	select {
	case rec := <-done:
		got := decode[*model.Wheel](t, rec)
		if got.Version <= w.Version || got.Entries[len(got.Entries)-1] != "Zed" {
			t.Errorf("listener got version %d entries %q", got.Version, got.Entries)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("listener not woken")
	}
}

func TestListenTimesOut(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, nil)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- f.do(t, http.MethodPost, "/api/wheel-listen", listenBody(1, w.Version, protocol.Version), false)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("listener never started: %v", err)
	}
	f.clock.Advance(time.Minute)

	select {
	case rec := <-done:
		if rec.Code != http.StatusGatewayTimeout {
			t.Errorf("listen = %d, want 504", rec.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("listener never timed out")
	}
}

func TestDeleteWheel(t *testing.T) {
	f := newFixture(t)
	f.create(t, nil)

	if rec := f.do(t, http.MethodDelete, "/api/wheel/1", nil, true); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/wheel/1", nil, false); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", rec.Code)
	}
}

func TestMiscEndpoints(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path     string
		code     int
		contains string
	}{
		{"/robots.txt", http.StatusOK, "Disallow: /api/"},
		{"/varz", http.StatusOK, "webapp.listenNotifiedClient"},
		{"/api/wheel/abc", http.StatusBadRequest, "can't parse"},
		{"/api/wheel/7", http.StatusNotFound, "no such wheel"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, nil, false)
			if rec.Code != tt.code || !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("GET %s = %d %q, want %d containing %q", tt.path, rec.Code, rec.Body.String(), tt.code, tt.contains)
			}
		})
	}
}
