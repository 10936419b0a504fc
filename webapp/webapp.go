// Package webapp serves wheels over a JSON API.
package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"

	"github.com/ts4z/spinwheel/app/handlers"
	"github.com/ts4z/spinwheel/dep"
	"github.com/ts4z/spinwheel/entries"
	"github.com/ts4z/spinwheel/he"
	"github.com/ts4z/spinwheel/middleware"
	"github.com/ts4z/spinwheel/middleware/c2ctx"
	"github.com/ts4z/spinwheel/middleware/labrea"
	"github.com/ts4z/spinwheel/model"
	"github.com/ts4z/spinwheel/permission"
	"github.com/ts4z/spinwheel/protocol"
	"github.com/ts4z/spinwheel/segment"
	"github.com/ts4z/spinwheel/urlpath"
	"github.com/ts4z/spinwheel/varz"
	"github.com/ts4z/spinwheel/wheel"
)

var (
	clientClosedWhileListening    = varz.NewInt("clientClosedWhileListening")
	timedOutWhileListening        = varz.NewInt("timedOutWhileListening")
	errorListening                = varz.NewInt("errorListening")
	badWheelIDForListen           = varz.NewInt("badWheelIDForListen")
	listenNotifiedClient          = varz.NewInt("listenNotifiedClient")
	errorWhileMarshalingForListen = varz.NewInt("errorWhileMarshalingForListen")
)

const (
	defaultOverviewLimit = 50
	maxOverviewLimit     = 500
	maxBodyBytes         = 1 << 20
)

// Config holds what New needs.
type Config struct {
	Manager *wheel.Manager
	Bakery  *permission.Bakery
	Clock   clockwork.Clock

	AllowedOrigins []string
	// ListenTimeout bounds a long poll.  Zero means an hour.
	ListenTimeout time.Duration
}

type App struct {
	manager       *wheel.Manager
	bakery        *permission.Bakery
	clock         clockwork.Clock
	listenTimeout time.Duration

	mux     *http.ServeMux
	handler http.Handler
}

func New(config *Config) *App {
	app := &App{
		manager:       dep.Required(config.Manager),
		bakery:        dep.Required(config.Bakery),
		clock:         dep.Required(config.Clock),
		listenTimeout: config.ListenTimeout,
		mux:           http.NewServeMux(),
	}
	if app.listenTimeout <= 0 {
		app.listenTimeout = time.Hour
	}

	c2c := c2ctx.Handler(&c2ctx.Config{
		Bakery: app.bakery,
		Next:   app.mux,
	})
	logger := middleware.NewRequestLogger(c2c, app.clock)
	tarpit := labrea.New(&labrea.Config{
		// Real clock here; the tarpit must not depend on a test clock.
		Clock: clockwork.NewRealClock(),
		Next:  logger,
	})
	app.handler = tarpit
	// cors treats an empty list as "everyone", which is not what an empty
	// list means here.
	if len(config.AllowedOrigins) > 0 {
		for _, origin := range config.AllowedOrigins {
			log.Printf("CORS allowing origin %s", origin)
		}
		corsMW := cors.New(cors.Options{
			AllowedOrigins:   config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowCredentials: true,
		})
		app.handler = corsMW.Handler(tarpit)
	}

	app.InstallHandlers()
	return app
}

// Handler returns the configured HTTP handler.
func (app *App) Handler() http.Handler {
	return app.handler
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	bytes, err := json.Marshal(v)
	if err != nil {
		he.SendErrorToHTTPClient(w, "marshal response", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writ, err := w.Write(bytes)
	if err != nil {
		log.Printf("error writing response to client: %v", err)
	} else if writ != len(bytes) {
		log.Println("short write to client")
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return he.HTTPCodedErrorf(http.StatusBadRequest, "decoding json: %w", err)
	}
	return nil
}

func (app *App) handleFunc(pattern string, handler func(context.Context, http.ResponseWriter, *http.Request)) {
	app.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		handler(r.Context(), w, r)
	})
}

func (app *App) handleFuncTakingID(pattern string, handler func(context.Context, int64, http.ResponseWriter, *http.Request)) {
	app.handleFunc(pattern, func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		id, err := urlpath.IDPathValue(r)
		if err != nil {
			he.SendErrorToHTTPClient(w, "parse url", err)
			return
		}
		handler(ctx, id, w, r)
	})
}

// requiringOwnerTakingIDHandleFunc is for anything that changes a wheel.
func (app *App) requiringOwnerTakingIDHandleFunc(pattern string, handler func(context.Context, int64, http.ResponseWriter, *http.Request)) {
	app.handleFuncTakingID(pattern, func(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
		if err := permission.RequireOwner(ctx, id); err != nil {
			he.SendErrorToHTTPClient(w, "authorize", err)
			return
		}
		handler(ctx, id, w, r)
	})
}

// replyWithWheel sends the result of a manager call.
func replyWithWheel(w http.ResponseWriter, while string, wh *model.Wheel, err error) {
	if err != nil {
		he.SendErrorToHTTPClient(w, while, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, he.HTTPCodedErrorf(http.StatusBadRequest, "bad %s %q", key, raw)
	}
	return v, nil
}

func (app *App) handleListWheels(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse query", err)
		return
	}
	limit, err := queryInt(r, "limit", defaultOverviewLimit)
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse query", err)
		return
	}
	overview, err := app.manager.FetchOverview(ctx, offset, min(limit, maxOverviewLimit))
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch overview", err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type createRequest struct {
	Name string
	// Entries, if given, is used as is.  Otherwise EntriesText is parsed,
	// and if that's missing too the wheel gets sample entries.
	Entries     []string
	EntriesText *string
	Settings    *model.Settings
}

func (app *App) handleCreateWheel(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := readJSON(w, r, &req); err != nil {
		he.SendErrorToHTTPClient(w, "create wheel", err)
		return
	}
	list := req.Entries
	if list == nil && req.EntriesText != nil {
		list = entries.Parse(*req.EntriesText)
	}
	if req.Name == "" {
		req.Name = "Wheel of Names"
	}

	wh, err := app.manager.Create(ctx, req.Name, list, req.Settings)
	if err != nil {
		he.SendErrorToHTTPClient(w, "create wheel", err)
		return
	}

	owner := &model.OwnerCookieData{}
	if have := permission.OwnerFromContext(ctx); have != nil {
		owner.WheelIDs = append(owner.WheelIDs, have.WheelIDs...)
	}
	owner.Grant(wh.WheelID, permission.OwnerCookieLimit)
	if err := app.bakery.BakeCookie(w, owner); err != nil {
		he.SendErrorToHTTPClient(w, "bake owner cookie", err)
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (app *App) handleFetchWheel(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	wh, err := app.manager.FetchWheel(ctx, id)
	replyWithWheel(w, "fetch wheel", wh, err)
}

func (app *App) handleDeleteWheel(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	if err := app.manager.Delete(ctx, id); err != nil {
		he.SendErrorToHTTPClient(w, "delete wheel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) handleSegments(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	wh, err := app.manager.FetchWheel(ctx, id)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch wheel", err)
		return
	}
	segments := segment.SegmentsFor(wh.Entries)
	if segments == nil {
		segments = []segment.Segment{}
	}
	writeJSON(w, http.StatusOK, segments)
}

func (app *App) handleSetEntries(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	var req struct{ Text string }
	if err := readJSON(w, r, &req); err != nil {
		he.SendErrorToHTTPClient(w, "set entries", err)
		return
	}
	wh, err := app.manager.SetEntriesText(ctx, id, req.Text)
	replyWithWheel(w, "set entries", wh, err)
}

func (app *App) handleAddEntry(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	var req struct{ Label string }
	if err := readJSON(w, r, &req); err != nil {
		he.SendErrorToHTTPClient(w, "add entry", err)
		return
	}
	wh, err := app.manager.AddEntry(ctx, id, req.Label)
	replyWithWheel(w, "add entry", wh, err)
}

func (app *App) handleClearEntries(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	wh, err := app.manager.ClearEntries(ctx, id)
	replyWithWheel(w, "clear entries", wh, err)
}

func (app *App) handleRemoveEntry(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	index, err := urlpath.IndexPathValue(r)
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse url", err)
		return
	}
	wh, err := app.manager.RemoveEntry(ctx, id, index)
	replyWithWheel(w, "remove entry", wh, err)
}

func (app *App) handleUpdateSettings(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	var s model.Settings
	if err := readJSON(w, r, &s); err != nil {
		he.SendErrorToHTTPClient(w, "update settings", err)
		return
	}
	wh, err := app.manager.UpdateSettings(ctx, id, s)
	replyWithWheel(w, "update settings", wh, err)
}

type renameRequest struct {
	Name string
}

func (app *App) handleRename(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := readJSON(w, r, &req); err != nil {
		he.SendErrorToHTTPClient(w, "rename", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		he.SendErrorToHTTPClient(w, "rename", he.HTTPCodedErrorf(http.StatusBadRequest, "name is empty"))
		return
	}
	wh, err := app.manager.Rename(ctx, id, name)
	replyWithWheel(w, "rename", wh, err)
}

type spinResponse struct {
	Started bool
	Wheel   *model.Wheel
}

func (app *App) handleSpin(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	started, err := app.manager.Spin(ctx, id)
	if err != nil {
		he.SendErrorToHTTPClient(w, "spin", err)
		return
	}
	wh, err := app.manager.FetchWheel(ctx, id)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch wheel", err)
		return
	}
	writeJSON(w, http.StatusOK, &spinResponse{Started: started, Wheel: wh})
}

func (app *App) handleReset(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	wh, err := app.manager.Reset(ctx, id)
	replyWithWheel(w, "reset", wh, err)
}

func (app *App) handleRemoveWinner(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	wh, err := app.manager.RemoveWinner(ctx, id)
	replyWithWheel(w, "remove winner", wh, err)
}

func (app *App) handleAPIWheelListen(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	type reqBody struct {
		WheelID         int64
		Version         int64
		ProtocolVersion int64
	}
	var req reqBody
	if err := readJSON(w, r, &req); err != nil {
		he.SendErrorToHTTPClient(w, "/api/wheel-listen", err)
		return
	}
	if req.WheelID <= 0 {
		badWheelIDForListen.Add(1)
		he.SendErrorToHTTPClient(w, "prep listen request", he.HTTPCodedErrorf(http.StatusBadRequest, "invalid wheel ID %d", req.WheelID))
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	wheelCh := make(chan *model.Wheel, 1)
	timeoutCh := app.clock.After(app.listenTimeout)
	version := req.Version
	if req.ProtocolVersion != protocol.Version {
		// The client needs to reload; make sure it hears about it now.
		version = -1
	}
	app.manager.Listen(ctx, req.WheelID, version, errCh, wheelCh)

	select {
	case err := <-errCh:
		errorListening.Add(1)
		he.SendErrorToHTTPClient(w, "listen for wheel version change", err)
	case wh := <-wheelCh:
		bytes, err := json.Marshal(wh)
		if err != nil {
			errorWhileMarshalingForListen.Add(1)
			he.SendErrorToHTTPClient(w, "marshal model", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(bytes)
		listenNotifiedClient.Add(1)
	case <-timeoutCh:
		timedOutWhileListening.Add(1)
		he.SendErrorToHTTPClient(w, "wait for wheel update",
			he.HTTPCodedErrorf(http.StatusGatewayTimeout, "timeout"))
	case <-ctx.Done():
		clientClosedWhileListening.Add(1)
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	}
}

func (app *App) InstallHandlers() {
	app.handleFunc("GET /robots.txt", func(_ context.Context, w http.ResponseWriter, r *http.Request) {
		handlers.HandleRobotsTXT(w, r)
	})
	app.mux.Handle("GET /varz", varz.Handler())

	app.handleFunc("GET /api/wheels", app.handleListWheels)
	app.handleFunc("POST /api/wheels", app.handleCreateWheel)

	app.handleFuncTakingID("GET /api/wheel/{id}", app.handleFetchWheel)
	app.requiringOwnerTakingIDHandleFunc("DELETE /api/wheel/{id}", app.handleDeleteWheel)

	app.handleFuncTakingID("GET /api/wheel/{id}/segments", app.handleSegments)

	app.requiringOwnerTakingIDHandleFunc("PUT /api/wheel/{id}/entries", app.handleSetEntries)
	app.requiringOwnerTakingIDHandleFunc("POST /api/wheel/{id}/entries", app.handleAddEntry)
	app.requiringOwnerTakingIDHandleFunc("DELETE /api/wheel/{id}/entries", app.handleClearEntries)
	app.requiringOwnerTakingIDHandleFunc("DELETE /api/wheel/{id}/entries/{index}", app.handleRemoveEntry)

	app.requiringOwnerTakingIDHandleFunc("PUT /api/wheel/{id}/name", app.handleRename)
	app.requiringOwnerTakingIDHandleFunc("PUT /api/wheel/{id}/settings", app.handleUpdateSettings)

	app.requiringOwnerTakingIDHandleFunc("POST /api/wheel/{id}/spin", app.handleSpin)
	app.requiringOwnerTakingIDHandleFunc("POST /api/wheel/{id}/reset", app.handleReset)
	app.requiringOwnerTakingIDHandleFunc("POST /api/wheel/{id}/remove-winner", app.handleRemoveWinner)

	app.handleFunc("POST /api/wheel-listen", app.handleAPIWheelListen)
}

// Wrapper to just return the input context.
func contextualizer(ctx context.Context) func(net.Listener) context.Context {
	return func(_ net.Listener) context.Context {
		return ctx
	}
}

// Serve runs the HTTP server until it fails or ctx is done.
func (app *App) Serve(ctx context.Context, listenAddress string) error {
	server := &http.Server{
		Addr:         listenAddress,
		Handler:      app.handler,
		BaseContext:  contextualizer(ctx),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: app.listenTimeout + time.Minute,
		IdleTimeout:  12 * time.Hour,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", listenAddress)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("server exited: %w", err)
}
