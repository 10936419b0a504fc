package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/ts4z/spinwheel/config"
	"github.com/ts4z/spinwheel/dbcache"
	"github.com/ts4z/spinwheel/dbnotify"
	"github.com/ts4z/spinwheel/dbutil"
	"github.com/ts4z/spinwheel/permission"
	"github.com/ts4z/spinwheel/state"
	"github.com/ts4z/spinwheel/webapp"
	"github.com/ts4z/spinwheel/wheel"
)

// openStorage returns the storage stack.  db is nil when running without a
// database, and cache is nil along with it.
func openStorage(ctx context.Context) (storage state.WheelStorage, db *sql.DB, cache *dbcache.WheelStorage) {
	db, err := dbutil.Connect(ctx)
	if errors.Is(err, dbutil.ErrNoDatabase) {
		log.Printf("warning: no database, wheels are kept in memory only")
		return state.NewMemStorage(), nil, nil
	} else if err != nil {
		log.Fatalf("can't connect to database: %v", err)
	}

	dbs := state.NewDBStorage(db)
	if err := dbs.EnsureSchema(ctx); err != nil {
		log.Fatalf("can't configure database: %v", err)
	}
	cache = dbcache.NewWheelStorage(config.CacheSize(), dbs)
	return cache, db, cache
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	config.Init()

	clock := clockwork.NewRealClock()

	storage, db, cache := openStorage(ctx)
	defer storage.Close()

	hashKey, blockKey := config.CookieKeys()
	bakery, err := permission.New(hashKey, blockKey, config.SecureCookies())
	if err != nil {
		log.Fatalf("can't create bakery: %v", err)
	}

	manager := wheel.NewManager(&wheel.Config{
		Clock:   clock,
		Storage: storage,
		Options: wheel.Options{
			FrameInterval:       config.FrameInterval(),
			GraceDelay:          config.GraceDelay(),
			MinSpinDuration:     config.MinSpinDuration(),
			MaxSpinDuration:     config.MaxSpinDuration(),
			DefaultSpinDuration: config.DefaultSpinDuration(),
		},
	})

	if db != nil {
		listener, err := dbnotify.New(db, clock, dbnotify.NewWheelDispatcher(cache, manager))
		if err != nil {
			log.Fatalf("can't create db listener: %v", err)
		}
		go listener.Run(ctx)
	}

	app := webapp.New(&webapp.Config{
		Manager:        manager,
		Bakery:         bakery,
		Clock:          clock,
		AllowedOrigins: config.AllowedOrigins(),
		ListenTimeout:  config.ListenTimeout(),
	})

	if err := app.Serve(ctx, config.ListenAddress()); err != nil {
		log.Fatalf("can't serve: %v", err)
	}
}
