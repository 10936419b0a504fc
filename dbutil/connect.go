// Package dbutil opens the Postgres pool that state.DBStorage sits on.
package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"os"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ts4z/spinwheel/config"
)

// cloudEnv is what the Cloud SQL connector needs.  These come from the
// environment the platform gives us, not from viper.
type cloudEnv struct {
	user, password, database, instance string
	privateIP                          bool
}

func readCloudEnv(getenv func(string) string) (*cloudEnv, error) {
	unset := []string{}
	get := func(k string) string {
		v := getenv(k)
		if v == "" {
			unset = append(unset, k)
		}
		return v
	}

	env := &cloudEnv{
		user:      get("DB_USER"),
		password:  get("DB_PASS"),
		database:  get("DB_NAME"),
		instance:  get("INSTANCE_CONNECTION_NAME"), // project:region:instance
		privateIP: getenv("PRIVATE_IP") != "",
	}
	if len(unset) > 0 {
		return nil, fmt.Errorf("cloudsqlconn: unset variables: %v", unset)
	}
	return env, nil
}

func connectWithConnector(ctx context.Context) (*sql.DB, error) {
	env, err := readCloudEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("user=%s password=%s database=%s", env.user, env.password, env.database)
	pgxConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	// Lazy refresh keeps a serverless instance from burning CPU on
	// background certificate refreshes.
	opts := []cloudsqlconn.Option{cloudsqlconn.WithLazyRefresh()}
	if env.privateIP {
		opts = append(opts, cloudsqlconn.WithDefaultDialOptions(cloudsqlconn.WithPrivateIP()))
	}
	d, err := cloudsqlconn.NewDialer(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("while creating dialer: %w", err)
	}
	pgxConfig.DialFunc = func(ctx context.Context, network, instance string) (net.Conn, error) {
		return d.Dial(ctx, env.instance)
	}
	db, err := sql.Open("pgx", stdlib.RegisterConnConfig(pgxConfig))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	return db, nil
}

func connectWithPgx(_ context.Context) (*sql.DB, error) {
	url := config.DBURL()
	if url == "" {
		return nil, errors.New("database URL is empty")
	}
	log.Printf("connecting to database with pgx")
	return sql.Open("pgx", url)
}

// ErrNoDatabase is returned by Connect when the configured connector is
// "memory".  Callers fall back to state.MemStorage.
var ErrNoDatabase = errors.New("no database configured")

// Connect opens a pool according to config.SQLConnector.
func Connect(ctx context.Context) (*sql.DB, error) {
	factories := map[string]func(context.Context) (*sql.DB, error){
		"connector": connectWithConnector,
		"pgx":       connectWithPgx,
		"memory": func(context.Context) (*sql.DB, error) {
			return nil, ErrNoDatabase
		},
	}
	factory, ok := factories[config.SQLConnector()]
	if !ok {
		return nil, fmt.Errorf("unknown sql connector %q", config.SQLConnector())
	}
	return factory(ctx)
}
