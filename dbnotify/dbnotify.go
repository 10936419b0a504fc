/*
Package dbnotify is a backchannel from Postgres: a trigger on the wheels table
sends a notification on every write, and this package turns those into cache
invalidations and live wheel refreshes.  That is what lets several servers
share one database.
*/
package dbnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"

	"github.com/ts4z/spinwheel/varz"
)

const sleepOnErrorTime = 5 * time.Second

var (
	notificationsReceived = varz.NewInt("notificationsReceived")
	notificationsBad      = varz.NewInt("notificationsBad")
)

// Event is the trigger's JSON payload.  Version is the row's optimistic lock.
type Event struct {
	Table   string
	OnID    int64
	Version int64
	Deleted bool
}

type Consumer interface {
	TableName() string
	Consume(ctx context.Context, event *Event)
}

// Listener holds one connection in LISTEN for each consumer's table.
type Listener struct {
	db        *sql.DB
	clock     clockwork.Clock
	consumers map[string]Consumer
}

func New(db *sql.DB, clock clockwork.Clock, consumers ...Consumer) (*Listener, error) {
	m := make(map[string]Consumer)
	for _, c := range consumers {
		if _, exists := m[c.TableName()]; exists {
			return nil, fmt.Errorf("duplicate consumer for table %s", c.TableName())
		}
		m[c.TableName()] = c
	}
	return &Listener{db: db, clock: clock, consumers: m}, nil
}

func channelFor(table string) string {
	return table + "_changes"
}

func decodeEvent(payload string) (*Event, error) {
	event := &Event{}
	if err := json.Unmarshal([]byte(payload), event); err != nil {
		return nil, fmt.Errorf("can't unmarshal notification payload %q: %w", payload, err)
	}
	if event.Table == "" || event.OnID <= 0 {
		return nil, fmt.Errorf("incomplete notification payload %q", payload)
	}
	return event, nil
}

func (l *Listener) dispatch(ctx context.Context, event *Event) {
	c, ok := l.consumers[event.Table]
	if !ok {
		log.Printf("no consumer for table %s", event.Table)
		return
	}
	c.Consume(ctx, event)
}

// Listen waits for notifications until ctx is done or the connection fails.
func (l *Listener) Listen(ctx context.Context) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var pgxConn *stdlib.Conn
	err = conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("driver connection is %T, not pgx", driverConn)
		}
		pgxConn = c
		return nil
	})
	if err != nil {
		return err
	}

	for table := range l.consumers {
		channel := channelFor(table)
		if _, err := pgxConn.Conn().Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("failed to listen on channel %s: %w", channel, err)
		}
	}

	for {
		var notification *pgconn.Notification
		if notification, err = pgxConn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error waiting for notification: %w", err)
		}
		notificationsReceived.Add(1)

		event, err := decodeEvent(notification.Payload)
		if err != nil {
			notificationsBad.Add(1)
			log.Printf("warning: %v", err)
			continue
		}
		// Consumers may do I/O; don't hold up the connection.
		go l.dispatch(ctx, event)
	}
}

// Run calls Listen until ctx is done, pausing after failures.
func (l *Listener) Run(ctx context.Context) {
	for {
		err := l.Listen(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("db notification listener failed, retrying in %v: %v", sleepOnErrorTime, err)
		select {
		case <-ctx.Done():
			return
		case <-l.clock.After(sleepOnErrorTime):
		}
	}
}

// Invalidator drops cached copies older than lock.
type Invalidator interface {
	Invalidate(id, lock int64)
}

// Refresher updates live wheels from storage.
type Refresher interface {
	Refresh(ctx context.Context, id, lock int64) error
	Forget(id int64)
}

// WheelDispatcher applies wheels table changes made by any server.
type WheelDispatcher struct {
	cache     Invalidator
	refresher Refresher
}

var _ Consumer = (*WheelDispatcher)(nil)

// NewWheelDispatcher takes a nil cache if there isn't one.
func NewWheelDispatcher(cache Invalidator, refresher Refresher) *WheelDispatcher {
	return &WheelDispatcher{cache: cache, refresher: refresher}
}

func (d *WheelDispatcher) TableName() string {
	return "wheels"
}

func (d *WheelDispatcher) Consume(ctx context.Context, event *Event) {
	if d.cache != nil {
		d.cache.Invalidate(event.OnID, event.Version)
	}
	if event.Deleted {
		d.refresher.Forget(event.OnID)
		return
	}
	if err := d.refresher.Refresh(ctx, event.OnID, event.Version); err != nil {
		log.Printf("drop notification: can't refresh wheel %d: %v", event.OnID, err)
	}
}
