package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/ts4z/spinwheel/he"
	"github.com/ts4z/spinwheel/model"
)

// NotifyChannel is where the wheels trigger announces changes; see dbnotify.
const NotifyChannel = "wheels_changes"

var schema = []string{`
CREATE TABLE IF NOT EXISTS wheels (
	wheel_id        BIGSERIAL PRIMARY KEY,
	optimistic_lock BIGINT NOT NULL DEFAULT 0,
	model_data      JSONB NOT NULL
)`, `
CREATE OR REPLACE FUNCTION notify_wheels_changes() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
			'Table', 'wheels', 'OnID', OLD.wheel_id, 'Version', OLD.optimistic_lock, 'Deleted', true)::text);
		RETURN OLD;
	END IF;
	PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
		'Table', 'wheels', 'OnID', NEW.wheel_id, 'Version', NEW.optimistic_lock, 'Deleted', false)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS wheels_notify ON wheels`,
	`CREATE TRIGGER wheels_notify AFTER INSERT OR UPDATE OR DELETE ON wheels
	FOR EACH ROW EXECUTE FUNCTION notify_wheels_changes()`,
}

// DBStorage keeps wheels in Postgres, one JSON document per row.
type DBStorage struct {
	db *sql.DB
}

var _ WheelStorage = (*DBStorage)(nil)

// NewDBStorage wraps an open pool; see dbutil.Connect.
func NewDBStorage(db *sql.DB) *DBStorage {
	return &DBStorage{db: db}
}

func (s *DBStorage) Close() {
	s.db.Close()
}

// EnsureSchema creates the wheels table and its change trigger.
func (s *DBStorage) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("while creating schema: %w", err)
		}
	}
	return nil
}

func (s *DBStorage) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT wheel_id, model_data FROM wheels ORDER BY wheel_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overview := &model.Overview{Slugs: []model.WheelSlug{}}
	for rows.Next() {
		var id int64
		var bytes []byte
		if err := rows.Scan(&id, &bytes); err != nil {
			log.Printf("row scan failed: %v", err)
			continue
		}
		var sw storedWheel
		if err := json.Unmarshal(bytes, &sw); err != nil {
			log.Printf("warning: can't unmarshal wheel %d: %v", id, err)
			continue
		}
		overview.Slugs = append(overview.Slugs, model.WheelSlug{
			WheelID:    id,
			Name:       sw.Name,
			EntryCount: len(sw.Entries),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return overview, nil
}

func (s *DBStorage) CreateWheel(ctx context.Context, w *model.Wheel) (int64, error) {
	bytes, err := json.Marshal(toStored(w))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`INSERT INTO wheels (optimistic_lock, model_data) VALUES (0, $1) RETURNING wheel_id`,
		bytes).Scan(&id); err != nil {
		return 0, fmt.Errorf("while inserting wheel: %w", err)
	}
	return id, nil
}

func (s *DBStorage) FetchWheel(ctx context.Context, id int64) (*model.Wheel, error) {
	var lock int64
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT optimistic_lock, model_data FROM wheels WHERE wheel_id=$1`, id).Scan(&lock, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, he.HTTPCodedErrorf(http.StatusNotFound, "no such wheel id %d", id)
	} else if err != nil {
		return nil, err
	}

	var sw storedWheel
	if err := json.Unmarshal(bytes, &sw); err != nil {
		return nil, fmt.Errorf("while decoding wheel %d: %w", id, err)
	}
	return sw.toWheel(id, lock), nil
}

func (s *DBStorage) SaveWheel(ctx context.Context, w *model.Wheel) error {
	bytes, err := json.Marshal(toStored(w))
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE wheels SET optimistic_lock=$1+1, model_data=$2 WHERE wheel_id=$3 AND optimistic_lock=$1`,
		w.OptimisticLock, bytes, w.WheelID)
	if err != nil {
		log.Printf("update failed: %v", err)
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return he.HTTPCodedErrorf(http.StatusConflict, "optimistic lock failure on wheel %d, %d rows affected", w.WheelID, n)
	}
	w.OptimisticLock++
	return nil
}

func (s *DBStorage) DeleteWheel(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM wheels WHERE wheel_id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return he.HTTPCodedErrorf(http.StatusNotFound, "no such wheel id %d", id)
	}
	return nil
}
