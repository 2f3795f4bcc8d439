package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dharsanguruparan/photolib/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS photos (
	id TEXT PRIMARY KEY,
	caption TEXT,
	capture_date TEXT,
	photographer_name TEXT,
	status TEXT NOT NULL DEFAULT 'Unset',
	reason TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore is a single-node Entity Store for local runs.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database file and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts the identity row if it is missing.
func (s *SQLiteStore) Upsert(ctx context.Context, id string) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(model.StatusUnset), now, now)
	if err != nil {
		return false, fmt.Errorf("insert photo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert photo: %w", err)
	}
	return n == 1, nil
}

// SetField writes exactly one metadata column.
func (s *SQLiteStore) SetField(ctx context.Context, id string, field model.Field, value string) error {
	col, err := fieldColumn(field)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE photos SET `+col+` = ?, updated_at = ? WHERE id = ?`, value, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update photo %s: %w", field, err)
	}
	return requireRow(res, fmt.Sprintf("set %s on %s", field, id))
}

// SetStatus writes status and reason in one statement.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE photos
		SET status = ?, reason = ?, capture_date = COALESCE(?, capture_date), updated_at = ?
		WHERE id = ?
	`, string(update.Status), update.Reason, update.Date, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	return requireRow(res, "set status on "+id)
}

// Get returns a photo by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Photo, error) {
	var (
		p                           model.Photo
		status                      string
		caption, date, name, reason sql.NullString
		created, updated            int64
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, caption, capture_date, photographer_name, status, reason, created_at, updated_at
		FROM photos WHERE id = ?
	`, id)
	if err := row.Scan(&p.ID, &caption, &date, &name, &status, &reason, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", id, model.ErrPhotoNotFound)
		}
		return nil, fmt.Errorf("select photo: %w", err)
	}
	p.Status = model.Status(status)
	p.Caption = nullable(caption)
	p.CaptureDate = nullable(date)
	p.PhotographerName = nullable(name)
	p.Reason = nullable(reason)
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return &p, nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrPhotoNotFound)
	}
	return nil
}
