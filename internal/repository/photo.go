package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/photolib/internal/model"
)

// PhotoRepository is the PostgreSQL Entity Store. Every mutation is a single
// statement so concurrent consumers never need a lock.
type PhotoRepository struct {
	pool *pgxpool.Pool
}

// NewPhotoRepository constructs a repository.
func NewPhotoRepository(pool *pgxpool.Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// Upsert inserts the identity row for id. Replaying the same id is a no-op
// and leaves fields written by other consumers in place.
func (r *PhotoRepository) Upsert(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO photos (id, status, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, id, model.StatusUnset)
	if err != nil {
		return false, fmt.Errorf("insert photo: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetField writes exactly one metadata column.
func (r *PhotoRepository) SetField(ctx context.Context, id string, field model.Field, value string) error {
	col, err := fieldColumn(field)
	if err != nil {
		return err
	}
	// col comes from a closed enum, never from input.
	tag, err := r.pool.Exec(ctx, `UPDATE photos SET `+col+` = $1, updated_at = now() WHERE id = $2`, value, id)
	if err != nil {
		return fmt.Errorf("update photo %s: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set %s on %s: %w", field, id, model.ErrPhotoNotFound)
	}
	return nil
}

// SetStatus writes status and reason together, and the capture date when the
// update carries one.
func (r *PhotoRepository) SetStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE photos
		SET status = $1,
			reason = $2,
			capture_date = COALESCE($3, capture_date),
			updated_at = now()
		WHERE id = $4
	`, update.Status, update.Reason, update.Date, id)
	if err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status on %s: %w", id, model.ErrPhotoNotFound)
	}
	return nil
}

// Get returns a photo by id.
func (r *PhotoRepository) Get(ctx context.Context, id string) (*model.Photo, error) {
	var (
		p                           model.Photo
		caption, date, name, reason sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, caption, capture_date, photographer_name, status, reason, created_at, updated_at
		FROM photos WHERE id = $1
	`, id)
	if err := row.Scan(&p.ID, &caption, &date, &name, &p.Status, &reason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", id, model.ErrPhotoNotFound)
		}
		return nil, fmt.Errorf("select photo: %w", err)
	}
	p.Caption = nullable(caption)
	p.CaptureDate = nullable(date)
	p.PhotographerName = nullable(name)
	p.Reason = nullable(reason)
	return &p, nil
}

func fieldColumn(field model.Field) (string, error) {
	switch field {
	case model.FieldCaption:
		return "caption", nil
	case model.FieldDate:
		return "capture_date", nil
	case model.FieldName:
		return "photographer_name", nil
	}
	return "", fmt.Errorf("unknown metadata field %d", field)
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
