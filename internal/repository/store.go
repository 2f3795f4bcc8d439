// Package repository holds the Entity Store implementations. All of them
// share the same semantics: an idempotent identity upsert, single-field
// metadata writes, and status+reason written as one unit.
package repository

import (
	"context"

	"github.com/dharsanguruparan/photolib/internal/model"
)

// Store is the full Entity Store contract.
type Store interface {
	Upsert(ctx context.Context, id string) (bool, error)
	SetField(ctx context.Context, id string, field model.Field, value string) error
	SetStatus(ctx context.Context, id string, update model.StatusUpdate) error
	Get(ctx context.Context, id string) (*model.Photo, error)
}

var (
	_ Store = (*PhotoRepository)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
