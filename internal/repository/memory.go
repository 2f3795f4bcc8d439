package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/photolib/internal/model"
)

// MemoryStore keeps photos in a map guarded by an RWMutex. It backs tests
// and the "memory" store driver.
type MemoryStore struct {
	mu     sync.RWMutex
	photos map[string]*model.Photo
	now    func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		photos: make(map[string]*model.Photo),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts the identity row if it is missing.
func (m *MemoryStore) Upsert(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.photos[id]; ok {
		return false, nil
	}
	now := m.now()
	m.photos[id] = &model.Photo{ID: id, Status: model.StatusUnset, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

// SetField updates one metadata field.
func (m *MemoryStore) SetField(ctx context.Context, id string, field model.Field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.photos[id]
	if !ok {
		return fmt.Errorf("set %s on %s: %w", field, id, model.ErrPhotoNotFound)
	}
	rec.Set(field, value)
	rec.UpdatedAt = m.now()
	return nil
}

// SetStatus updates status and reason under one lock acquisition.
func (m *MemoryStore) SetStatus(ctx context.Context, id string, update model.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.photos[id]
	if !ok {
		return fmt.Errorf("set status on %s: %w", id, model.ErrPhotoNotFound)
	}
	rec.Status = update.Status
	rec.Reason = cloneString(update.Reason)
	if update.Date != nil {
		rec.CaptureDate = cloneString(update.Date)
	}
	rec.UpdatedAt = m.now()
	return nil
}

// Get returns a deep copy so callers cannot mutate stored state.
func (m *MemoryStore) Get(ctx context.Context, id string) (*model.Photo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.photos[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, model.ErrPhotoNotFound)
	}
	cp := *rec
	cp.Caption = cloneString(rec.Caption)
	cp.CaptureDate = cloneString(rec.CaptureDate)
	cp.PhotographerName = cloneString(rec.PhotographerName)
	cp.Reason = cloneString(rec.Reason)
	return &cp, nil
}

// Len reports how many photos are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.photos)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
