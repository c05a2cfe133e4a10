package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akave-ai/dgramlog/internal/model"
)

// MemoryInputRepository keeps inputs in process memory. It is used when no
// database is configured; definitions do not survive a restart.
type MemoryInputRepository struct {
	mu     sync.RWMutex
	inputs map[uuid.UUID]model.Input
	now    func() time.Time
}

var _ Inputs = (*MemoryInputRepository)(nil)

func NewMemoryInputRepository() *MemoryInputRepository {
	return &MemoryInputRepository{inputs: make(map[uuid.UUID]model.Input), now: time.Now}
}

func (r *MemoryInputRepository) Create(_ context.Context, input *model.Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.titleTaken(input.Title, uuid.Nil) {
		return ErrTitleConflict
	}
	if input.ID == uuid.Nil {
		input.ID = uuid.New()
	}
	now := r.now().UTC()
	input.CreatedAt, input.UpdatedAt = now, now
	r.inputs[input.ID] = clone(*input)
	return nil
}

func (r *MemoryInputRepository) List(_ context.Context) ([]model.Input, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]model.Input, 0, len(r.inputs))
	for _, in := range r.inputs {
		list = append(list, clone(in))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].Title < list[j].Title
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (r *MemoryInputRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Input, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.inputs[id]
	if !ok {
		return nil, ErrNotFound
	}
	in = clone(in)
	return &in, nil
}

func (r *MemoryInputRepository) Update(_ context.Context, input *model.Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.inputs[input.ID]
	if !ok {
		return ErrNotFound
	}
	if r.titleTaken(input.Title, input.ID) {
		return ErrTitleConflict
	}
	cur.Title = input.Title
	cur.Configuration = input.Configuration
	cur.DesiredState = input.DesiredState
	cur.UpdatedAt = r.now().UTC()
	input.UpdatedAt = cur.UpdatedAt
	r.inputs[input.ID] = clone(cur)
	return nil
}

func (r *MemoryInputRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inputs[id]; !ok {
		return ErrNotFound
	}
	delete(r.inputs, id)
	return nil
}

func (r *MemoryInputRepository) titleTaken(title string, except uuid.UUID) bool {
	for id, in := range r.inputs {
		if id != except && in.Title == title {
			return true
		}
	}
	return false
}

func clone(in model.Input) model.Input {
	in.Configuration = bytes.Clone(in.Configuration)
	return in
}
