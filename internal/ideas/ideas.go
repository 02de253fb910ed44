// Package ideas resolves the idea records produced by completed jobs.
package ideas

import (
	"context"
	"errors"
	"fmt"

	"go-idea-jobs/internal/storage"
)

// ErrNotFound is returned for an unknown result id.
var ErrNotFound = errors.New("idea not found")

// Idea is the generated record a completed job points at.
type Idea = storage.Idea

// Lookup resolves a job's result id to its idea.
type Lookup interface {
	Idea(ctx context.Context, resultID string) (Idea, error)
}

// StoreLookup reads ideas from the local store.
type StoreLookup struct {
	store *storage.Store
}

// NewStoreLookup wraps store.
func NewStoreLookup(store *storage.Store) *StoreLookup {
	return &StoreLookup{store: store}
}

// Idea implements Lookup.
func (l *StoreLookup) Idea(ctx context.Context, resultID string) (Idea, error) {
	if err := ctx.Err(); err != nil {
		return Idea{}, err
	}
	if resultID == "" {
		return Idea{}, fmt.Errorf("empty result id: %w", ErrNotFound)
	}
	i, err := l.store.GetIdea(resultID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Idea{}, fmt.Errorf("idea %s: %w", resultID, ErrNotFound)
		}
		return Idea{}, fmt.Errorf("load idea %s: %w", resultID, err)
	}
	return *i, nil
}
