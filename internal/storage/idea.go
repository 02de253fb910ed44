package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Idea is the record produced by a completed job.
type Idea struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	SourceURL    string    `json:"source_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertIdea stores a generated idea.
func (s *Store) InsertIdea(i *Idea) error {
	if i.ID == "" {
		return errors.New("idea id is required")
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO ideas(id, job_id, title, summary, source_url, thumbnail_url, created_at) VALUES(?,?,?,?,?,?,?)`,
		i.ID, i.JobID, i.Title, i.Summary, i.SourceURL, i.ThumbnailURL, i.CreatedAt)
	return err
}

// GetIdea retrieves an idea by id.
func (s *Store) GetIdea(id string) (*Idea, error) {
	var i Idea
	err := s.db.QueryRow(`SELECT id, job_id, title, summary, source_url, thumbnail_url, created_at FROM ideas WHERE id = ?`, id).
		Scan(&i.ID, &i.JobID, &i.Title, &i.Summary, &i.SourceURL, &i.ThumbnailURL, &i.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("idea %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}
