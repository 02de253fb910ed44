package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO needed)
)

// ErrNotFound is returned when a job or idea row does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists job and idea records for the local processing backend.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database and ensures schema exists.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn) // NOTE: driver name is "sqlite", not "sqlite3"
	if err != nil {
		return nil, err
	}
	// one writer keeps sqlite from reporting SQLITE_BUSY under the worker pool
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the tables if they don't exist.
func (s *Store) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL,
		status TEXT NOT NULL,
		progress_message TEXT NOT NULL DEFAULT '',
		error_message TEXT,
		result_id TEXT,
		retryable INTEGER NOT NULL DEFAULT 0,
		thumbnail_preview TEXT NOT NULL DEFAULT '',
		title_preview TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
	CREATE TABLE IF NOT EXISTS ideas (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(q)
	return err
}

const jobColumns = `id, owner_id, group_id, source_url, status, progress_message, error_message, result_id, retryable, thumbnail_preview, title_preview, attempts, created_at, updated_at`

// Insert stores a new job in queued state and stamps its timestamps.
func (s *Store) Insert(j *Job) error {
	if j.ID == "" {
		return errMissingID
	}
	now := time.Now().UTC()
	j.Status = StatusQueued
	j.ErrorMessage = ""
	j.ResultID = ""
	j.CreatedAt = now
	j.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.OwnerID, j.GroupID, j.SourceURL, string(j.Status), j.ProgressMessage,
		nullableString(j.ErrorMessage), nullableString(j.ResultID), j.Retryable,
		j.ThumbnailPreview, j.TitlePreview, 0, j.CreatedAt, j.UpdatedAt)
	return err
}

// Get retrieves a job by id.
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, _, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// Attempts returns how many times the job has been requeued.
func (s *Store) Attempts(id string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT attempts FROM jobs WHERE id = ?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, int, error) {
	var j Job
	var status string
	var errMsg, resultID sql.NullString
	var attempts int
	if err := row.Scan(&j.ID, &j.OwnerID, &j.GroupID, &j.SourceURL, &status, &j.ProgressMessage,
		&errMsg, &resultID, &j.Retryable, &j.ThumbnailPreview, &j.TitlePreview, &attempts,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, 0, err
	}
	j.Status = JobStatus(status)
	j.ErrorMessage = errMsg.String
	j.ResultID = resultID.String
	return &j, attempts, nil
}

// NextQueued claims the oldest queued job and marks it downloading.
func (s *Store) NextQueued() (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(`SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`, string(StatusQueued))

	var id string
	if err := row.Scan(&id); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, string(StatusDownloading), now, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.Get(id)
}

// Update writes the mutable fields of a job and bumps updated_at.
func (s *Store) Update(j *Job) error {
	j.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, progress_message = ?, error_message = ?, result_id = ?, retryable = ?, thumbnail_preview = ?, title_preview = ?, updated_at = ? WHERE id = ?`,
		string(j.Status), j.ProgressMessage, nullableString(j.ErrorMessage), nullableString(j.ResultID),
		j.Retryable, j.ThumbnailPreview, j.TitlePreview, j.UpdatedAt, j.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("job %s: %w", j.ID, ErrNotFound)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Requeue puts a failed job back to queued and increments attempts. Only
// failed, retryable jobs are eligible.
func (s *Store) Requeue(id string) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, progress_message = '', error_message = NULL, result_id = NULL, attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = ? AND retryable = 1`,
		string(StatusQueued), now, id, string(StatusFailed))
	if err != nil {
		return nil, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("job %s could not be requeued", id)
	}
	return s.Get(id)
}

// RequeueInFlight resets jobs left mid-pipeline (e.g. by a crash) to queued.
func (s *Store) RequeueInFlight() (int64, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, progress_message = '', updated_at = ? WHERE status IN (?, ?)`,
		string(StatusQueued), time.Now().UTC(), string(StatusDownloading), string(StatusProcessing))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes a job record.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed sets the job as failed with a reason.
func (s *Store) MarkFailed(j *Job, msg string, retryable bool) error {
	j.Status = StatusFailed
	j.ErrorMessage = msg
	j.ResultID = ""
	j.Retryable = retryable
	j.ProgressMessage = ""
	return s.Update(j)
}

// MarkCompleted marks the job complete with the produced idea id.
func (s *Store) MarkCompleted(j *Job, resultID string) error {
	j.Status = StatusCompleted
	j.ResultID = resultID
	j.ErrorMessage = ""
	j.ProgressMessage = "Done"
	return s.Update(j)
}
