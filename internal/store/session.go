package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"
)

// Session is one survey run. EndTime is null until the run is finalized.
type Session struct {
	ID              string    `json:"id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         null.Time `json:"end_time"`
	TotalFrames     int64     `json:"total_frames"`
	TotalDetections int64     `json:"total_detections"`
	AvgFPS          float64   `json:"avg_fps"`
}

// Duration returns the session length, measured to now while it is open.
func (s *Session) Duration() time.Duration {
	if s.EndTime.Valid {
		return s.EndTime.Time.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// SessionTotals are the counters written when a session is finalized.
type SessionTotals struct {
	Frames     int64
	Detections int64
	AvgFPS     float64
}

// SessionRepository provides access to survey sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create opens a new session starting at start.
func (r *SessionRepository) Create(start time.Time) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		StartTime: start,
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, start_time) VALUES (?, ?)`,
		sess.ID, sess.StartTime,
	)
	if err != nil {
		return nil, err
	}

	return sess, nil
}

// Finalize records the end time and totals of a session.
func (r *SessionRepository) Finalize(id string, end time.Time, totals SessionTotals) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET end_time = ?, total_frames = ?, total_detections = ?, avg_fps = ?
		 WHERE id = ?`,
		end, totals.Frames, totals.Detections, totals.AvgFPS, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess := &Session{}

	err := r.db.QueryRow(
		`SELECT id, start_time, end_time, total_frames, total_detections, avg_fps
		 FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.StartTime, &sess.EndTime, &sess.TotalFrames, &sess.TotalDetections, &sess.AvgFPS)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return sess, nil
}

// List retrieves all sessions, newest first.
func (r *SessionRepository) List() ([]*Session, error) {
	rows, err := r.db.Query(
		`SELECT id, start_time, end_time, total_frames, total_detections, avg_fps
		 FROM sessions ORDER BY start_time DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		err := rows.Scan(&sess.ID, &sess.StartTime, &sess.EndTime, &sess.TotalFrames, &sess.TotalDetections, &sess.AvgFPS)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}
