package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// Repository persists sessions, students and attendance records in
// Postgres. The invariants the service relies on are enforced by the
// schema: a partial unique index allows at most one active session, and a
// composite unique key allows at most one record per (roll, session) pair.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = "id, company_name, duration_minutes, start_time, end_time, is_active"

// StartSession deactivates any active session and inserts a new one in a
// single transaction. Under concurrent starts the loser's insert trips the
// one-active partial index; a short retry lets it observe the winner and
// take over cleanly.
func (r *Repository) StartSession(ctx context.Context, companyName string, durationMinutes int) (Session, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		s, err := r.startSessionOnce(ctx, companyName, durationMinutes)
		if err == nil {
			return s, nil
		}
		if !isUniqueViolation(err) {
			return Session{}, err
		}
		lastErr = err
	}
	return Session{}, fmt.Errorf("start session: %w", lastErr)
}

func (r *Repository) startSessionOnce(ctx context.Context, companyName string, durationMinutes int) (Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET is_active = FALSE, end_time = NOW()
		WHERE is_active
	`); err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	s := Session{
		ID:              uuid.NewString(),
		CompanyName:     companyName,
		DurationMinutes: durationMinutes,
		StartTime:       now,
		EndTime:         now.Add(time.Duration(durationMinutes) * time.Minute),
		IsActive:        true,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, company_name, duration_minutes, start_time, end_time, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, s.ID, s.CompanyName, s.DurationMinutes, s.StartTime, s.EndTime); err != nil {
		return Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// StopActiveSession deactivates the currently active session.
func (r *Repository) StopActiveSession(ctx context.Context) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET is_active = FALSE, end_time = NOW()
		WHERE is_active
		RETURNING `+sessionColumns)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoActiveSession
	}
	return s, err
}

// ActiveSession returns the active session, or nil when there is none.
func (r *Repository) ActiveSession(ctx context.Context) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM attendance_sessions WHERE is_active`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestSession returns the most recent session by start time, active or
// not, or nil when no sessions exist.
func (r *Repository) LatestSession(ctx context.Context) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM attendance_sessions ORDER BY start_time DESC LIMIT 1`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateStudent registers a roll number with its face descriptor.
func (r *Repository) CreateStudent(ctx context.Context, rollNumber string, descriptor []float32) (Student, error) {
	st := Student{
		ID:           uuid.NewString(),
		RollNumber:   rollNumber,
		Descriptor:   descriptor,
		RegisteredAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, roll_number, face_descriptor, registered_at)
		VALUES ($1, $2, $3, $4)
	`, st.ID, st.RollNumber, pgvector.NewVector(descriptor), st.RegisteredAt)
	if isUniqueViolation(err) {
		return Student{}, ErrDuplicateRollNumber
	}
	if err != nil {
		return Student{}, err
	}
	return st, nil
}

// FindStudent returns the student for a roll number, or nil when absent.
func (r *Repository) FindStudent(ctx context.Context, rollNumber string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, roll_number, face_descriptor, registered_at
		FROM students WHERE roll_number = $1
	`, rollNumber)
	var st Student
	var vec pgvector.Vector
	if err := row.Scan(&st.ID, &st.RollNumber, &vec, &st.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.Descriptor = vec.Slice()
	return &st, nil
}

// ListStudents returns all registered students with their descriptors.
// Used by the registration duplicate-face scan.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, roll_number, face_descriptor, registered_at
		FROM students ORDER BY registered_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		var vec pgvector.Vector
		if err := rows.Scan(&st.ID, &st.RollNumber, &vec, &st.RegisteredAt); err != nil {
			return nil, err
		}
		st.Descriptor = vec.Slice()
		students = append(students, st)
	}
	return students, rows.Err()
}

// HasMarked reports whether a record exists for the (roll, session) pair.
func (r *Repository) HasMarked(ctx context.Context, rollNumber, sessionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records WHERE roll_number = $1 AND session_id = $2
		)
	`, rollNumber, sessionID).Scan(&exists)
	return exists, err
}

// Mark inserts an attendance record. The unique key on
// (roll_number, session_id) makes concurrent duplicate marks lose with
// ErrAlreadyMarked instead of double-writing.
func (r *Repository) Mark(ctx context.Context, rollNumber, sessionID, location string) (Record, error) {
	rec := Record{
		ID:         uuid.NewString(),
		RollNumber: rollNumber,
		SessionID:  sessionID,
		Timestamp:  time.Now().UTC(),
		Location:   location,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, roll_number, session_id, marked_at, location)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.RollNumber, rec.SessionID, rec.Timestamp, rec.Location)
	if isUniqueViolation(err) {
		return Record{}, ErrAlreadyMarked
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListForSession returns a session's records ordered by timestamp ascending.
func (r *Repository) ListForSession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, roll_number, session_id, marked_at, location
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY marked_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RollNumber, &rec.SessionID, &rec.Timestamp, &rec.Location); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CompanyName, &s.DurationMinutes, &s.StartTime, &s.EndTime, &s.IsActive)
	return s, err
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
