package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory implementation of the three
// store contracts. It exists for dev mode and tests; it gives the same
// atomicity guarantees the Postgres schema enforces, just within one
// process.
type MemoryStore struct {
	mu       sync.Mutex
	students map[string]Student
	sessions []Session
	records  map[string]Record // keyed roll|session
	order    []string          // insertion order of record keys
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students: make(map[string]Student),
		records:  make(map[string]Record),
	}
}

// StartSession deactivates any active session and appends a new active one.
func (m *MemoryStore) StartSession(_ context.Context, companyName string, durationMinutes int) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for i := range m.sessions {
		if m.sessions[i].IsActive {
			m.sessions[i].IsActive = false
			m.sessions[i].EndTime = now
		}
	}
	s := Session{
		ID:              uuid.NewString(),
		CompanyName:     companyName,
		DurationMinutes: durationMinutes,
		StartTime:       now,
		EndTime:         now.Add(time.Duration(durationMinutes) * time.Minute),
		IsActive:        true,
	}
	m.sessions = append(m.sessions, s)
	return s, nil
}

// StopActiveSession deactivates the active session, if any.
func (m *MemoryStore) StopActiveSession(_ context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.sessions {
		if m.sessions[i].IsActive {
			m.sessions[i].IsActive = false
			m.sessions[i].EndTime = time.Now().UTC()
			return m.sessions[i], nil
		}
	}
	return Session{}, ErrNoActiveSession
}

// ActiveSession returns the active session or nil.
func (m *MemoryStore) ActiveSession(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.sessions {
		if m.sessions[i].IsActive {
			s := m.sessions[i]
			return &s, nil
		}
	}
	return nil, nil
}

// LatestSession returns the most recent session by start time or nil.
func (m *MemoryStore) LatestSession(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) == 0 {
		return nil, nil
	}
	latest := m.sessions[0]
	for _, s := range m.sessions[1:] {
		if s.StartTime.After(latest.StartTime) {
			latest = s
		}
	}
	return &latest, nil
}

// CreateStudent registers a student, rejecting duplicate roll numbers.
func (m *MemoryStore) CreateStudent(_ context.Context, rollNumber string, descriptor []float32) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[rollNumber]; ok {
		return Student{}, ErrDuplicateRollNumber
	}
	st := Student{
		ID:           uuid.NewString(),
		RollNumber:   rollNumber,
		Descriptor:   append([]float32(nil), descriptor...),
		RegisteredAt: time.Now().UTC(),
	}
	m.students[rollNumber] = st
	return st, nil
}

// FindStudent returns the student for a roll number or nil.
func (m *MemoryStore) FindStudent(_ context.Context, rollNumber string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.students[rollNumber]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// ListStudents returns all students ordered by registration time.
func (m *MemoryStore) ListStudents(_ context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	students := make([]Student, 0, len(m.students))
	for _, st := range m.students {
		students = append(students, st)
	}
	sort.Slice(students, func(i, j int) bool {
		return students[i].RegisteredAt.Before(students[j].RegisteredAt)
	})
	return students, nil
}

// HasMarked reports whether the pair already has a record.
func (m *MemoryStore) HasMarked(_ context.Context, rollNumber, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.records[rollNumber+"|"+sessionID]
	return ok, nil
}

// Mark records attendance; the check and insert happen under one lock so
// concurrent duplicates yield exactly one success.
func (m *MemoryStore) Mark(_ context.Context, rollNumber, sessionID, location string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rollNumber + "|" + sessionID
	if _, ok := m.records[key]; ok {
		return Record{}, ErrAlreadyMarked
	}
	rec := Record{
		ID:         uuid.NewString(),
		RollNumber: rollNumber,
		SessionID:  sessionID,
		Timestamp:  time.Now().UTC(),
		Location:   location,
	}
	m.records[key] = rec
	m.order = append(m.order, key)
	return rec, nil
}

// ListForSession returns a session's records ordered by timestamp ascending.
func (m *MemoryStore) ListForSession(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []Record
	for _, key := range m.order {
		if rec := m.records[key]; rec.SessionID == sessionID {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}
