package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"faceattend/internal/facematch"
)

// SessionStore persists attendance sessions and guarantees at most one is
// active at any instant.
type SessionStore interface {
	StartSession(ctx context.Context, companyName string, durationMinutes int) (Session, error)
	StopActiveSession(ctx context.Context) (Session, error)
	ActiveSession(ctx context.Context) (*Session, error)
	LatestSession(ctx context.Context) (*Session, error)
}

// StudentDirectory persists registered students keyed by roll number.
type StudentDirectory interface {
	CreateStudent(ctx context.Context, rollNumber string, descriptor []float32) (Student, error)
	FindStudent(ctx context.Context, rollNumber string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
}

// AttendanceLedger persists records and guarantees at most one per
// (roll number, session) pair, atomically under concurrent marks.
type AttendanceLedger interface {
	HasMarked(ctx context.Context, rollNumber, sessionID string) (bool, error)
	Mark(ctx context.Context, rollNumber, sessionID, location string) (Record, error)
	ListForSession(ctx context.Context, sessionID string) ([]Record, error)
}

// Publisher receives snapshots after the attendance list changes. Delivery
// is best-effort; a publish failure never fails the originating operation.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Clock abstracts time retrieval so window checks are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// Config tunes service behavior.
type Config struct {
	// DescriptorDim is the expected descriptor length; zero disables the
	// length check.
	DescriptorDim int
	// EnforceEndTime rejects check-ins once the active session's end time
	// has passed, instead of treating the window as advisory.
	EnforceEndTime bool
	Clock          Clock
}

// Service orchestrates registration and check-in over the three stores,
// the face matcher and the notification channel.
type Service struct {
	sessions SessionStore
	students StudentDirectory
	ledger   AttendanceLedger
	matcher  facematch.Matcher
	notifier Publisher
	cfg      Config
}

// NewService wires a service. notifier may be nil when no one listens.
func NewService(sessions SessionStore, students StudentDirectory, ledger AttendanceLedger, matcher facematch.Matcher, notifier Publisher, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	return &Service{
		sessions: sessions,
		students: students,
		ledger:   ledger,
		matcher:  matcher,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Register enrolls a new student. The descriptor is scanned against every
// registered student first, so one face cannot be registered under two roll
// numbers. The scan is O(n) over the directory, which is fine at this
// scale.
func (s *Service) Register(ctx context.Context, rollNumber string, descriptor []float32) (Student, error) {
	if rollNumber == "" {
		return Student{}, fmt.Errorf("%w: roll number required", ErrValidation)
	}
	if len(descriptor) == 0 {
		return Student{}, fmt.Errorf("%w: face descriptor required", ErrValidation)
	}
	if s.cfg.DescriptorDim > 0 && len(descriptor) != s.cfg.DescriptorDim {
		return Student{}, fmt.Errorf("%w: descriptor has %d values, want %d",
			ErrValidation, len(descriptor), s.cfg.DescriptorDim)
	}

	existing, err := s.students.ListStudents(ctx)
	if err != nil {
		return Student{}, fmt.Errorf("list students: %w", err)
	}
	candidates := make([]facematch.Candidate, 0, len(existing))
	for _, st := range existing {
		candidates = append(candidates, facematch.Candidate{ID: st.RollNumber, Descriptor: st.Descriptor})
	}
	match, err := facematch.Identify(descriptor, candidates)
	switch {
	case errors.Is(err, facematch.ErrNoCandidates):
		// Empty directory: nothing to collide with.
	case err != nil:
		return Student{}, fmt.Errorf("%w: %v", ErrValidation, err)
	case s.matcher.Accepts(match.Distance):
		return Student{}, ErrDuplicateFace
	}

	return s.students.CreateStudent(ctx, rollNumber, descriptor)
}

// CheckIn runs the check-in pipeline: active session, known student, face
// verification, then the ledger write. Each failure short-circuits with no
// side effects; only a successful mark touches the ledger and the
// notification channel.
func (s *Service) CheckIn(ctx context.Context, rollNumber string, descriptor []float32, location string) (Record, error) {
	if rollNumber == "" {
		return Record{}, fmt.Errorf("%w: roll number required", ErrValidation)
	}
	if len(descriptor) == 0 {
		return Record{}, fmt.Errorf("%w: face descriptor required", ErrValidation)
	}

	session, err := s.sessions.ActiveSession(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("load active session: %w", err)
	}
	if session == nil {
		return Record{}, ErrNoActiveSession
	}
	if s.cfg.EnforceEndTime && session.Ended(s.cfg.Clock.Now()) {
		return Record{}, ErrNoActiveSession
	}

	student, err := s.students.FindStudent(ctx, rollNumber)
	if err != nil {
		return Record{}, fmt.Errorf("find student: %w", err)
	}
	if student == nil {
		return Record{}, ErrUnknownStudent
	}

	distance, ok, err := s.matcher.Verify(descriptor, student.Descriptor)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !ok {
		return Record{}, fmt.Errorf("%w (distance %.3f)", ErrFaceMismatch, distance)
	}

	marked, err := s.ledger.HasMarked(ctx, rollNumber, session.ID)
	if err != nil {
		return Record{}, fmt.Errorf("check existing mark: %w", err)
	}
	if marked {
		return Record{}, ErrAlreadyMarked
	}

	if location == "" {
		location = "Unknown"
	}
	// The ledger's unique key still backstops the read above: a concurrent
	// duplicate loses here with ErrAlreadyMarked.
	rec, err := s.ledger.Mark(ctx, rollNumber, session.ID, location)
	if err != nil {
		return Record{}, err
	}
	s.publish(ctx)
	return rec, nil
}

// StartSession opens a new attendance window, closing any open one.
func (s *Service) StartSession(ctx context.Context, companyName string, durationMinutes int) (Session, error) {
	if companyName == "" {
		return Session{}, fmt.Errorf("%w: company name required", ErrValidation)
	}
	if durationMinutes <= 0 {
		return Session{}, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	session, err := s.sessions.StartSession(ctx, companyName, durationMinutes)
	if err != nil {
		return Session{}, err
	}
	s.publish(ctx)
	return session, nil
}

// StopSession closes the active attendance window.
func (s *Service) StopSession(ctx context.Context) (Session, error) {
	session, err := s.sessions.StopActiveSession(ctx)
	if err != nil {
		return Session{}, err
	}
	s.publish(ctx)
	return session, nil
}

// ActiveSession returns the open session, or nil when there is none.
func (s *Service) ActiveSession(ctx context.Context) (*Session, error) {
	return s.sessions.ActiveSession(ctx)
}

// Snapshot assembles the latest session and its attendance list. The
// session is nil when none was ever started.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	session, err := s.sessions.LatestSession(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load latest session: %w", err)
	}
	if session == nil {
		return Snapshot{}, nil
	}
	records, err := s.ledger.ListForSession(ctx, session.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list records: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return Snapshot{Session: session, AttendanceList: records}, nil
}

// CloseExpired deactivates the active session once its end time has
// passed. It returns the closed session, or nil when nothing was due.
func (s *Service) CloseExpired(ctx context.Context) (*Session, error) {
	session, err := s.sessions.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.Ended(s.cfg.Clock.Now()) {
		return nil, nil
	}
	closed, err := s.sessions.StopActiveSession(ctx)
	if errors.Is(err, ErrNoActiveSession) {
		// Someone else closed it between the read and the stop.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx)
	return &closed, nil
}

func (s *Service) publish(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		log.Printf("snapshot for broadcast failed: %v", err)
		return
	}
	if err := s.notifier.Publish(ctx, snap); err != nil {
		log.Printf("snapshot broadcast failed: %v", err)
	}
}
