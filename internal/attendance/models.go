package attendance

import "time"

// Session is one time-boxed attendance window for a named event.
type Session struct {
	ID              string    `json:"id"`
	CompanyName     string    `json:"companyName"`
	DurationMinutes int       `json:"duration"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	IsActive        bool      `json:"isActive"`
}

// Ended reports whether the session's window has passed at the given time.
func (s Session) Ended(now time.Time) bool {
	return now.After(s.EndTime)
}

// Student is a registered identity: a roll number bound to a face descriptor.
// Students are immutable once created.
type Student struct {
	ID           string    `json:"id"`
	RollNumber   string    `json:"rollNumber"`
	Descriptor   []float32 `json:"-"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Record is one successful check-in. At most one exists per
// (rollNumber, sessionId) pair.
type Record struct {
	ID         string    `json:"id"`
	RollNumber string    `json:"rollNumber"`
	SessionID  string    `json:"sessionId"`
	Timestamp  time.Time `json:"timestamp"`
	Location   string    `json:"location"`
}

// Snapshot is what dashboards consume: the latest session and its
// attendance list, ordered by timestamp ascending.
type Snapshot struct {
	Session        *Session `json:"session"`
	AttendanceList []Record `json:"attendanceList"`
}
