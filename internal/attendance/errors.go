package attendance

import "errors"

// Rejections the service hands back to callers. Conflicts and validation
// failures are distinct from the face-mismatch rejection: the latter is a
// security decision, and clients may want to offer a retry capture for it.
var (
	// ErrValidation wraps missing/malformed input rejections.
	ErrValidation = errors.New("invalid input")

	// ErrNoActiveSession means there is no open attendance window.
	ErrNoActiveSession = errors.New("no active attendance session")

	// ErrUnknownStudent means the claimed roll number is not registered.
	ErrUnknownStudent = errors.New("student not found")

	// ErrFaceMismatch means the presented face did not match the stored
	// descriptor within the acceptance threshold.
	ErrFaceMismatch = errors.New("face recognition failed")

	// ErrAlreadyMarked means attendance was already recorded for this
	// student in the current session. Repeated submissions are a no-op
	// rejection, not an escalation.
	ErrAlreadyMarked = errors.New("attendance already marked for this session")

	// ErrDuplicateRollNumber means the roll number is already registered.
	ErrDuplicateRollNumber = errors.New("student already registered")

	// ErrDuplicateFace means the presented face is already registered
	// under another roll number.
	ErrDuplicateFace = errors.New("face already registered to another student")
)
