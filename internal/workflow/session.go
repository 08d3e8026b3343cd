package workflow

import (
	"sync"
	"time"

	"github.com/clinicdesk/booking-engine/internal/availability"
	"github.com/clinicdesk/booking-engine/internal/catalog"
)

// Status annotates the session's fetch/submission state. The wizard
// position itself lives in the step index; status only says whether a
// gateway call is in flight, the last one failed, or the session has
// reached its terminal submitted state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusError     Status = "error"
	StatusSubmitted Status = "submitted"
)

// Draft is the booking record accumulated across wizard steps. Fields
// are filled strictly in step order; a field for a not-yet-reached step
// is always empty, never a placeholder.
type Draft struct {
	PatientRef      string `json:"patient_ref"`
	AppointmentKind string `json:"appointment_kind"`
	ClinicID        string `json:"clinic_id,omitempty"`
	DoctorID        string `json:"doctor_id,omitempty"`
	Date            string `json:"date,omitempty"`
	Time            string `json:"time,omitempty"`
}

// LastError is the user-visible record of the most recent failure.
type LastError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Session is one live booking wizard. All mutation goes through the
// Service transition operations; the mutex serializes them against
// snapshot reads. At most one gateway call is outstanding per session,
// tracked by StatusLoading.
type Session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time

	draft     Draft
	mode      catalog.BookingMode
	steps     []StepKind
	stepIndex int
	status    Status
	lastErr   *LastError
	closed    bool

	// Catalog data cached from prior transitions, kept across
	// back-navigation and only re-fetched when its owning selection
	// changes.
	clinics []catalog.ClinicRef
	doctors []catalog.DoctorRef
	dates   availability.Index
	times   availability.Index

	result *catalog.ReservationResult
}

// Snapshot is a deep copy of session state handed to callers. It also
// serves as the persistence record for the session store.
type Snapshot struct {
	ID             string                     `json:"id"`
	CreatedAt      time.Time                  `json:"created_at"`
	Steps          []StepKind                 `json:"steps"`
	StepIndex      int                        `json:"step_index"`
	CurrentStep    StepKind                   `json:"current_step"`
	Status         Status                     `json:"status"`
	Draft          Draft                      `json:"draft"`
	BookingMode    catalog.BookingMode        `json:"booking_mode,omitempty"`
	LastError      *LastError                 `json:"last_error,omitempty"`
	Clinics        []catalog.ClinicRef        `json:"clinics,omitempty"`
	Doctors        []catalog.DoctorRef        `json:"doctors,omitempty"`
	AvailableDates []string                   `json:"available_dates,omitempty"`
	AvailableTimes []string                   `json:"available_times,omitempty"`
	Result         *catalog.ReservationResult `json:"result,omitempty"`
}

func newSession(id, patientRef, appointmentKind string, clinics []catalog.ClinicRef) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		draft: Draft{
			PatientRef:      patientRef,
			AppointmentKind: appointmentKind,
		},
		steps:   ResolveSteps(catalog.BookingModeUnknown),
		status:  StatusIdle,
		clinics: clinics,
	}
}

// sessionFromSnapshot rebuilds a live session from a persisted record.
// A snapshot is never persisted while a call is in flight, so a
// rehydrated session always starts idle or in its last error state.
func sessionFromSnapshot(snap *Snapshot) *Session {
	s := &Session{
		id:        snap.ID,
		createdAt: snap.CreatedAt,
		draft:     snap.Draft,
		mode:      snap.BookingMode,
		steps:     ResolveSteps(snap.BookingMode),
		stepIndex: snap.StepIndex,
		status:    snap.Status,
		lastErr:   snap.LastError,
		clinics:   snap.Clinics,
		doctors:   snap.Doctors,
		dates:     availability.NewDates(snap.AvailableDates),
		times:     availability.NewTimes(snap.AvailableTimes),
		result:    snap.Result,
	}
	if s.status == StatusLoading {
		s.status = StatusIdle
	}
	if s.stepIndex >= len(s.steps) {
		s.stepIndex = len(s.steps) - 1
	}
	return s
}

func (s *Session) currentStep() StepKind {
	if s.stepIndex < 0 || s.stepIndex >= len(s.steps) {
		return StepSelectClinic
	}
	return s.steps[s.stepIndex]
}

// beginLocked validates the preconditions shared by every transition:
// the session is live, no call is in flight, and the operation belongs
// to the current step.
func (s *Session) beginLocked(op string, want StepKind) *Error {
	if s.closed {
		return &Error{Kind: KindValidation, Op: op, Msg: "session closed", Err: ErrSessionClosed}
	}
	if s.status == StatusSubmitted {
		return &Error{Kind: KindValidation, Op: op, Msg: "session already submitted", Err: ErrWrongStep}
	}
	if s.status == StatusLoading {
		return &Error{Kind: KindValidation, Op: op, Msg: "operation in flight", Err: ErrOperationInFlight}
	}
	if current := s.currentStep(); current != want {
		return wrongStepErr(op, current)
	}
	return nil
}

// recordFailureLocked annotates the session with a failed operation.
// The step index is untouched so the failed step can be retried.
func (s *Session) recordFailureLocked(werr *Error) {
	s.status = StatusError
	s.lastErr = &LastError{Kind: werr.Kind, Message: werr.Error()}
}

func (s *Session) clearErrorLocked() {
	s.status = StatusIdle
	s.lastErr = nil
}

// advanceToLocked moves the wizard to the given step. The step list
// must already reflect the current booking mode.
func (s *Session) advanceToLocked(step StepKind) {
	for i, st := range s.steps {
		if st == step {
			s.stepIndex = i
			return
		}
	}
}

// clearFieldLocked empties one draft field plus everything scoped to
// it downstream (a doctor change invalidates date and time, a date
// change invalidates time).
func (s *Session) clearFieldLocked(field draftField) {
	switch field {
	case fieldClinic:
		s.draft.ClinicID = ""
		fallthrough
	case fieldDoctor:
		s.draft.DoctorID = ""
		s.mode = catalog.BookingModeUnknown
		fallthrough
	case fieldDate:
		s.draft.Date = ""
		fallthrough
	case fieldTime:
		s.draft.Time = ""
	}
}

// revalidateLocked re-checks the availability invariants after back
// navigation: a set date must be in the doctor's date set and a set
// time in the cached slot set. Stale values are cleared, cached
// catalog data is kept.
func (s *Session) revalidateLocked() {
	if s.draft.Date != "" && !s.dates.Contains(s.draft.Date) {
		s.draft.Date = ""
		s.draft.Time = ""
	}
	if s.draft.Time != "" && !s.times.Contains(s.draft.Time) {
		s.draft.Time = ""
	}
}

func (s *Session) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		ID:          s.id,
		CreatedAt:   s.createdAt,
		Steps:       append([]StepKind(nil), s.steps...),
		StepIndex:   s.stepIndex,
		CurrentStep: s.currentStep(),
		Status:      s.status,
		Draft:       s.draft,
		BookingMode: s.mode,
		Clinics:     append([]catalog.ClinicRef(nil), s.clinics...),
		Doctors:     append([]catalog.DoctorRef(nil), s.doctors...),
		Result:      s.result,
	}
	if s.lastErr != nil {
		errCopy := *s.lastErr
		snap.LastError = &errCopy
	}
	if s.dates.Len() > 0 {
		snap.AvailableDates = s.dates.Tokens()
	}
	if s.times.Len() > 0 {
		snap.AvailableTimes = s.times.Tokens()
	}
	return snap
}
