package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicdesk/booking-engine/internal/availability"
	"github.com/clinicdesk/booking-engine/internal/catalog"
	"github.com/clinicdesk/booking-engine/internal/observability/metrics"
	"github.com/clinicdesk/booking-engine/pkg/logging"
)

// TransitionEvent is the audit record emitted for each transition and
// submission attempt.
type TransitionEvent struct {
	SessionID string
	Operation string
	FromStep  StepKind
	ToStep    StepKind
	Outcome   string
	ErrorKind string
	Detail    string
	At        time.Time
}

// AuditTrail appends transition events to durable storage. Recording
// is best-effort: audit failures are logged, never surfaced to the
// wizard.
type AuditTrail interface {
	RecordTransition(ctx context.Context, event TransitionEvent) error
}

// Service drives booking sessions: it validates transitions, performs
// the single outstanding catalog call per session, and keeps live
// sessions in memory with snapshots persisted through the store.
type Service struct {
	gateway catalog.Gateway
	store   SessionStore
	audit   AuditTrail
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	tracer  trace.Tracer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService constructs a session service. Store is required; audit
// and metrics may be nil.
func NewService(gateway catalog.Gateway, store SessionStore, audit AuditTrail, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if gateway == nil {
		panic("workflow: gateway required")
	}
	if store == nil {
		panic("workflow: session store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		gateway:  gateway,
		store:    store,
		audit:    audit,
		metrics:  m,
		logger:   logger.Component("workflow"),
		tracer:   otel.Tracer("clinicdesk.internal.workflow"),
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session for the given patient. The clinic list is
// fetched once here; the session starts at the clinic step.
func (svc *Service) Create(ctx context.Context, patientRef, appointmentKind string) (*Snapshot, error) {
	ctx, span := svc.tracer.Start(ctx, "workflow.create_session")
	defer span.End()

	if strings.TrimSpace(patientRef) == "" {
		return nil, validationErr("create", "patient reference is required")
	}
	if strings.TrimSpace(appointmentKind) == "" {
		return nil, validationErr("create", "appointment kind is required")
	}

	start := time.Now()
	clinics, err := svc.gateway.ListClinics(ctx)
	svc.metrics.ObserveGatewayLatency("clinics", time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, fetchErr("create", err)
	}

	s := newSession(uuid.NewString(), patientRef, appointmentKind, clinics)
	span.SetAttributes(attribute.String("booking.session_id", s.id))

	svc.mu.Lock()
	svc.sessions[s.id] = s
	svc.mu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	svc.persist(ctx, snap)
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: s.id, Operation: "create", ToStep: StepSelectClinic, Outcome: "ok", At: time.Now().UTC(),
	})
	svc.logger.Info("session created", "session_id", s.id, "appointment_kind", appointmentKind)
	return snap, nil
}

// Snapshot returns the current state of a session.
func (svc *Service) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	return s.snapshotLocked(), nil
}

// ChooseClinic completes the clinic step: it fetches the clinic's
// doctors and advances to doctor selection. Any stale doctor, date or
// time selection from a prior pass is cleared.
func (svc *Service) ChooseClinic(ctx context.Context, sessionID, clinicID string) (*Snapshot, error) {
	ctx, span := svc.tracer.Start(ctx, "workflow.choose_clinic")
	defer span.End()
	span.SetAttributes(attribute.String("booking.session_id", sessionID))

	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if werr := s.beginLocked("choose_clinic", StepSelectClinic); werr != nil {
		s.mu.Unlock()
		svc.metrics.ObserveTransition("choose_clinic", "rejected")
		return nil, werr
	}
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" || !clinicKnown(s.clinics, clinicID) {
		werr := validationErr("choose_clinic", "clinic is not in the fetched catalog")
		s.recordFailureLocked(werr)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		svc.metrics.ObserveTransition("choose_clinic", "validation")
		return snap, werr
	}
	s.status = StatusLoading
	s.mu.Unlock()

	start := time.Now()
	doctors, err := svc.gateway.ListDoctorsByClinic(ctx, clinicID)
	svc.metrics.ObserveGatewayLatency("doctors", time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Wizard was torn down while the call was in flight; the
		// result must not mutate a disposed session.
		return nil, ErrSessionClosed
	}
	if err != nil {
		span.RecordError(err)
		werr := fetchErr("choose_clinic", err)
		s.recordFailureLocked(werr)
		svc.metrics.ObserveTransition("choose_clinic", "fetch_error")
		svc.recordEvent(ctx, svc.failureEvent(s, "choose_clinic", werr))
		return s.snapshotLocked(), werr
	}

	s.draft.ClinicID = clinicID
	s.clearFieldLocked(fieldDoctor)
	s.doctors = doctors
	s.dates = availability.Index{}
	s.times = availability.Index{}
	s.steps = ResolveSteps(catalog.BookingModeUnknown)
	s.advanceToLocked(StepSelectDoctor)
	s.clearErrorLocked()

	snap := s.snapshotLocked()
	svc.persist(ctx, snap)
	svc.metrics.ObserveTransition("choose_clinic", "ok")
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: s.id, Operation: "choose_clinic", FromStep: StepSelectClinic, ToStep: StepSelectDoctor,
		Outcome: "ok", Detail: clinicID, At: time.Now().UTC(),
	})
	return snap, nil
}

// ChooseDoctor completes the doctor step. The doctor's booking mode
// comes from the fetched doctor list and the availability dates from a
// gateway call; both must be known before the wizard advances, because
// the mode decides the remaining step topology.
func (svc *Service) ChooseDoctor(ctx context.Context, sessionID, doctorID string) (*Snapshot, error) {
	ctx, span := svc.tracer.Start(ctx, "workflow.choose_doctor")
	defer span.End()
	span.SetAttributes(attribute.String("booking.session_id", sessionID))

	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if werr := s.beginLocked("choose_doctor", StepSelectDoctor); werr != nil {
		s.mu.Unlock()
		svc.metrics.ObserveTransition("choose_doctor", "rejected")
		return nil, werr
	}
	doctorID = strings.TrimSpace(doctorID)
	doctor, ok := findDoctor(s.doctors, doctorID)
	if !ok {
		werr := validationErr("choose_doctor", "doctor is not in the fetched catalog")
		s.recordFailureLocked(werr)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		svc.metrics.ObserveTransition("choose_doctor", "validation")
		return snap, werr
	}
	s.status = StatusLoading
	s.mu.Unlock()

	start := time.Now()
	dates, err := svc.gateway.ListAvailableDates(ctx, doctorID)
	svc.metrics.ObserveGatewayLatency("available_dates", time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err == nil && !doctor.BookingMode.Known() {
		err = errMissingBookingMode
	}
	if err != nil {
		span.RecordError(err)
		werr := fetchErr("choose_doctor", err)
		s.recordFailureLocked(werr)
		svc.metrics.ObserveTransition("choose_doctor", "fetch_error")
		svc.recordEvent(ctx, svc.failureEvent(s, "choose_doctor", werr))
		return s.snapshotLocked(), werr
	}

	// A doctor change invalidates every downstream selection.
	s.draft.DoctorID = doctorID
	s.draft.Date = ""
	s.draft.Time = ""
	s.mode = doctor.BookingMode
	s.dates = availability.NewDates(dates)
	s.times = availability.Index{}
	s.steps = ResolveSteps(s.mode)
	s.advanceToLocked(StepSelectDate)
	s.clearErrorLocked()

	snap := s.snapshotLocked()
	svc.persist(ctx, snap)
	svc.metrics.ObserveTransition("choose_doctor", "ok")
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: s.id, Operation: "choose_doctor", FromStep: StepSelectDoctor, ToStep: StepSelectDate,
		Outcome: "ok", Detail: doctorID, At: time.Now().UTC(),
	})
	return snap, nil
}

// ChooseDate completes the date step. The date must be a member of the
// availability set fetched for the current doctor; an unlisted date is
// rejected before any network call. Manual-mode doctors trigger a slot
// fetch and advance to time selection; auto-mode doctors go straight
// to review.
func (svc *Service) ChooseDate(ctx context.Context, sessionID, date string) (*Snapshot, error) {
	ctx, span := svc.tracer.Start(ctx, "workflow.choose_date")
	defer span.End()
	span.SetAttributes(attribute.String("booking.session_id", sessionID))

	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if werr := s.beginLocked("choose_date", StepSelectDate); werr != nil {
		s.mu.Unlock()
		svc.metrics.ObserveTransition("choose_date", "rejected")
		return nil, werr
	}
	date = strings.TrimSpace(date)
	if !s.dates.Contains(date) {
		werr := validationErr("choose_date", "date is not in the doctor's availability set")
		s.recordFailureLocked(werr)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		svc.metrics.ObserveTransition("choose_date", "validation")
		return snap, werr
	}

	if s.mode == catalog.BookingModeAuto {
		// No slot step for auto doctors; the transition is local.
		s.draft.Date = date
		s.draft.Time = ""
		s.advanceToLocked(StepReview)
		s.clearErrorLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		svc.persist(ctx, snap)
		svc.metrics.ObserveTransition("choose_date", "ok")
		svc.recordEvent(ctx, TransitionEvent{
			SessionID: s.id, Operation: "choose_date", FromStep: StepSelectDate, ToStep: StepReview,
			Outcome: "ok", Detail: date, At: time.Now().UTC(),
		})
		return snap, nil
	}

	doctorID := s.draft.DoctorID
	s.status = StatusLoading
	s.mu.Unlock()

	start := time.Now()
	times, err := svc.gateway.ListAvailableTimes(ctx, doctorID, date)
	svc.metrics.ObserveGatewayLatency("available_times", time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err != nil {
		span.RecordError(err)
		werr := fetchErr("choose_date", err)
		s.recordFailureLocked(werr)
		svc.metrics.ObserveTransition("choose_date", "fetch_error")
		svc.recordEvent(ctx, svc.failureEvent(s, "choose_date", werr))
		return s.snapshotLocked(), werr
	}

	s.draft.Date = date
	s.draft.Time = ""
	s.times = availability.NewTimes(times)
	s.advanceToLocked(StepSelectTime)
	s.clearErrorLocked()

	snap := s.snapshotLocked()
	svc.persist(ctx, snap)
	svc.metrics.ObserveTransition("choose_date", "ok")
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: s.id, Operation: "choose_date", FromStep: StepSelectDate, ToStep: StepSelectTime,
		Outcome: "ok", Detail: date, At: time.Now().UTC(),
	})
	return snap, nil
}

// ChooseTime completes the time step for manual-mode doctors. The slot
// must be among the fetched slots for the chosen date. No gateway call
// is involved.
func (svc *Service) ChooseTime(ctx context.Context, sessionID, slot string) (*Snapshot, error) {
	ctx, span := svc.tracer.Start(ctx, "workflow.choose_time")
	defer span.End()
	span.SetAttributes(attribute.String("booking.session_id", sessionID))

	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if werr := s.beginLocked("choose_time", StepSelectTime); werr != nil {
		svc.metrics.ObserveTransition("choose_time", "rejected")
		return nil, werr
	}
	slot = strings.TrimSpace(slot)
	if !s.times.Contains(slot) {
		werr := validationErr("choose_time", "time is not among the fetched slots")
		s.recordFailureLocked(werr)
		svc.metrics.ObserveTransition("choose_time", "validation")
		return s.snapshotLocked(), werr
	}

	s.draft.Time = slot
	s.advanceToLocked(StepReview)
	s.clearErrorLocked()

	snap := s.snapshotLocked()
	svc.persist(ctx, snap)
	svc.metrics.ObserveTransition("choose_time", "ok")
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: s.id, Operation: "choose_time", FromStep: StepSelectTime, ToStep: StepReview,
		Outcome: "ok", Detail: slot, At: time.Now().UTC(),
	})
	return snap, nil
}

// GoBack moves one step backward. The field owned by the step being
// left is cleared; selections belonging to earlier steps and all
// cached catalog data are kept, with availability invariants
// re-validated against the caches.
func (svc *Service) GoBack(ctx context.Context, sessionID string) (*Snapshot, error) {
	ctx, span := svc.tracer.Start(ctx, "workflow.go_back")
	defer span.End()
	span.SetAttributes(attribute.String("booking.session_id", sessionID))

	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.status == StatusSubmitted {
		return nil, &Error{Kind: KindValidation, Op: "go_back", Msg: "session already submitted", Err: ErrWrongStep}
	}
	if s.status == StatusLoading {
		return nil, &Error{Kind: KindValidation, Op: "go_back", Msg: "operation in flight", Err: ErrOperationInFlight}
	}
	if s.stepIndex == 0 {
		return nil, &Error{Kind: KindValidation, Op: "go_back", Msg: "already at first step", Err: ErrWrongStep}
	}

	leaving := s.currentStep()
	s.clearFieldLocked(ownedField(leaving))
	if leaving == StepSelectDoctor {
		// Without a doctor the topology is provisional again.
		s.steps = ResolveSteps(catalog.BookingModeUnknown)
	}
	s.stepIndex--
	s.revalidateLocked()
	s.clearErrorLocked()

	snap := s.snapshotLocked()
	svc.persist(ctx, snap)
	svc.metrics.ObserveTransition("go_back", "ok")
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: s.id, Operation: "go_back", FromStep: leaving, ToStep: s.currentStep(),
		Outcome: "ok", At: time.Now().UTC(),
	})
	return snap, nil
}

// Submit performs the final irrevocable submission. A submit observed
// while one is already in flight is a no-op returning the current
// snapshot; exactly one gateway call is issued per resolved attempt.
func (svc *Service) Submit(ctx context.Context, sessionID string) (*Snapshot, error) {
	ctx, span := svc.tracer.Start(ctx, "workflow.submit")
	defer span.End()
	span.SetAttributes(attribute.String("booking.session_id", sessionID))

	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.status == StatusSubmitted {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	// Submission guard: the loading flag is checked and set under the
	// same lock hold, so a duplicate submit can never issue a second
	// gateway call.
	if s.status == StatusLoading {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		svc.metrics.ObserveDuplicateSubmit()
		return snap, nil
	}
	if current := s.currentStep(); current != StepReview {
		s.mu.Unlock()
		svc.metrics.ObserveTransition("submit", "rejected")
		return nil, wrongStepErr("submit", current)
	}
	if werr := s.validateForSubmitLocked(); werr != nil {
		s.recordFailureLocked(werr)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		svc.metrics.ObserveTransition("submit", "validation")
		return snap, werr
	}
	req := catalog.ReservationRequest{
		PatientRef:      s.draft.PatientRef,
		DoctorID:        s.draft.DoctorID,
		Date:            s.draft.Date,
		AppointmentKind: s.draft.AppointmentKind,
	}
	if s.mode == catalog.BookingModeManual {
		req.Time = s.draft.Time
	}
	s.status = StatusLoading
	s.mu.Unlock()

	start := time.Now()
	result, err := svc.gateway.SubmitReservation(ctx, req)
	svc.metrics.ObserveGatewayLatency("reservations", time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err != nil {
		span.RecordError(err)
		// The draft stays fully intact so resubmission needs no
		// re-selection.
		werr := submissionErr("submit", err)
		s.recordFailureLocked(werr)
		svc.metrics.ObserveSubmission("error")
		svc.recordEvent(ctx, svc.failureEvent(s, "submit", werr))
		return s.snapshotLocked(), werr
	}

	s.status = StatusSubmitted
	s.lastErr = nil
	s.result = result

	snap := s.snapshotLocked()
	if err := svc.store.Delete(ctx, s.id); err != nil {
		svc.logger.Warn("failed to delete submitted session snapshot", "session_id", s.id, "error", err)
	}
	svc.metrics.ObserveSubmission("ok")
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: s.id, Operation: "submit", FromStep: StepReview, ToStep: StepReview,
		Outcome: "ok", Detail: result.ID, At: time.Now().UTC(),
	})
	svc.logger.Info("reservation submitted", "session_id", s.id, "reservation_id", result.ID)
	return snap, nil
}

// Close tears the session down. A gateway result arriving after Close
// is discarded; the disposed session is never mutated.
func (svc *Service) Close(ctx context.Context, sessionID string) error {
	s, err := svc.get(ctx, sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	svc.mu.Lock()
	delete(svc.sessions, sessionID)
	svc.mu.Unlock()

	if err := svc.store.Delete(ctx, sessionID); err != nil {
		svc.logger.Warn("failed to delete session snapshot", "session_id", sessionID, "error", err)
	}
	svc.recordEvent(ctx, TransitionEvent{
		SessionID: sessionID, Operation: "close", Outcome: "ok", At: time.Now().UTC(),
	})
	return nil
}

// get returns the live session, rehydrating from the store when the
// session is not resident (e.g. after a restart).
func (svc *Service) get(ctx context.Context, sessionID string) (*Session, error) {
	svc.mu.RLock()
	s, ok := svc.sessions[sessionID]
	svc.mu.RUnlock()
	if ok {
		return s, nil
	}

	snap, err := svc.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if existing, ok := svc.sessions[sessionID]; ok {
		return existing, nil
	}
	s = sessionFromSnapshot(snap)
	svc.sessions[sessionID] = s
	return s, nil
}

func (s *Session) validateForSubmitLocked() *Error {
	if s.draft.Date == "" {
		return validationErr("submit", "date has not been selected")
	}
	if s.mode == catalog.BookingModeManual && s.draft.Time == "" {
		return validationErr("submit", "time has not been selected")
	}
	return nil
}

func (svc *Service) persist(ctx context.Context, snap *Snapshot) {
	if err := svc.store.Save(ctx, snap); err != nil {
		svc.logger.Warn("failed to persist session snapshot", "session_id", snap.ID, "error", err)
	}
}

func (svc *Service) recordEvent(ctx context.Context, event TransitionEvent) {
	if svc.audit == nil {
		return
	}
	if err := svc.audit.RecordTransition(ctx, event); err != nil {
		svc.logger.Warn("failed to record audit event", "session_id", event.SessionID, "operation", event.Operation, "error", err)
	}
}

func (svc *Service) failureEvent(s *Session, op string, werr *Error) TransitionEvent {
	return TransitionEvent{
		SessionID: s.id,
		Operation: op,
		FromStep:  s.currentStep(),
		ToStep:    s.currentStep(),
		Outcome:   "error",
		ErrorKind: string(werr.Kind),
		Detail:    werr.Error(),
		At:        time.Now().UTC(),
	}
}

func clinicKnown(clinics []catalog.ClinicRef, id string) bool {
	for _, c := range clinics {
		if c.ID == id {
			return true
		}
	}
	return false
}

func findDoctor(doctors []catalog.DoctorRef, id string) (catalog.DoctorRef, bool) {
	for _, d := range doctors {
		if d.ID == id {
			return d, true
		}
	}
	return catalog.DoctorRef{}, false
}
