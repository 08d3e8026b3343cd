package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/booking-engine/internal/catalog"
)

// fakeGateway is a scriptable catalog.Gateway for state machine tests.
type fakeGateway struct {
	mu sync.Mutex

	clinics []catalog.ClinicRef
	doctors map[string][]catalog.DoctorRef
	dates   map[string][]string
	times   map[string][]string
	result  *catalog.ReservationResult

	failDoctors bool
	failDates   bool
	failTimes   bool
	failSubmit  bool

	submitCalls  atomic.Int64
	datesCalls   atomic.Int64
	timesCalls   atomic.Int64
	submitBlock  chan struct{}
	doctorsBlock chan struct{}
}

var errUpstream = errors.New("upstream unavailable")

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		clinics: []catalog.ClinicRef{{ID: "1", Name: "Downtown Clinic"}},
		doctors: map[string][]catalog.DoctorRef{
			"1": {
				{ID: "7", Name: "Dr. Chen", BookingMode: catalog.BookingModeManual},
				{ID: "9", Name: "Dr. Okoye", BookingMode: catalog.BookingModeAuto},
			},
		},
		dates: map[string][]string{
			"7": {"2025-08-12", "2025-08-13"},
			"9": {"2025-08-12", "2025-08-13"},
		},
		times: map[string][]string{
			"7|2025-08-12": {"09:00", "09:30"},
		},
		result: &catalog.ReservationResult{ID: "res-1", Status: "booked"},
	}
}

func (g *fakeGateway) ListClinics(ctx context.Context) ([]catalog.ClinicRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clinics, nil
}

func (g *fakeGateway) ListDoctorsByClinic(ctx context.Context, clinicID string) ([]catalog.DoctorRef, error) {
	if g.doctorsBlock != nil {
		<-g.doctorsBlock
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failDoctors {
		return nil, errUpstream
	}
	return g.doctors[clinicID], nil
}

func (g *fakeGateway) ListAvailableDates(ctx context.Context, doctorID string) ([]string, error) {
	g.datesCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failDates {
		return nil, errUpstream
	}
	return g.dates[doctorID], nil
}

func (g *fakeGateway) ListAvailableTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	g.timesCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failTimes {
		return nil, errUpstream
	}
	return g.times[doctorID+"|"+date], nil
}

func (g *fakeGateway) SubmitReservation(ctx context.Context, req catalog.ReservationRequest) (*catalog.ReservationResult, error) {
	g.submitCalls.Add(1)
	if g.submitBlock != nil {
		<-g.submitBlock
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSubmit {
		return nil, errUpstream
	}
	return g.result, nil
}

// recordingAudit captures transition events in memory.
type recordingAudit struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (a *recordingAudit) RecordTransition(_ context.Context, event TransitionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func newTestService(g *fakeGateway) *Service {
	return NewService(g, NewMemoryStore(), &recordingAudit{}, nil, nil)
}

func mustCreate(t *testing.T, svc *Service) *Snapshot {
	t.Helper()
	snap, err := svc.Create(context.Background(), "patient-1", "referral")
	require.NoError(t, err)
	return snap
}

// walkToReviewManual drives a fresh session through clinic 1 /
// doctor 7 (manual) / 2025-08-12 / 09:00 to the review step.
func walkToReviewManual(t *testing.T, svc *Service) *Snapshot {
	t.Helper()
	ctx := context.Background()
	snap := mustCreate(t, svc)

	snap, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)
	snap, err = svc.ChooseDoctor(ctx, snap.ID, "7")
	require.NoError(t, err)
	snap, err = svc.ChooseDate(ctx, snap.ID, "2025-08-12")
	require.NoError(t, err)
	snap, err = svc.ChooseTime(ctx, snap.ID, "09:00")
	require.NoError(t, err)
	return snap
}

func TestCreateStartsAtClinicStep(t *testing.T) {
	svc := newTestService(newFakeGateway())
	snap := mustCreate(t, svc)

	assert.Equal(t, StepSelectClinic, snap.CurrentStep)
	assert.Equal(t, 0, snap.StepIndex)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Len(t, snap.Clinics, 1)
	assert.Equal(t, "patient-1", snap.Draft.PatientRef)
}

func TestEndToEndManualDoctor(t *testing.T) {
	g := newFakeGateway()
	svc := newTestService(g)
	ctx := context.Background()

	snap := mustCreate(t, svc)

	snap, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, StepSelectDoctor, snap.CurrentStep)
	assert.Len(t, snap.Doctors, 2)

	snap, err = svc.ChooseDoctor(ctx, snap.ID, "7")
	require.NoError(t, err)
	assert.Equal(t, StepSelectDate, snap.CurrentStep)
	assert.Equal(t, catalog.BookingModeManual, snap.BookingMode)
	assert.Len(t, snap.Steps, 5)
	assert.Contains(t, snap.Steps, StepSelectTime)
	assert.Equal(t, []string{"2025-08-12", "2025-08-13"}, snap.AvailableDates)

	snap, err = svc.ChooseDate(ctx, snap.ID, "2025-08-12")
	require.NoError(t, err)
	assert.Equal(t, StepSelectTime, snap.CurrentStep)
	assert.Equal(t, []string{"09:00", "09:30"}, snap.AvailableTimes)

	snap, err = svc.ChooseTime(ctx, snap.ID, "09:00")
	require.NoError(t, err)
	assert.Equal(t, StepReview, snap.CurrentStep)
	assert.Equal(t, "09:00", snap.Draft.Time)

	snap, err = svc.Submit(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "res-1", snap.Result.ID)
	assert.EqualValues(t, 1, g.submitCalls.Load())
}

func TestEndToEndAutoDoctorSkipsTimeStep(t *testing.T) {
	g := newFakeGateway()
	svc := newTestService(g)
	ctx := context.Background()

	snap := mustCreate(t, svc)
	snap, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)

	snap, err = svc.ChooseDoctor(ctx, snap.ID, "9")
	require.NoError(t, err)
	assert.Equal(t, catalog.BookingModeAuto, snap.BookingMode)
	assert.Len(t, snap.Steps, 4)
	assert.NotContains(t, snap.Steps, StepSelectTime)

	snap, err = svc.ChooseDate(ctx, snap.ID, "2025-08-12")
	require.NoError(t, err)
	assert.Equal(t, StepReview, snap.CurrentStep)
	assert.Empty(t, snap.Draft.Time)
	assert.EqualValues(t, 0, g.timesCalls.Load(), "auto mode must not fetch time slots")

	snap, err = svc.Submit(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, snap.Status)
	assert.Empty(t, snap.Draft.Time)
}

func TestChooseDateOutsideAvailabilityIsRejectedLocally(t *testing.T) {
	g := newFakeGateway()
	svc := newTestService(g)
	ctx := context.Background()

	snap := mustCreate(t, svc)
	snap, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)
	snap, err = svc.ChooseDoctor(ctx, snap.ID, "7")
	require.NoError(t, err)
	baseline := g.timesCalls.Load()

	snap, err = svc.ChooseDate(ctx, snap.ID, "2025-08-20")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	require.NotNil(t, snap)
	assert.Empty(t, snap.Draft.Date, "rejected date must not be set")
	assert.Equal(t, StepSelectDate, snap.CurrentStep, "step index must not advance")
	require.NotNil(t, snap.LastError)
	assert.Equal(t, KindValidation, snap.LastError.Kind)
	assert.Equal(t, baseline, g.timesCalls.Load(), "validation failure must not reach the network")

	// The failed step is retryable with a valid date.
	snap, err = svc.ChooseDate(ctx, snap.ID, "2025-08-13")
	require.NoError(t, err)
	assert.Equal(t, "2025-08-13", snap.Draft.Date)
	assert.Nil(t, snap.LastError)
}

func TestChooseDoctorResetsDateAndTime(t *testing.T) {
	svc := newTestService(newFakeGateway())
	ctx := context.Background()

	snap := walkToReviewManual(t, svc)
	require.Equal(t, "2025-08-12", snap.Draft.Date)
	require.Equal(t, "09:00", snap.Draft.Time)

	// Back to the doctor step without clearing earlier fields.
	var err error
	for _, want := range []StepKind{StepSelectTime, StepSelectDate, StepSelectDoctor} {
		snap, err = svc.GoBack(ctx, snap.ID)
		require.NoError(t, err)
		require.Equal(t, want, snap.CurrentStep)
	}

	snap, err = svc.ChooseDoctor(ctx, snap.ID, "9")
	require.NoError(t, err)
	assert.Equal(t, "9", snap.Draft.DoctorID)
	assert.Empty(t, snap.Draft.Date, "doctor change must reset date")
	assert.Empty(t, snap.Draft.Time, "doctor change must reset time")
}

func TestGoBackFromTimeStepClearsOnlyTime(t *testing.T) {
	svc := newTestService(newFakeGateway())
	ctx := context.Background()

	snap := walkToReviewManual(t, svc)

	// Review -> SelectTime: review owns no field, time survives.
	snap, err := svc.GoBack(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StepSelectTime, snap.CurrentStep)
	assert.Equal(t, "09:00", snap.Draft.Time)

	// SelectTime -> SelectDate: the time field is owned by the step
	// being left and is cleared; everything earlier survives.
	snap, err = svc.GoBack(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StepSelectDate, snap.CurrentStep)
	assert.Empty(t, snap.Draft.Time)
	assert.Equal(t, "2025-08-12", snap.Draft.Date)
	assert.Equal(t, "7", snap.Draft.DoctorID)
	assert.Equal(t, "1", snap.Draft.ClinicID)
	assert.NotEmpty(t, snap.AvailableDates, "cached catalog data must survive back navigation")
}

func TestGoBackAtFirstStepRejected(t *testing.T) {
	svc := newTestService(newFakeGateway())
	snap := mustCreate(t, svc)

	_, err := svc.GoBack(context.Background(), snap.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestDuplicateSubmitIssuesOneGatewayCall(t *testing.T) {
	g := newFakeGateway()
	g.submitBlock = make(chan struct{})
	svc := newTestService(g)
	ctx := context.Background()

	snap := walkToReviewManual(t, svc)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(ctx, snap.ID)
		done <- err
	}()

	// Wait until the first submit has claimed the guard and is parked
	// inside the gateway call.
	require.Eventually(t, func() bool {
		return g.submitCalls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	dup, err := svc.Submit(ctx, snap.ID)
	require.NoError(t, err, "duplicate submit is a no-op, not an error")
	assert.Equal(t, StatusLoading, dup.Status)

	close(g.submitBlock)
	require.NoError(t, <-done)

	assert.EqualValues(t, 1, g.submitCalls.Load(), "exactly one reservation call")

	final, err := svc.Snapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, final.Status)
}

func TestSubmitFailureKeepsDraftForRetry(t *testing.T) {
	g := newFakeGateway()
	g.failSubmit = true
	svc := newTestService(g)
	ctx := context.Background()

	snap := walkToReviewManual(t, svc)

	snap, err := svc.Submit(ctx, snap.ID)
	require.Error(t, err)
	assert.Equal(t, KindSubmission, KindOf(err))
	assert.Equal(t, StepReview, snap.CurrentStep, "submission failure must not leave review")
	assert.Equal(t, "2025-08-12", snap.Draft.Date)
	assert.Equal(t, "09:00", snap.Draft.Time)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, KindSubmission, snap.LastError.Kind)

	// Retry succeeds once the upstream recovers.
	g.mu.Lock()
	g.failSubmit = false
	g.mu.Unlock()

	snap, err = svc.Submit(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, snap.Status)
	assert.EqualValues(t, 2, g.submitCalls.Load())
}

func TestFetchFailureLeavesSessionInPlace(t *testing.T) {
	g := newFakeGateway()
	g.failDates = true
	svc := newTestService(g)
	ctx := context.Background()

	snap := mustCreate(t, svc)
	snap, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)

	snap, err = svc.ChooseDoctor(ctx, snap.ID, "7")
	require.Error(t, err)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.Equal(t, StepSelectDoctor, snap.CurrentStep, "no partial advance on fetch failure")
	assert.Empty(t, snap.Draft.DoctorID)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, KindFetch, snap.LastError.Kind)

	g.mu.Lock()
	g.failDates = false
	g.mu.Unlock()

	snap, err = svc.ChooseDoctor(ctx, snap.ID, "7")
	require.NoError(t, err)
	assert.Equal(t, StepSelectDate, snap.CurrentStep)
}

func TestChooseTimeOutsideSlotsRejected(t *testing.T) {
	svc := newTestService(newFakeGateway())
	ctx := context.Background()

	snap := mustCreate(t, svc)
	snap, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)
	snap, err = svc.ChooseDoctor(ctx, snap.ID, "7")
	require.NoError(t, err)
	snap, err = svc.ChooseDate(ctx, snap.ID, "2025-08-12")
	require.NoError(t, err)

	snap, err = svc.ChooseTime(ctx, snap.ID, "14:00")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Empty(t, snap.Draft.Time)
	assert.Equal(t, StepSelectTime, snap.CurrentStep)
}

func TestOperationOutsideItsStepRejected(t *testing.T) {
	svc := newTestService(newFakeGateway())
	ctx := context.Background()

	snap := mustCreate(t, svc)

	_, err := svc.ChooseDate(ctx, snap.ID, "2025-08-12")
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = svc.ChooseTime(ctx, snap.ID, "09:00")
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = svc.Submit(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestUnknownClinicRejectedBeforeFetch(t *testing.T) {
	svc := newTestService(newFakeGateway())
	snap := mustCreate(t, svc)

	got, err := svc.ChooseClinic(context.Background(), snap.ID, "999")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, StepSelectClinic, got.CurrentStep)
}

func TestResultAfterCloseIsDiscarded(t *testing.T) {
	g := newFakeGateway()
	g.doctorsBlock = make(chan struct{})
	svc := newTestService(g)
	ctx := context.Background()

	snap := mustCreate(t, svc)

	done := make(chan error, 1)
	go func() {
		_, err := svc.ChooseClinic(ctx, snap.ID, "1")
		done <- err
	}()

	require.Eventually(t, func() bool {
		s, err := svc.Snapshot(ctx, snap.ID)
		return err == nil && s.Status == StatusLoading
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Close(ctx, snap.ID))
	close(g.doctorsBlock)

	err := <-done
	assert.ErrorIs(t, err, ErrSessionClosed, "late result must not mutate a disposed session")

	_, err = svc.Snapshot(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRehydratesFromStore(t *testing.T) {
	g := newFakeGateway()
	store := NewMemoryStore()
	svc := NewService(g, store, nil, nil, nil)
	ctx := context.Background()

	snap := mustCreate(t, svc)
	snap, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)
	snap, err = svc.ChooseDoctor(ctx, snap.ID, "7")
	require.NoError(t, err)

	// A new service instance sharing the store simulates a restart.
	restarted := NewService(g, store, nil, nil, nil)
	revived, err := restarted.Snapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StepSelectDate, revived.CurrentStep)
	assert.Equal(t, catalog.BookingModeManual, revived.BookingMode)
	assert.Equal(t, []string{"2025-08-12", "2025-08-13"}, revived.AvailableDates)

	// The revived session keeps enforcing availability.
	_, err = restarted.ChooseDate(ctx, snap.ID, "2025-08-20")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	revived, err = restarted.ChooseDate(ctx, snap.ID, "2025-08-12")
	require.NoError(t, err)
	assert.Equal(t, StepSelectTime, revived.CurrentStep)
}

func TestSubmittedSessionIsTerminal(t *testing.T) {
	svc := newTestService(newFakeGateway())
	ctx := context.Background()

	snap := walkToReviewManual(t, svc)
	snap, err := svc.Submit(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, snap.Status)

	_, err = svc.GoBack(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrWrongStep)
	_, err = svc.ChooseClinic(ctx, snap.ID, "1")
	assert.ErrorIs(t, err, ErrWrongStep)

	// Submit after success is a no-op returning the terminal snapshot.
	again, err := svc.Submit(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, again.Status)
}

func TestAuditTrailRecordsTransitions(t *testing.T) {
	g := newFakeGateway()
	audit := &recordingAudit{}
	svc := NewService(g, NewMemoryStore(), audit, nil, nil)
	ctx := context.Background()

	snap := mustCreate(t, svc)
	_, err := svc.ChooseClinic(ctx, snap.ID, "1")
	require.NoError(t, err)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	require.Len(t, audit.events, 2)
	assert.Equal(t, "create", audit.events[0].Operation)
	assert.Equal(t, "choose_clinic", audit.events[1].Operation)
	assert.Equal(t, "ok", audit.events[1].Outcome)
}
