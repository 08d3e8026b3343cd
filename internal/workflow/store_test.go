package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/booking-engine/internal/catalog"
)

func testSnapshot(id string) *Snapshot {
	return &Snapshot{
		ID:          id,
		CreatedAt:   time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC),
		Steps:       ResolveSteps(catalog.BookingModeManual),
		StepIndex:   3,
		CurrentStep: StepSelectTime,
		Status:      StatusIdle,
		Draft: Draft{
			PatientRef:      "patient-1",
			AppointmentKind: "referral",
			ClinicID:        "1",
			DoctorID:        "7",
			Date:            "2025-08-12",
		},
		BookingMode:    catalog.BookingModeManual,
		AvailableDates: []string{"2025-08-12", "2025-08-13"},
		AvailableTimes: []string{"09:00", "09:30"},
	}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Hour, nil), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	snap := testSnapshot("sess-1")
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Draft, loaded.Draft)
	assert.Equal(t, snap.Steps, loaded.Steps)
	assert.Equal(t, snap.AvailableTimes, loaded.AvailableTimes)
	assert.Equal(t, catalog.BookingModeManual, loaded.BookingMode)
}

func TestRedisStoreMissingSession(t *testing.T) {
	store, _ := newRedisStore(t)

	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSnapshot("sess-2")))
	require.NoError(t, store.Delete(ctx, "sess-2"))

	_, err := store.Load(ctx, "sess-2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSnapshot("sess-3")))
	mr.FastForward(2 * time.Hour)

	_, err := store.Load(ctx, "sess-3")
	assert.ErrorIs(t, err, ErrSessionNotFound, "abandoned sessions expire with the TTL")
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := testSnapshot("sess-4")
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, "sess-4")
	require.NoError(t, err)
	assert.Equal(t, snap.Draft, loaded.Draft)

	require.NoError(t, store.Delete(ctx, "sess-4"))
	_, err = store.Load(ctx, "sess-4")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionFromSnapshotNormalizesLoading(t *testing.T) {
	snap := testSnapshot("sess-5")
	snap.Status = StatusLoading

	s := sessionFromSnapshot(snap)
	assert.Equal(t, StatusIdle, s.status, "a rehydrated session never starts mid-call")
	assert.Equal(t, StepSelectTime, s.currentStep())
	assert.True(t, s.dates.Contains("2025-08-12"))
	assert.True(t, s.times.Contains("09:30"))
}
