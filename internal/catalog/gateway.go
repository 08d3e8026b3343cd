// Package catalog talks to the remote clinic-management API: clinic and
// doctor lookups, per-doctor availability, and reservation submission.
// The workflow core consumes the Gateway interface and never sees the
// remote wire formats.
package catalog

import "context"

// Gateway is the external collaborator consumed by the booking
// workflow. Implementations own timeout and retry policy; the workflow
// issues at most one call at a time per session.
type Gateway interface {
	// ListClinics returns the clinics a patient can be referred to.
	ListClinics(ctx context.Context) ([]ClinicRef, error)

	// ListDoctorsByClinic returns the doctors attached to a clinic,
	// including each doctor's booking mode.
	ListDoctorsByClinic(ctx context.Context, clinicID string) ([]DoctorRef, error)

	// ListAvailableDates returns the bookable calendar dates for a
	// doctor as ISO YYYY-MM-DD tokens.
	ListAvailableDates(ctx context.Context, doctorID string) ([]string, error)

	// ListAvailableTimes returns the bookable slot tokens for a
	// doctor on a given date. Only meaningful for manual-mode doctors.
	ListAvailableTimes(ctx context.Context, doctorID, date string) ([]string, error)

	// SubmitReservation persists a completed booking and returns the
	// remote service's result token.
	SubmitReservation(ctx context.Context, req ReservationRequest) (*ReservationResult, error)
}
