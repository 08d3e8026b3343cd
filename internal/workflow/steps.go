// Package workflow implements the constrained multi-step booking
// wizard: the step topology resolved from a doctor's booking mode, the
// per-session state machine with its draft and guards, and the session
// service that drives catalog fetches between steps.
package workflow

import "github.com/clinicdesk/booking-engine/internal/catalog"

// StepKind identifies one step of the booking wizard.
type StepKind string

const (
	StepSelectClinic StepKind = "select_clinic"
	StepSelectDoctor StepKind = "select_doctor"
	StepSelectDate   StepKind = "select_date"
	StepSelectTime   StepKind = "select_time"
	StepReview       StepKind = "review"
)

// ResolveSteps computes the ordered step list for the given booking
// mode. While the mode is unknown the topology is provisional and ends
// at the date step; it must be re-resolved once the doctor's mode has
// been fetched. For a fixed mode the result is always identical in
// order and length.
func ResolveSteps(mode catalog.BookingMode) []StepKind {
	steps := []StepKind{StepSelectClinic, StepSelectDoctor, StepSelectDate}
	switch mode {
	case catalog.BookingModeManual:
		steps = append(steps, StepSelectTime, StepReview)
	case catalog.BookingModeAuto:
		steps = append(steps, StepReview)
	}
	return steps
}

// ownedField maps a step to the draft field it owns, used when
// navigating backward out of a step.
func ownedField(step StepKind) draftField {
	switch step {
	case StepSelectClinic:
		return fieldClinic
	case StepSelectDoctor:
		return fieldDoctor
	case StepSelectDate:
		return fieldDate
	case StepSelectTime:
		return fieldTime
	default:
		return fieldNone
	}
}

type draftField int

const (
	fieldNone draftField = iota
	fieldClinic
	fieldDoctor
	fieldDate
	fieldTime
)
