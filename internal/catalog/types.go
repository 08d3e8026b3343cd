package catalog

// BookingMode determines whether a doctor requires an explicit time
// slot ("manual") or assigns one automatically ("auto"). It is unknown
// until the doctor's detail has been fetched.
type BookingMode string

const (
	BookingModeUnknown BookingMode = ""
	BookingModeAuto    BookingMode = "auto"
	BookingModeManual  BookingMode = "manual"
)

// Known reports whether the mode has been resolved.
func (m BookingMode) Known() bool {
	return m == BookingModeAuto || m == BookingModeManual
}

// ClinicRef identifies a clinic in the remote catalog.
type ClinicRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DoctorRef identifies a doctor in the remote catalog, including the
// booking mode that drives the wizard's step topology.
type DoctorRef struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	BookingMode BookingMode `json:"booking_mode"`
}

// ReservationRequest is the payload for the final submission. Time is
// omitted entirely for auto-mode doctors.
type ReservationRequest struct {
	PatientRef      string `json:"patient_ref"`
	DoctorID        string `json:"doctor_id"`
	Date            string `json:"date"`
	Time            string `json:"time,omitempty"`
	AppointmentKind string `json:"appointment_kind"`
}

// ReservationResult is the opaque success token returned by the remote
// service once a reservation has been persisted.
type ReservationResult struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}
