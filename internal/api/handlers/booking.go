// Package handlers exposes the booking wizard over JSON HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicdesk/booking-engine/internal/workflow"
	"github.com/clinicdesk/booking-engine/pkg/logging"
)

// BookingHandler handles HTTP requests for booking sessions.
type BookingHandler struct {
	service *workflow.Service
	logger  *logging.Logger
}

// NewBookingHandler creates a booking handler.
func NewBookingHandler(service *workflow.Service, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{service: service, logger: logger.Component("api")}
}

type createSessionRequest struct {
	PatientRef      string `json:"patient_ref"`
	AppointmentKind string `json:"appointment_kind"`
}

type chooseClinicRequest struct {
	ClinicID string `json:"clinic_id"`
}

type chooseDoctorRequest struct {
	DoctorID string `json:"doctor_id"`
}

type chooseDateRequest struct {
	Date string `json:"date"`
}

type chooseTimeRequest struct {
	Time string `json:"time"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// CreateSession handles POST /v1/sessions.
func (h *BookingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	snap, err := h.service.Create(r.Context(), req.PatientRef, req.AppointmentKind)
	if err != nil {
		h.writeWorkflowError(w, r, "create session", snap, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GetSession handles GET /v1/sessions/{id}.
func (h *BookingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeWorkflowError(w, r, "get session", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ChooseClinic handles POST /v1/sessions/{id}/clinic.
func (h *BookingHandler) ChooseClinic(w http.ResponseWriter, r *http.Request) {
	var req chooseClinicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	snap, err := h.service.ChooseClinic(r.Context(), chi.URLParam(r, "id"), req.ClinicID)
	if err != nil {
		h.writeWorkflowError(w, r, "choose clinic", snap, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ChooseDoctor handles POST /v1/sessions/{id}/doctor.
func (h *BookingHandler) ChooseDoctor(w http.ResponseWriter, r *http.Request) {
	var req chooseDoctorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	snap, err := h.service.ChooseDoctor(r.Context(), chi.URLParam(r, "id"), req.DoctorID)
	if err != nil {
		h.writeWorkflowError(w, r, "choose doctor", snap, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ChooseDate handles POST /v1/sessions/{id}/date.
func (h *BookingHandler) ChooseDate(w http.ResponseWriter, r *http.Request) {
	var req chooseDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	snap, err := h.service.ChooseDate(r.Context(), chi.URLParam(r, "id"), req.Date)
	if err != nil {
		h.writeWorkflowError(w, r, "choose date", snap, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ChooseTime handles POST /v1/sessions/{id}/time.
func (h *BookingHandler) ChooseTime(w http.ResponseWriter, r *http.Request) {
	var req chooseTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	snap, err := h.service.ChooseTime(r.Context(), chi.URLParam(r, "id"), req.Time)
	if err != nil {
		h.writeWorkflowError(w, r, "choose time", snap, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GoBack handles POST /v1/sessions/{id}/back.
func (h *BookingHandler) GoBack(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GoBack(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeWorkflowError(w, r, "go back", snap, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Submit handles POST /v1/sessions/{id}/submit.
func (h *BookingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeWorkflowError(w, r, "submit", snap, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelSession handles DELETE /v1/sessions/{id}.
func (h *BookingHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeWorkflowError(w, r, "cancel session", nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeWorkflowError maps workflow failures onto HTTP statuses. When a
// snapshot accompanies the failure it is embedded so the UI can render
// the recorded error and offer a retry.
func (h *BookingHandler) writeWorkflowError(w http.ResponseWriter, r *http.Request, op string, snap *workflow.Snapshot, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrSessionNotFound), errors.Is(err, workflow.ErrSessionClosed):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrWrongStep), errors.Is(err, workflow.ErrOperationInFlight):
		status = http.StatusConflict
	default:
		switch workflow.KindOf(err) {
		case workflow.KindValidation:
			status = http.StatusUnprocessableEntity
		case workflow.KindFetch, workflow.KindSubmission:
			status = http.StatusBadGateway
		}
	}

	h.logger.Warn("operation failed",
		"operation", op,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)

	if snap != nil {
		writeJSON(w, status, struct {
			*workflow.Snapshot
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}{snap, err.Error(), kindLabel(err)})
		return
	}
	writeError(w, status, err.Error(), kindLabel(err))
}

// kindLabel returns the workflow error kind, or empty for bare
// sentinel errors like a missing session.
func kindLabel(err error) string {
	var werr *workflow.Error
	if errors.As(err, &werr) {
		return string(werr.Kind)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
