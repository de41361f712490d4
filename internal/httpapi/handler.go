package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/AjayDigitalDreamworks/medicure/internal/engine"
	"github.com/AjayDigitalDreamworks/medicure/internal/models"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
)

// Service is the engine surface the HTTP layer needs.
type Service interface {
	Book(ctx context.Context, input engine.BookInput) (models.Appointment, error)
	Get(ctx context.Context, id string) (models.Appointment, error)
	List(ctx context.Context, filter store.AppointmentFilter) ([]models.Appointment, error)
	Confirm(ctx context.Context, id, priority string) (models.Appointment, error)
	Reject(ctx context.Context, id string) (models.Appointment, error)
	Complete(ctx context.Context, id string) (models.Appointment, error)
	Delay(ctx context.Context, id string, minutes int) (models.Appointment, error)
	Reschedule(ctx context.Context, id, date, timeOfDay string) (models.Appointment, error)
	Cancel(ctx context.Context, id string) (models.Appointment, error)
	CancelOwn(ctx context.Context, id, requesterID string) (models.Appointment, error)
	AddPrescription(ctx context.Context, id, doctor, text string) (models.Appointment, error)
	Advance(ctx context.Context, doctor string) (models.QueueEntry, bool, error)
	CurrentPatient(ctx context.Context, doctor string) (models.QueueEntry, bool, error)
	ListQueue(ctx context.Context, department string) ([]models.QueueEntry, error)
	DoctorStats(ctx context.Context, doctor string) (models.DoctorStats, error)
	DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/appointments", h.handleAppointments)
	mux.HandleFunc("/api/appointments/", h.handleAppointment)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/actions/advance", h.handleAdvance)
	mux.HandleFunc("/api/queue/current", h.handleCurrentPatient)
	mux.HandleFunc("/api/stats/doctors/", h.handleDoctorStats)
	mux.HandleFunc("/api/stats/departments", h.handleDepartmentStats)
	return mux
}

type createAppointmentRequest struct {
	PatientID    string `json:"patient_id"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	PatientPhone string `json:"patient_phone"`
	Doctor       string `json:"doctor"`
	Department   string `json:"department"`
	Date         string `json:"date"`
	Time         string `json:"time"`
}

type actionRequest struct {
	Priority     string `json:"priority"`
	DelayMinutes int    `json:"delay_minutes"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	RequesterID  string `json:"requester_id"`
}

type prescriptionRequest struct {
	Doctor string `json:"doctor"`
	Text   string `json:"text"`
}

type advanceRequest struct {
	Doctor string `json:"doctor"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAppointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateAppointment(w, r)
	case http.MethodGet:
		h.handleListAppointments(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	appointment, err := h.service.Book(r.Context(), engine.BookInput{
		Patient: models.PatientRef{
			ID:    req.PatientID,
			Name:  req.PatientName,
			Email: strings.TrimSpace(req.PatientEmail),
			Phone: strings.TrimSpace(req.PatientPhone),
		},
		Doctor:     req.Doctor,
		Department: req.Department,
		Date:       strings.TrimSpace(req.Date),
		Time:       strings.TrimSpace(req.Time),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, appointment)
}

func (h *Handler) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	filter := store.AppointmentFilter{
		Doctor: strings.TrimSpace(r.URL.Query().Get("doctor")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Date:   strings.TrimSpace(r.URL.Query().Get("date")),
	}
	appointments, err := h.service.List(r.Context(), filter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (h *Handler) handleAppointment(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/appointments/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	appointmentID := parts[0]
	if !isValidUUID(appointmentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "appointment id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetAppointment(w, r, appointmentID)
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleAction(w, r, appointmentID, parts[2])
	case len(parts) == 2 && parts[1] == "prescription" && r.Method == http.MethodPost:
		h.handlePrescription(w, r, appointmentID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetAppointment(w http.ResponseWriter, r *http.Request, id string) {
	appointment, err := h.service.Get(r.Context(), id)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appointment)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, id, action string) {
	var req actionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	var appointment models.Appointment
	var err error
	switch action {
	case "confirm":
		appointment, err = h.service.Confirm(r.Context(), id, strings.TrimSpace(req.Priority))
	case "reject":
		appointment, err = h.service.Reject(r.Context(), id)
	case "complete":
		appointment, err = h.service.Complete(r.Context(), id)
	case "delay":
		appointment, err = h.service.Delay(r.Context(), id, req.DelayMinutes)
	case "reschedule":
		appointment, err = h.service.Reschedule(r.Context(), id, strings.TrimSpace(req.Date), strings.TrimSpace(req.Time))
	case "cancel":
		requester := strings.TrimSpace(req.RequesterID)
		if requester != "" {
			appointment, err = h.service.CancelOwn(r.Context(), id, requester)
		} else {
			appointment, err = h.service.Cancel(r.Context(), id)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appointment)
}

func (h *Handler) handlePrescription(w http.ResponseWriter, r *http.Request, id string) {
	var req prescriptionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	appointment, err := h.service.AddPrescription(r.Context(), id, req.Doctor, req.Text)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appointment)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.service.ListQueue(r.Context(), strings.TrimSpace(r.URL.Query().Get("department")))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req advanceRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry, promoted, err := h.service.Advance(r.Context(), req.Doctor)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !promoted {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCurrentPatient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	doctor := strings.TrimSpace(r.URL.Query().Get("doctor"))
	if doctor == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor is required")
		return
	}

	entry, found, err := h.service.CurrentPatient(r.Context(), doctor)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDoctorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	doctor := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/stats/doctors/"), "/")
	if doctor == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor is required")
		return
	}

	stats, err := h.service.DoctorStats(r.Context(), doctor)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDepartmentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summaries, err := h.service.DepartmentSummaries(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "appointment state does not allow this action"
	case errors.Is(err, store.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized", "not authorized for this appointment"
	default:
		// Unknown errors at this edge come from the store's backing
		// dependencies, not from request handling.
		return http.StatusBadGateway, "dependency_error", "upstream dependency failure"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
