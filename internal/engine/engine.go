package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
	"github.com/AjayDigitalDreamworks/medicure/internal/notify"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
)

// Notifier receives patient-facing events after the owning state change has
// been persisted. Implementations must not block.
type Notifier interface {
	Notify(event notify.Event)
}

// StatsSource serves the derived dashboard reads. It is usually the store
// itself, optionally wrapped with a cache.
type StatsSource interface {
	DoctorStats(ctx context.Context, doctor string, now time.Time) (models.DoctorStats, error)
	DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error)
}

// StatsInvalidator is implemented by cached stats sources; writes drop the
// affected cache entries so the dashboards catch up before the TTL.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, doctor string)
}

// Engine drives the appointment lifecycle and the per-doctor queue. Every
// mutation persists first and notifies second, so a notification failure can
// never roll back or retry a state change.
type Engine struct {
	store    store.Store
	stats    StatsSource
	notifier Notifier
	logger   zerolog.Logger
}

func New(st store.Store, stats StatsSource, notifier Notifier, logger zerolog.Logger) *Engine {
	if stats == nil {
		stats = st
	}
	return &Engine{store: st, stats: stats, notifier: notifier, logger: logger}
}

type BookInput struct {
	Patient    models.PatientRef
	Doctor     string
	Department string
	Date       string
	Time       string
}

func (e *Engine) Book(ctx context.Context, input BookInput) (models.Appointment, error) {
	input.Patient.ID = strings.TrimSpace(input.Patient.ID)
	input.Patient.Name = strings.TrimSpace(input.Patient.Name)
	input.Doctor = strings.TrimSpace(input.Doctor)
	input.Department = strings.TrimSpace(input.Department)

	if input.Patient.ID == "" || input.Patient.Name == "" {
		return models.Appointment{}, fmt.Errorf("%w: patient id and name are required", store.ErrValidation)
	}
	if input.Doctor == "" || input.Department == "" {
		return models.Appointment{}, fmt.Errorf("%w: doctor and department are required", store.ErrValidation)
	}
	if err := validateSlot(input.Date, input.Time); err != nil {
		return models.Appointment{}, err
	}

	appointment, err := e.store.CreateAppointment(ctx, store.CreateAppointmentInput{
		Patient:    input.Patient,
		Doctor:     input.Doctor,
		Department: input.Department,
		Date:       input.Date,
		Time:       input.Time,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	e.invalidateStats(ctx, appointment.Doctor)
	return appointment, nil
}

func (e *Engine) Get(ctx context.Context, id string) (models.Appointment, error) {
	return e.store.GetAppointment(ctx, id)
}

func (e *Engine) List(ctx context.Context, filter store.AppointmentFilter) ([]models.Appointment, error) {
	return e.store.ListAppointments(ctx, filter)
}

// Confirm moves a pending appointment to confirmed and places the patient
// at the back of the doctor's queue. The queue entry is part of the
// operation: if enqueueing fails the error surfaces even though the status
// change already persisted.
func (e *Engine) Confirm(ctx context.Context, id, priority string) (models.Appointment, error) {
	if priority != "" && priority != models.PriorityNormal && priority != models.PriorityUrgent {
		return models.Appointment{}, fmt.Errorf("%w: unknown priority %q", store.ErrValidation, priority)
	}

	appointment, err := e.store.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: id,
		Action:        store.ActionConfirm,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return models.Appointment{}, err
	}

	if _, err := e.store.Enqueue(ctx, store.EnqueueInput{
		AppointmentID: appointment.ID,
		Priority:      priority,
	}); err != nil {
		e.logger.Error().Err(err).Str("appointment_id", appointment.ID).Msg("confirmed appointment could not be enqueued")
		return models.Appointment{}, err
	}

	e.invalidateStats(ctx, appointment.Doctor)
	e.notifier.Notify(eventFor(notify.EventConfirmed, appointment))
	return appointment, nil
}

func (e *Engine) Reject(ctx context.Context, id string) (models.Appointment, error) {
	appointment, err := e.store.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: id,
		Action:        store.ActionReject,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	e.invalidateStats(ctx, appointment.Doctor)
	e.notifier.Notify(eventFor(notify.EventRejected, appointment))
	return appointment, nil
}

func (e *Engine) Complete(ctx context.Context, id string) (models.Appointment, error) {
	appointment, err := e.store.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: id,
		Action:        store.ActionComplete,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	e.invalidateStats(ctx, appointment.Doctor)
	return appointment, nil
}

// Delay marks the appointment delayed and tells the patient roughly how
// late the doctor is running. The scheduled date and time are untouched.
func (e *Engine) Delay(ctx context.Context, id string, minutes int) (models.Appointment, error) {
	if minutes <= 0 {
		return models.Appointment{}, fmt.Errorf("%w: delay minutes must be positive", store.ErrValidation)
	}
	appointment, err := e.store.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: id,
		Action:        store.ActionDelay,
		DelayMinutes:  minutes,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	event := eventFor(notify.EventDelayed, appointment)
	event.DelayMinutes = minutes
	e.notifier.Notify(event)
	return appointment, nil
}

func (e *Engine) Reschedule(ctx context.Context, id, date, timeOfDay string) (models.Appointment, error) {
	if err := validateSlot(date, timeOfDay); err != nil {
		return models.Appointment{}, err
	}
	appointment, err := e.store.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: id,
		Action:        store.ActionReschedule,
		Date:          date,
		Time:          timeOfDay,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	e.notifier.Notify(eventFor(notify.EventRescheduled, appointment))
	return appointment, nil
}

// Cancel is the staff-side cancellation.
func (e *Engine) Cancel(ctx context.Context, id string) (models.Appointment, error) {
	appointment, err := e.store.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: id,
		Action:        store.ActionCancel,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	e.invalidateStats(ctx, appointment.Doctor)
	e.notifier.Notify(eventFor(notify.EventCancelled, appointment))
	return appointment, nil
}

// CancelOwn cancels on behalf of the booking patient; anyone else gets
// ErrNotAuthorized.
func (e *Engine) CancelOwn(ctx context.Context, id, requesterID string) (models.Appointment, error) {
	appointment, err := e.store.CancelByOwner(ctx, id, requesterID, time.Now().UTC())
	if err != nil {
		return models.Appointment{}, err
	}
	e.invalidateStats(ctx, appointment.Doctor)
	e.notifier.Notify(eventFor(notify.EventCancelled, appointment))
	return appointment, nil
}

// AddPrescription records the consultation outcome and completes the
// appointment in one step. Only the appointment's own doctor may write it.
func (e *Engine) AddPrescription(ctx context.Context, id, doctor, text string) (models.Appointment, error) {
	doctor = strings.TrimSpace(doctor)
	text = strings.TrimSpace(text)
	if doctor == "" || text == "" {
		return models.Appointment{}, fmt.Errorf("%w: doctor and prescription text are required", store.ErrValidation)
	}
	appointment, err := e.store.SetPrescription(ctx, id, doctor, text, time.Now().UTC())
	if err != nil {
		return models.Appointment{}, err
	}
	e.invalidateStats(ctx, appointment.Doctor)
	return appointment, nil
}

// Advance completes the patient in the chair and calls the next one in.
// The returned bool is false when the waiting pool was empty.
func (e *Engine) Advance(ctx context.Context, doctor string) (models.QueueEntry, bool, error) {
	doctor = strings.TrimSpace(doctor)
	if doctor == "" {
		return models.QueueEntry{}, false, fmt.Errorf("%w: doctor is required", store.ErrValidation)
	}

	entry, promoted, err := e.store.Advance(ctx, doctor, time.Now().UTC())
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if !promoted {
		return models.QueueEntry{}, false, nil
	}

	e.invalidateStats(ctx, doctor)
	e.notifier.Notify(notify.Event{
		Kind:        notify.EventCalled,
		PatientName: entry.PatientName,
		Email:       entry.Email,
		Phone:       entry.Phone,
		Doctor:      entry.Doctor,
		Department:  entry.Department,
	})
	return entry, true, nil
}

func (e *Engine) CurrentPatient(ctx context.Context, doctor string) (models.QueueEntry, bool, error) {
	return e.store.CurrentPatient(ctx, doctor)
}

func (e *Engine) ListQueue(ctx context.Context, department string) ([]models.QueueEntry, error) {
	return e.store.ListQueue(ctx, department)
}

func (e *Engine) DoctorStats(ctx context.Context, doctor string) (models.DoctorStats, error) {
	return e.stats.DoctorStats(ctx, doctor, time.Now().UTC())
}

func (e *Engine) DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error) {
	return e.stats.DepartmentSummaries(ctx)
}

func (e *Engine) invalidateStats(ctx context.Context, doctor string) {
	if invalidator, ok := e.stats.(StatsInvalidator); ok {
		invalidator.Invalidate(ctx, doctor)
	}
}

func eventFor(kind string, appointment models.Appointment) notify.Event {
	return notify.Event{
		Kind:        kind,
		PatientName: appointment.Patient.Name,
		Email:       appointment.Patient.Email,
		Phone:       appointment.Patient.Phone,
		Doctor:      appointment.Doctor,
		Department:  appointment.Department,
		Date:        appointment.Date,
		Time:        appointment.Time,
	}
}

func validateSlot(date, timeOfDay string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}
	if _, err := time.Parse("15:04", timeOfDay); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", store.ErrValidation)
	}
	return nil
}
