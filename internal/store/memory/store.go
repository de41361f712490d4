// Package memory implements store.Store in process memory. It backs the
// unit tests and the dev mode where no database is configured. A single
// mutex serializes every operation, which trivially satisfies the
// one-in-progress-per-doctor invariant.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
)

type Store struct {
	mu           sync.Mutex
	appointments map[string]models.Appointment
	entries      map[string]models.QueueEntry
	avgMinutes   int
}

type Options struct {
	AvgMinutesPerPatient int
}

func NewStore(options Options) *Store {
	avg := options.AvgMinutesPerPatient
	if avg <= 0 {
		avg = 10
	}
	return &Store{
		appointments: make(map[string]models.Appointment),
		entries:      make(map[string]models.QueueEntry),
		avgMinutes:   avg,
	}
}

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	appointment := models.Appointment{
		ID:         uuid.NewString(),
		Patient:    input.Patient,
		Doctor:     input.Doctor,
		Department: input.Department,
		Date:       input.Date,
		Time:       input.Time,
		Status:     models.AppointmentPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	s.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[id]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return appointment, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter store.AppointmentFilter) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Appointment
	for _, appointment := range s.appointments {
		if filter.Doctor != "" && appointment.Doctor != filter.Doctor {
			continue
		}
		if filter.Status != "" && appointment.Status != filter.Status {
			continue
		}
		if filter.Date != "" && appointment.Date != filter.Date {
			continue
		}
		out = append(out, appointment)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) TransitionAppointment(ctx context.Context, input store.TransitionInput) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[input.AppointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	if !store.ValidTransition(input.Action, appointment.Status) {
		return models.Appointment{}, store.ErrInvalidState
	}

	appointment.Status = store.TargetStatus(input.Action)
	if input.Action == store.ActionReschedule {
		appointment.Date = input.Date
		appointment.Time = input.Time
	}
	appointment.UpdatedAt = occurredOrNow(input.OccurredAt)
	s.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (s *Store) CancelByOwner(ctx context.Context, id, requesterID string, at time.Time) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[id]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	if appointment.Patient.ID != requesterID {
		return models.Appointment{}, store.ErrNotAuthorized
	}
	if !store.ValidTransition(store.ActionCancel, appointment.Status) {
		return models.Appointment{}, store.ErrInvalidState
	}

	appointment.Status = models.AppointmentCancelled
	appointment.UpdatedAt = occurredOrNow(at)
	s.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (s *Store) SetPrescription(ctx context.Context, id, doctor, text string, at time.Time) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[id]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	if appointment.Doctor != doctor {
		return models.Appointment{}, store.ErrNotAuthorized
	}
	if appointment.Status == models.AppointmentCancelled {
		return models.Appointment{}, store.ErrInvalidState
	}

	appointment.Prescription = text
	appointment.Status = models.AppointmentCompleted
	appointment.UpdatedAt = occurredOrNow(at)
	s.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (s *Store) Enqueue(ctx context.Context, input store.EnqueueInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[input.AppointmentID]
	if !ok {
		return models.QueueEntry{}, store.ErrAppointmentNotFound
	}
	if appointment.Status != models.AppointmentConfirmed {
		return models.QueueEntry{}, fmt.Errorf("%w: appointment %s is %s, not confirmed", store.ErrValidation, appointment.ID, appointment.Status)
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	entry := models.QueueEntry{
		ID:              uuid.NewString(),
		AppointmentID:   appointment.ID,
		PatientName:     appointment.Patient.Name,
		Phone:           appointment.Patient.Phone,
		Email:           appointment.Patient.Email,
		Doctor:          appointment.Doctor,
		Department:      appointment.Department,
		AppointmentTime: appointment.Time,
		Status:          models.QueueWaiting,
		Priority:        priority,
		CreatedAt:       createdAt,
	}
	s.entries[entry.ID] = entry
	return s.withPosition(entry), nil
}

func (s *Store) Advance(ctx context.Context, doctor string, at time.Time) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := occurredOrNow(at)
	for id, entry := range s.entries {
		if entry.Doctor == doctor && entry.Status == models.QueueInProgress {
			completedAt := now
			entry.Status = models.QueueCompleted
			entry.CompletedAt = &completedAt
			s.entries[id] = entry
			break
		}
	}

	var next *models.QueueEntry
	for _, entry := range s.entries {
		if entry.Doctor != doctor || entry.Status != models.QueueWaiting {
			continue
		}
		candidate := entry
		if next == nil || models.Before(candidate, *next) {
			next = &candidate
		}
	}
	if next == nil {
		return models.QueueEntry{}, false, nil
	}

	startedAt := now
	next.Status = models.QueueInProgress
	next.StartedAt = &startedAt
	s.entries[next.ID] = *next
	return s.withPosition(*next), true, nil
}

func (s *Store) CurrentPatient(ctx context.Context, doctor string) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.Doctor == doctor && entry.Status == models.QueueInProgress {
			return s.withPosition(entry), true, nil
		}
	}
	return models.QueueEntry{}, false, nil
}

func (s *Store) ListQueue(ctx context.Context, department string) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.QueueEntry
	for _, entry := range s.entries {
		if department != "" && entry.Department != department {
			continue
		}
		if entry.Status != models.QueueWaiting && entry.Status != models.QueueInProgress {
			continue
		}
		out = append(out, s.withPosition(entry))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Doctor != out[j].Doctor {
			return out[i].Doctor < out[j].Doctor
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s *Store) DoctorStats(ctx context.Context, doctor string, now time.Time) (models.DoctorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.IsZero() {
		now = time.Now().UTC()
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	stats := models.DoctorStats{Doctor: doctor}
	var totalMinutes float64
	for _, appointment := range s.appointments {
		if appointment.Doctor != doctor {
			continue
		}
		stats.TotalAppointments++
		if !appointment.CreatedAt.Before(dayStart) && appointment.CreatedAt.Before(dayEnd) {
			stats.TodaysAppointments++
		}
		if appointment.Prescription != "" {
			stats.PrescriptionsGiven++
		}
		if appointment.Status == models.AppointmentCompleted {
			stats.CompletedAppointments++
			totalMinutes += appointment.UpdatedAt.Sub(appointment.CreatedAt).Minutes()
		}
	}
	if stats.CompletedAppointments > 0 {
		stats.AvgConsultationMinutes = totalMinutes / float64(stats.CompletedAppointments)
	}
	return stats, nil
}

func (s *Store) DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type rollup struct {
		inProgress  int
		waiting     int
		waitMinutes float64
		waitSamples int
	}
	rollups := make(map[string]*rollup)
	for _, entry := range s.entries {
		r, ok := rollups[entry.Department]
		if !ok {
			r = &rollup{}
			rollups[entry.Department] = r
		}
		switch entry.Status {
		case models.QueueWaiting:
			r.waiting++
		case models.QueueInProgress:
			r.inProgress++
		}
		if entry.StartedAt != nil {
			r.waitMinutes += entry.StartedAt.Sub(entry.CreatedAt).Minutes()
			r.waitSamples++
		}
	}

	var out []models.DepartmentSummary
	for department, r := range rollups {
		summary := models.DepartmentSummary{
			Department: department,
			InProgress: r.inProgress,
			Waiting:    r.waiting,
		}
		if r.waitSamples > 0 {
			summary.AvgWaitMinutes = r.waitMinutes / float64(r.waitSamples)
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out, nil
}

// withPosition fills the lazily computed position and wait estimate for one
// entry. Must be called with the lock held. The in-progress entry heads the
// line; waiting entries follow in waiting-pool order.
func (s *Store) withPosition(entry models.QueueEntry) models.QueueEntry {
	if entry.Status == models.QueueInProgress {
		entry.Position = 1
		entry.WaitMinutes = 0
		return entry
	}
	if entry.Status != models.QueueWaiting {
		return entry
	}

	position := 0
	for _, other := range s.entries {
		if other.Doctor != entry.Doctor {
			continue
		}
		if other.Status == models.QueueInProgress {
			position++
			continue
		}
		if other.Status == models.QueueWaiting && (other.ID == entry.ID || models.Before(other, entry)) {
			position++
		}
	}
	entry.Position = position
	entry.WaitMinutes = position * s.avgMinutes
	return entry
}

func occurredOrNow(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at
}
