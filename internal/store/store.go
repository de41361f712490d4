package store

import (
	"context"
	"time"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
)

type CreateAppointmentInput struct {
	Patient    models.PatientRef
	Doctor     string
	Department string
	Date       string
	Time       string
	CreatedAt  time.Time
}

// TransitionInput carries one appointment state-machine action. Date and
// Time are only consulted by reschedule; DelayMinutes only by delay (it is
// recorded for the notification, the stored fields are untouched).
type TransitionInput struct {
	AppointmentID string
	Action        string
	Date          string
	Time          string
	DelayMinutes  int
	RequesterID   string
	OccurredAt    time.Time
}

type EnqueueInput struct {
	AppointmentID string
	Priority      string
	CreatedAt     time.Time
}

type AppointmentFilter struct {
	Doctor string
	Status string
	Date   string
}

// Store owns appointments and queue entries. Implementations must make
// Advance atomic per doctor: completing the in-progress entry and promoting
// the next waiting one happen as one all-or-nothing step, and two concurrent
// Advance calls for the same doctor are serialized.
type Store interface {
	CreateAppointment(ctx context.Context, input CreateAppointmentInput) (models.Appointment, error)
	GetAppointment(ctx context.Context, id string) (models.Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]models.Appointment, error)
	TransitionAppointment(ctx context.Context, input TransitionInput) (models.Appointment, error)
	CancelByOwner(ctx context.Context, id, requesterID string, at time.Time) (models.Appointment, error)
	SetPrescription(ctx context.Context, id, doctor, text string, at time.Time) (models.Appointment, error)

	Enqueue(ctx context.Context, input EnqueueInput) (models.QueueEntry, error)
	Advance(ctx context.Context, doctor string, at time.Time) (models.QueueEntry, bool, error)
	CurrentPatient(ctx context.Context, doctor string) (models.QueueEntry, bool, error)
	ListQueue(ctx context.Context, department string) ([]models.QueueEntry, error)

	DoctorStats(ctx context.Context, doctor string, now time.Time) (models.DoctorStats, error)
	DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error)
}
