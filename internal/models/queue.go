package models

import "time"

// QueueEntry is one patient's place in a doctor's waiting line. Position
// and WaitMinutes are computed against the live line at read time; they are
// never stored, so they cannot drift when earlier entries complete.
type QueueEntry struct {
	ID              string     `json:"entry_id"`
	AppointmentID   string     `json:"appointment_id"`
	PatientName     string     `json:"patient_name"`
	Phone           string     `json:"phone,omitempty"`
	Email           string     `json:"email,omitempty"`
	Doctor          string     `json:"doctor"`
	Department      string     `json:"department"`
	AppointmentTime string     `json:"appointment_time"`
	Status          string     `json:"status"`
	Priority        string     `json:"priority"`
	Position        int        `json:"position,omitempty"`
	WaitMinutes     int        `json:"wait_minutes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

const (
	QueueWaiting    = "waiting"
	QueueInProgress = "in-progress"
	QueueCompleted  = "completed"
)

const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
)

// Before reports whether entry a is served ahead of b in the waiting pool:
// creation order first, urgency breaking creation-time ties, entry id as the
// final stable tiebreak.
func Before(a, b QueueEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Priority != b.Priority {
		return a.Priority == PriorityUrgent
	}
	return a.ID < b.ID
}

// DepartmentSummary is the OPD board view for one department. It is derived
// from the queue entries on every read, never independently mutated.
type DepartmentSummary struct {
	Department     string  `json:"department"`
	InProgress     int     `json:"in_progress"`
	Waiting        int     `json:"waiting"`
	AvgWaitMinutes float64 `json:"avg_wait_minutes"`
}

// DoctorStats is the doctor dashboard rollup.
type DoctorStats struct {
	Doctor                 string  `json:"doctor"`
	TotalAppointments      int     `json:"total_appointments"`
	TodaysAppointments     int     `json:"todays_appointments"`
	PrescriptionsGiven     int     `json:"prescriptions_given"`
	CompletedAppointments  int     `json:"completed_appointments"`
	AvgConsultationMinutes float64 `json:"avg_consultation_minutes"`
}
