package models

import "time"

// PatientRef identifies the booking patient on an appointment, together
// with the contact details notifications are sent to.
type PatientRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Appointment struct {
	ID           string     `json:"appointment_id"`
	Patient      PatientRef `json:"patient"`
	Doctor       string     `json:"doctor"`
	Department   string     `json:"department"`
	Date         string     `json:"date"`
	Time         string     `json:"time"`
	Status       string     `json:"status"`
	Prescription string     `json:"prescription,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

const (
	AppointmentPending     = "pending"
	AppointmentConfirmed   = "confirmed"
	AppointmentDelayed     = "delayed"
	AppointmentCompleted   = "completed"
	AppointmentCancelled   = "cancelled"
	AppointmentRescheduled = "rescheduled"
)

// Terminal reports whether an appointment status permits no further
// transitions.
func Terminal(status string) bool {
	return status == AppointmentCompleted || status == AppointmentCancelled
}
