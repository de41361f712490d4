package store

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrEntryNotFound       = errors.New("queue entry not found")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrNotAuthorized       = errors.New("not authorized")
)
