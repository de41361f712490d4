package store

import "github.com/AjayDigitalDreamworks/medicure/internal/models"

const (
	ActionConfirm    = "confirm"
	ActionReject     = "reject"
	ActionComplete   = "complete"
	ActionDelay      = "delay"
	ActionReschedule = "reschedule"
	ActionCancel     = "cancel"
)

// Delayed and rescheduled appointments stay actionable; completed and
// cancelled are terminal. Owner cancellation is only allowed before the
// visit is underway.
var transitionMap = map[string][]string{
	ActionConfirm:    {models.AppointmentPending},
	ActionReject:     {models.AppointmentPending, models.AppointmentConfirmed, models.AppointmentDelayed, models.AppointmentRescheduled},
	ActionComplete:   {models.AppointmentConfirmed, models.AppointmentDelayed, models.AppointmentRescheduled},
	ActionDelay:      {models.AppointmentConfirmed, models.AppointmentDelayed, models.AppointmentRescheduled},
	ActionReschedule: {models.AppointmentConfirmed, models.AppointmentDelayed, models.AppointmentRescheduled},
	ActionCancel:     {models.AppointmentPending, models.AppointmentConfirmed},
}

// AllowedFrom lists the statuses an action may be applied to. The returned
// slice is shared; callers must not mutate it.
func AllowedFrom(action string) []string {
	return transitionMap[action]
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an action lands in.
func TargetStatus(action string) string {
	switch action {
	case ActionConfirm:
		return models.AppointmentConfirmed
	case ActionReject, ActionCancel:
		return models.AppointmentCancelled
	case ActionComplete:
		return models.AppointmentCompleted
	case ActionDelay:
		return models.AppointmentDelayed
	case ActionReschedule:
		return models.AppointmentRescheduled
	default:
		return ""
	}
}
