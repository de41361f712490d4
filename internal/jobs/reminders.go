package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
	"github.com/AjayDigitalDreamworks/medicure/internal/notify"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
)

type Notifier interface {
	Notify(event notify.Event)
}

// Reminders sends next-day visit reminders for appointments that are still
// on the books.
type Reminders struct {
	store    store.Store
	notifier Notifier
	logger   zerolog.Logger
}

func NewReminders(st store.Store, notifier Notifier, logger zerolog.Logger) *Reminders {
	return &Reminders{store: st, notifier: notifier, logger: logger}
}

// Schedule registers the reminder scan on the given cron runner.
func (r *Reminders) Schedule(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := r.Run(ctx); err != nil {
			r.logger.Error().Err(err).Msg("reminder scan failed")
		}
	})
	return err
}

func (r *Reminders) Run(ctx context.Context) error {
	tomorrow := time.Now().UTC().Add(24 * time.Hour).Format("2006-01-02")

	sent := 0
	for _, status := range []string{models.AppointmentConfirmed, models.AppointmentDelayed, models.AppointmentRescheduled} {
		appointments, err := r.store.ListAppointments(ctx, store.AppointmentFilter{Status: status, Date: tomorrow})
		if err != nil {
			return err
		}
		for _, appointment := range appointments {
			r.notifier.Notify(notify.Event{
				Kind:        notify.EventReminder,
				PatientName: appointment.Patient.Name,
				Email:       appointment.Patient.Email,
				Phone:       appointment.Patient.Phone,
				Doctor:      appointment.Doctor,
				Department:  appointment.Department,
				Date:        appointment.Date,
				Time:        appointment.Time,
			})
			sent++
		}
	}
	r.logger.Info().Int("count", sent).Str("date", tomorrow).Msg("reminders dispatched")
	return nil
}
