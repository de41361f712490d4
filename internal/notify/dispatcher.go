package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventConfirmed   = "appointment.confirmed"
	EventRejected    = "appointment.rejected"
	EventDelayed     = "appointment.delayed"
	EventRescheduled = "appointment.rescheduled"
	EventCancelled   = "appointment.cancelled"
	EventCalled      = "queue.called"
	EventReminder    = "appointment.reminder"
)

// Event is one patient-facing notification. Email and Phone select the
// channels; an event with neither is dropped silently.
type Event struct {
	Kind         string
	PatientName  string
	Email        string
	Phone        string
	Doctor       string
	Department   string
	Date         string
	Time         string
	DelayMinutes int
}

// Dispatcher sends events asynchronously. Callers never block on provider
// latency and never see provider errors; failures are logged and dropped.
type Dispatcher struct {
	email   Provider
	sms     Provider
	logger  zerolog.Logger
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
}

type Options struct {
	Timeout       time.Duration
	MaxInFlight   int
	EmailProvider Provider
	SMSProvider   Provider
}

func NewDispatcher(logger zerolog.Logger, options Options) *Dispatcher {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxInFlight := options.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	email := options.EmailProvider
	if email == nil {
		email = logProvider{channel: "email", logger: logger}
	}
	sms := options.SMSProvider
	if sms == nil {
		sms = logProvider{channel: "sms", logger: logger}
	}
	return &Dispatcher{
		email:   email,
		sms:     sms,
		logger:  logger,
		timeout: timeout,
		slots:   make(chan struct{}, maxInFlight),
	}
}

// Notify fans the event out to every channel with a recipient and returns
// immediately. When all in-flight slots are taken the event is dropped with
// a warning rather than backing up the caller.
func (d *Dispatcher) Notify(event Event) {
	message := render(event)
	if message == "" {
		return
	}
	if event.Email != "" {
		d.dispatch(d.email, "email", message, event.Email, event.Kind)
	}
	if event.Phone != "" {
		d.dispatch(d.sms, "sms", message, event.Phone, event.Kind)
	}
}

func (d *Dispatcher) dispatch(provider Provider, channel, message, recipient, kind string) {
	select {
	case d.slots <- struct{}{}:
	default:
		d.logger.Warn().
			Str("channel", channel).
			Str("kind", kind).
			Msg("notification dropped, too many in flight")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := provider.Send(ctx, message, recipient); err != nil {
			d.logger.Warn().
				Err(err).
				Str("channel", channel).
				Str("kind", kind).
				Msg("notification send failed")
		}
	}()
}

// Close waits for in-flight sends to finish. New events may still be
// submitted while Close runs; callers stop producing first.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

func render(event Event) string {
	switch event.Kind {
	case EventConfirmed:
		return fmt.Sprintf("Dear %s, your appointment with %s (%s) on %s at %s is confirmed. You have been added to the queue.",
			event.PatientName, event.Doctor, event.Department, event.Date, event.Time)
	case EventRejected:
		return fmt.Sprintf("Dear %s, your appointment request with %s on %s could not be accommodated.",
			event.PatientName, event.Doctor, event.Date)
	case EventDelayed:
		return fmt.Sprintf("Dear %s, your appointment with %s is running about %d minutes late. We apologize for the wait.",
			event.PatientName, event.Doctor, event.DelayMinutes)
	case EventRescheduled:
		return fmt.Sprintf("Dear %s, your appointment with %s has been moved to %s at %s.",
			event.PatientName, event.Doctor, event.Date, event.Time)
	case EventCancelled:
		return fmt.Sprintf("Dear %s, your appointment with %s on %s has been cancelled.",
			event.PatientName, event.Doctor, event.Date)
	case EventCalled:
		return fmt.Sprintf("Dear %s, %s is ready to see you now. Please proceed to %s.",
			event.PatientName, event.Doctor, event.Department)
	case EventReminder:
		return fmt.Sprintf("Dear %s, a reminder of your appointment with %s (%s) tomorrow, %s at %s.",
			event.PatientName, event.Doctor, event.Department, event.Date, event.Time)
	default:
		return ""
	}
}
