package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
	"github.com/AjayDigitalDreamworks/medicure/internal/notify"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
	"github.com/AjayDigitalDreamworks/medicure/internal/store/memory"
)

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(event notify.Event) {
	n.events = append(n.events, event)
}

func newTestEngine(t *testing.T) (*Engine, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	st := memory.NewStore(memory.Options{AvgMinutesPerPatient: 10})
	return New(st, nil, notifier, zerolog.Nop()), notifier
}

func book(t *testing.T, e *Engine, patient, doctor string) models.Appointment {
	t.Helper()
	appointment, err := e.Book(context.Background(), BookInput{
		Patient:    models.PatientRef{ID: patient, Name: "Patient " + patient, Email: patient + "@example.com"},
		Doctor:     doctor,
		Department: "Cardiology",
		Date:       "2026-09-01",
		Time:       "10:30",
	})
	require.NoError(t, err)
	return appointment
}

func TestBookValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input BookInput
	}{
		{"missing patient", BookInput{Doctor: "dr-a", Department: "Cardiology", Date: "2026-09-01", Time: "10:30"}},
		{"missing doctor", BookInput{Patient: models.PatientRef{ID: "p1", Name: "A"}, Department: "Cardiology", Date: "2026-09-01", Time: "10:30"}},
		{"bad date", BookInput{Patient: models.PatientRef{ID: "p1", Name: "A"}, Doctor: "dr-a", Department: "Cardiology", Date: "01-09-2026", Time: "10:30"}},
		{"bad time", BookInput{Patient: models.PatientRef{ID: "p1", Name: "A"}, Doctor: "dr-a", Department: "Cardiology", Date: "2026-09-01", Time: "25:99"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Book(ctx, tc.input)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
}

func TestConfirmEnqueuesAndNotifies(t *testing.T) {
	e, notifier := newTestEngine(t)
	ctx := context.Background()

	appointment := book(t, e, "p1", "dr-a")
	confirmed, err := e.Confirm(ctx, appointment.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConfirmed, confirmed.Status)

	entries, err := e.ListQueue(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, appointment.ID, entries[0].AppointmentID)
	assert.Equal(t, models.QueueWaiting, entries[0].Status)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, 10, entries[0].WaitMinutes)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventConfirmed, notifier.events[0].Kind)
}

func TestConfirmTwiceFails(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	appointment := book(t, e, "p1", "dr-a")
	_, err := e.Confirm(ctx, appointment.ID, "")
	require.NoError(t, err)

	_, err = e.Confirm(ctx, appointment.ID, "")
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestAdvanceKeepsArrivalOrderAcrossPriorities(t *testing.T) {
	e, notifier := newTestEngine(t)
	ctx := context.Background()

	a := book(t, e, "pa", "dr-a")
	b := book(t, e, "pb", "dr-a")
	c := book(t, e, "pc", "dr-a")

	_, err := e.Confirm(ctx, a.ID, "")
	require.NoError(t, err)
	_, err = e.Confirm(ctx, b.ID, models.PriorityUrgent)
	require.NoError(t, err)
	_, err = e.Confirm(ctx, c.ID, "")
	require.NoError(t, err)

	notifier.events = nil
	order := make([]string, 0, 3)
	for {
		entry, promoted, err := e.Advance(ctx, "dr-a")
		require.NoError(t, err)
		if !promoted {
			break
		}
		order = append(order, entry.AppointmentID)
	}
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, order)

	require.Len(t, notifier.events, 3)
	for _, event := range notifier.events {
		assert.Equal(t, notify.EventCalled, event.Kind)
	}
}

func TestAdvanceEmptyQueue(t *testing.T) {
	e, notifier := newTestEngine(t)

	_, promoted, err := e.Advance(context.Background(), "dr-empty")
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Empty(t, notifier.events)
}

func TestAdvanceCompletesCurrentPatient(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a := book(t, e, "pa", "dr-a")
	b := book(t, e, "pb", "dr-a")
	_, err := e.Confirm(ctx, a.ID, "")
	require.NoError(t, err)
	_, err = e.Confirm(ctx, b.ID, "")
	require.NoError(t, err)

	first, promoted, err := e.Advance(ctx, "dr-a")
	require.NoError(t, err)
	require.True(t, promoted)
	assert.Equal(t, a.ID, first.AppointmentID)

	current, ok, err := e.CurrentPatient(ctx, "dr-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)

	second, promoted, err := e.Advance(ctx, "dr-a")
	require.NoError(t, err)
	require.True(t, promoted)
	assert.Equal(t, b.ID, second.AppointmentID)

	entries, err := e.ListQueue(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.QueueInProgress, entries[0].Status)
}

func TestPositionsShiftAsQueueDrains(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for _, p := range []string{"p1", "p2", "p3"} {
		appointment := book(t, e, p, "dr-a")
		_, err := e.Confirm(ctx, appointment.ID, "")
		require.NoError(t, err)
		ids = append(ids, appointment.ID)
	}

	entries, err := e.ListQueue(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Position)
		assert.Equal(t, (i+1)*10, entry.WaitMinutes)
	}

	_, _, err = e.Advance(ctx, "dr-a")
	require.NoError(t, err)

	entries, err = e.ListQueue(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[0], entries[0].AppointmentID)
	assert.Equal(t, models.QueueInProgress, entries[0].Status)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, 0, entries[0].WaitMinutes)
	assert.Equal(t, 2, entries[1].Position)
	assert.Equal(t, 3, entries[2].Position)
}

func TestDelayPreservesSlotAndNotifiesMinutes(t *testing.T) {
	e, notifier := newTestEngine(t)
	ctx := context.Background()

	appointment := book(t, e, "p1", "dr-a")
	_, err := e.Confirm(ctx, appointment.ID, "")
	require.NoError(t, err)

	delayed, err := e.Delay(ctx, appointment.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentDelayed, delayed.Status)
	assert.Equal(t, appointment.Date, delayed.Date)
	assert.Equal(t, appointment.Time, delayed.Time)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, notify.EventDelayed, last.Kind)
	assert.Equal(t, 20, last.DelayMinutes)
}

func TestRescheduleThenComplete(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	appointment := book(t, e, "p1", "dr-a")
	_, err := e.Confirm(ctx, appointment.ID, "")
	require.NoError(t, err)

	moved, err := e.Reschedule(ctx, appointment.ID, "2026-09-05", "14:00")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentRescheduled, moved.Status)
	assert.Equal(t, "2026-09-05", moved.Date)
	assert.Equal(t, "14:00", moved.Time)

	done, err := e.Complete(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCompleted, done.Status)

	_, err = e.Complete(ctx, appointment.ID)
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestCancelOwnRequiresOwner(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	appointment := book(t, e, "p1", "dr-a")

	_, err := e.CancelOwn(ctx, appointment.ID, "someone-else")
	assert.ErrorIs(t, err, store.ErrNotAuthorized)

	unchanged, err := e.Get(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentPending, unchanged.Status)

	cancelled, err := e.CancelOwn(ctx, appointment.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCancelled, cancelled.Status)
}

func TestAddPrescriptionCompletesForOwnDoctorOnly(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	appointment := book(t, e, "p1", "dr-a")
	_, err := e.Confirm(ctx, appointment.ID, "")
	require.NoError(t, err)

	_, err = e.AddPrescription(ctx, appointment.ID, "dr-b", "rest and fluids")
	assert.ErrorIs(t, err, store.ErrNotAuthorized)

	unchanged, err := e.Get(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConfirmed, unchanged.Status)
	assert.Empty(t, unchanged.Prescription)

	done, err := e.AddPrescription(ctx, appointment.ID, "dr-a", "rest and fluids")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCompleted, done.Status)
	assert.Equal(t, "rest and fluids", done.Prescription)
}

func TestTerminalAppointmentRejectsActions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	appointment := book(t, e, "p1", "dr-a")
	_, err := e.Cancel(ctx, appointment.ID)
	require.NoError(t, err)

	_, err = e.Confirm(ctx, appointment.ID, "")
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = e.Reschedule(ctx, appointment.ID, "2026-09-05", "14:00")
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = e.Cancel(ctx, appointment.ID)
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestStatsRollups(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a := book(t, e, "p1", "dr-a")
	b := book(t, e, "p2", "dr-a")
	book(t, e, "p3", "dr-b")

	_, err := e.Confirm(ctx, a.ID, "")
	require.NoError(t, err)
	_, err = e.Confirm(ctx, b.ID, "")
	require.NoError(t, err)
	_, err = e.AddPrescription(ctx, a.ID, "dr-a", "rest")
	require.NoError(t, err)

	stats, err := e.DoctorStats(ctx, "dr-a")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAppointments)
	assert.Equal(t, 2, stats.TodaysAppointments)
	assert.Equal(t, 1, stats.PrescriptionsGiven)
	assert.Equal(t, 1, stats.CompletedAppointments)

	_, _, err = e.Advance(ctx, "dr-a")
	require.NoError(t, err)

	summaries, err := e.DepartmentSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Cardiology", summaries[0].Department)
	assert.Equal(t, 1, summaries[0].InProgress)
	assert.Equal(t, 1, summaries[0].Waiting)
}
