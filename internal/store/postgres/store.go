package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
)

const appointmentColumns = `appointment_id, patient_id, patient_name, patient_email, patient_phone, doctor, department, visit_date, visit_time, status, prescription, created_at, updated_at`

const entryColumns = `entry_id, appointment_id, patient_name, phone, email, doctor, department, appointment_time, status, priority, created_at, started_at, completed_at`

type Store struct {
	pool       *pgxpool.Pool
	avgMinutes int
}

type Options struct {
	AvgMinutesPerPatient int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	avg := options.AvgMinutesPerPatient
	if avg <= 0 {
		avg = 10
	}
	return &Store{pool: pool, avgMinutes: avg}
}

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments (
			appointment_id, patient_id, patient_name, patient_email, patient_phone,
			doctor, department, visit_date, visit_time, status, prescription, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, appointment.ID, appointment.Patient.ID, appointment.Patient.Name, appointment.Patient.Email, appointment.Patient.Phone,
		appointment.Doctor, appointment.Department, appointment.Date, appointment.Time, appointment.Status, "", createdAt, createdAt)
	if err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1
	`, id)

	appointment, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	if err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter store.AppointmentFilter) ([]models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if filter.Doctor != "" {
		args = append(args, filter.Doctor)
		conditions = append(conditions, fmt.Sprintf("doctor = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		conditions = append(conditions, fmt.Sprintf("visit_date = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, appointment_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appointments := make([]models.Appointment, 0)
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appointment)
	}
	return appointments, rows.Err()
}

func (s *Store) TransitionAppointment(ctx context.Context, input store.TransitionInput) (models.Appointment, error) {
	allowed := store.AllowedFrom(input.Action)
	if len(allowed) == 0 {
		return models.Appointment{}, fmt.Errorf("%w: unknown action %q", store.ErrValidation, input.Action)
	}
	at := occurredOrNow(input.OccurredAt)

	var row pgx.Row
	if input.Action == store.ActionReschedule {
		row = s.pool.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2, visit_date = $3, visit_time = $4, updated_at = $5
			WHERE appointment_id = $1 AND status = ANY($6)
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, store.TargetStatus(input.Action), input.Date, input.Time, at, allowed)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2, updated_at = $3
			WHERE appointment_id = $1 AND status = ANY($4)
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, store.TargetStatus(input.Action), at, allowed)
	}

	appointment, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Appointment{}, s.classifyMiss(ctx, input.AppointmentID)
	}
	if err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

func (s *Store) CancelByOwner(ctx context.Context, id, requesterID string, at time.Time) (models.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = $4
		WHERE appointment_id = $1 AND patient_id = $2 AND status = ANY($5)
		RETURNING `+appointmentColumns+`
	`, id, requesterID, models.AppointmentCancelled, occurredOrNow(at), store.AllowedFrom(store.ActionCancel))

	appointment, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetAppointment(ctx, id)
		if getErr != nil {
			return models.Appointment{}, getErr
		}
		if current.Patient.ID != requesterID {
			return models.Appointment{}, store.ErrNotAuthorized
		}
		return models.Appointment{}, store.ErrInvalidState
	}
	if err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

func (s *Store) SetPrescription(ctx context.Context, id, doctor, text string, at time.Time) (models.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET prescription = $3, status = $4, updated_at = $5
		WHERE appointment_id = $1 AND doctor = $2 AND status <> $6
		RETURNING `+appointmentColumns+`
	`, id, doctor, text, models.AppointmentCompleted, occurredOrNow(at), models.AppointmentCancelled)

	appointment, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetAppointment(ctx, id)
		if getErr != nil {
			return models.Appointment{}, getErr
		}
		if current.Doctor != doctor {
			return models.Appointment{}, store.ErrNotAuthorized
		}
		return models.Appointment{}, store.ErrInvalidState
	}
	if err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

func (s *Store) Enqueue(ctx context.Context, input store.EnqueueInput) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1
		FOR UPDATE
	`, input.AppointmentID)
	appointment, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		err = store.ErrAppointmentNotFound
		return models.QueueEntry{}, err
	}
	if err != nil {
		return models.QueueEntry{}, err
	}
	if appointment.Status != models.AppointmentConfirmed {
		err = fmt.Errorf("%w: appointment %s is %s, not confirmed", store.ErrValidation, appointment.ID, appointment.Status)
		return models.QueueEntry{}, err
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

	if _, err = tx.Exec(ctx, `
		INSERT INTO queue_entries (
			entry_id, appointment_id, patient_name, phone, email,
			doctor, department, appointment_time, status, priority, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.AppointmentID, entry.PatientName, entry.Phone, entry.Email,
		entry.Doctor, entry.Department, entry.AppointmentTime, entry.Status, entry.Priority, entry.CreatedAt); err != nil {
		return models.QueueEntry{}, err
	}

	var ahead int
	if err = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE doctor = $1 AND status IN ($2, $3) AND entry_id <> $4
	`, entry.Doctor, models.QueueWaiting, models.QueueInProgress, entry.ID).Scan(&ahead); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}

	entry.Position = ahead + 1
	entry.WaitMinutes = entry.Position * s.avgMinutes
	return entry, nil
}

// Advance completes the doctor's in-progress entry and promotes the head of
// the waiting pool in one transaction. SKIP LOCKED keeps two clerks clicking
// "next" at once from promoting the same patient.
func (s *Store) Advance(ctx context.Context, doctor string, at time.Time) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := occurredOrNow(at)

	// Serialize advances per doctor: without this, two concurrent calls
	// could each promote a different patient into the chair.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctor); err != nil {
		return models.QueueEntry{}, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE queue_entries
		SET status = $2, completed_at = $3
		WHERE doctor = $1 AND status = $4
	`, doctor, models.QueueCompleted, now, models.QueueInProgress); err != nil {
		return models.QueueEntry{}, false, err
	}

	row := tx.QueryRow(ctx, `
		WITH next_entry AS (
			SELECT entry_id
			FROM queue_entries
			WHERE doctor = $1 AND status = $2
			ORDER BY created_at ASC, (priority = $3) DESC, entry_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_entries
		SET status = $4, started_at = $5
		FROM next_entry
		WHERE queue_entries.entry_id = next_entry.entry_id
		RETURNING `+qualifiedEntryColumns("queue_entries")+`
	`, doctor, models.QueueWaiting, models.PriorityUrgent, models.QueueInProgress, now)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.Commit(ctx)
		if err != nil {
			return models.QueueEntry{}, false, err
		}
		return models.QueueEntry{}, false, nil
	}
	if err != nil {
		return models.QueueEntry{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, err
	}

	entry.Position = 1
	return entry, true, nil
}

func (s *Store) CurrentPatient(ctx context.Context, doctor string) (models.QueueEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE doctor = $1 AND status = $2
	`, doctor, models.QueueInProgress)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, false, nil
	}
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	entry.Position = 1
	return entry, true, nil
}

func (s *Store) ListQueue(ctx context.Context, department string) ([]models.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `,
			ROW_NUMBER() OVER (
				PARTITION BY doctor
				ORDER BY (status = $1) DESC, created_at ASC, (priority = $2) DESC, entry_id ASC
			) AS position
		FROM queue_entries
		WHERE status IN ($1, $3)
	`
	args := []any{models.QueueInProgress, models.PriorityUrgent, models.QueueWaiting}
	if department != "" {
		args = append(args, department)
		query += fmt.Sprintf(" AND department = $%d", len(args))
	}
	query += " ORDER BY doctor ASC, position ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.QueueEntry, 0)
	for rows.Next() {
		entry, err := scanEntryWithPosition(rows)
		if err != nil {
			return nil, err
		}
		if entry.Status == models.QueueWaiting {
			entry.WaitMinutes = entry.Position * s.avgMinutes
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) DoctorStats(ctx context.Context, doctor string, now time.Time) (models.DoctorStats, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	stats := models.DoctorStats{Doctor: doctor}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $2 AND created_at < $3),
			COUNT(*) FILTER (WHERE prescription <> ''),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at)) / 60.0) FILTER (WHERE status = $4), 0)
		FROM appointments
		WHERE doctor = $1
	`, doctor, dayStart, dayEnd, models.AppointmentCompleted).Scan(
		&stats.TotalAppointments,
		&stats.TodaysAppointments,
		&stats.PrescriptionsGiven,
		&stats.CompletedAppointments,
		&stats.AvgConsultationMinutes,
	)
	if err != nil {
		return models.DoctorStats{}, err
	}
	return stats, nil
}

func (s *Store) DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			department,
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COALESCE(AVG(EXTRACT(EPOCH FROM (started_at - created_at)) / 60.0) FILTER (WHERE started_at IS NOT NULL), 0)
		FROM queue_entries
		GROUP BY department
		ORDER BY department ASC
	`, models.QueueInProgress, models.QueueWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.DepartmentSummary, 0)
	for rows.Next() {
		var summary models.DepartmentSummary
		if err := rows.Scan(&summary.Department, &summary.InProgress, &summary.Waiting, &summary.AvgWaitMinutes); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// classifyMiss distinguishes a missing appointment from one in a state the
// action does not allow, after a conditional update matched no rows.
func (s *Store) classifyMiss(ctx context.Context, id string) error {
	if _, err := s.GetAppointment(ctx, id); err != nil {
		return err
	}
	return store.ErrInvalidState
}

func qualifiedEntryColumns(table string) string {
	columns := strings.Split(entryColumns, ", ")
	for i, column := range columns {
		columns[i] = table + "." + column
	}
	return strings.Join(columns, ", ")
}

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var appointment models.Appointment
	err := row.Scan(
		&appointment.ID,
		&appointment.Patient.ID,
		&appointment.Patient.Name,
		&appointment.Patient.Email,
		&appointment.Patient.Phone,
		&appointment.Doctor,
		&appointment.Department,
		&appointment.Date,
		&appointment.Time,
		&appointment.Status,
		&appointment.Prescription,
		&appointment.CreatedAt,
		&appointment.UpdatedAt,
	)
	return appointment, err
}

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&entry.ID,
		&entry.AppointmentID,
		&entry.PatientName,
		&entry.Phone,
		&entry.Email,
		&entry.Doctor,
		&entry.Department,
		&entry.AppointmentTime,
		&entry.Status,
		&entry.Priority,
		&entry.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		entry.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		entry.CompletedAt = &t
	}
	return entry, nil
}

func scanEntryWithPosition(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var startedAt, completedAt sql.NullTime
	var position int64
	err := row.Scan(
		&entry.ID,
		&entry.AppointmentID,
		&entry.PatientName,
		&entry.Phone,
		&entry.Email,
		&entry.Doctor,
		&entry.Department,
		&entry.AppointmentTime,
		&entry.Status,
		&entry.Priority,
		&entry.CreatedAt,
		&startedAt,
		&completedAt,
		&position,
	)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		entry.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		entry.CompletedAt = &t
	}
	entry.Position = int(position)
	return entry, nil
}

func occurredOrNow(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at
}
