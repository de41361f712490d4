package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
)

type advanceResult struct {
	entryID string
	ok      bool
	err     error
}

func TestAdvanceConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	doctor := "dr-" + uuid.NewString()
	base := time.Now().UTC().Add(-time.Hour)
	confirmAndEnqueue(t, ctx, st, doctor, base)
	confirmAndEnqueue(t, ctx, st, doctor, base.Add(time.Minute))

	var wg sync.WaitGroup
	results := make(chan advanceResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, ok, err := st.Advance(ctx, doctor, time.Time{})
			results <- advanceResult{entryID: entry.ID, ok: ok, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var ids []string
	for result := range results {
		if result.err != nil {
			t.Fatalf("advance error: %v", result.err)
		}
		if !result.ok {
			t.Fatalf("expected a promoted patient")
		}
		ids = append(ids, result.entryID)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected two distinct promotions, got %v", ids)
	}

	var inProgress, completed int
	if err := pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM queue_entries WHERE doctor = $1
	`, doctor, models.QueueInProgress, models.QueueCompleted).Scan(&inProgress, &completed); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if inProgress != 1 || completed != 1 {
		t.Fatalf("expected 1 in-progress and 1 completed, got %d and %d", inProgress, completed)
	}
}

func TestAdvanceEmptyQueue(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	entry, ok, err := st.Advance(ctx, "dr-"+uuid.NewString(), time.Time{})
	if err != nil {
		t.Fatalf("advance error: %v", err)
	}
	if ok {
		t.Fatalf("expected no promotion, got entry %s", entry.ID)
	}
}

func TestAdvanceKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	doctor := "dr-" + uuid.NewString()
	base := time.Now().UTC().Add(-time.Hour)

	normal := confirmAndEnqueue(t, ctx, st, doctor, base)
	urgentAppointment := createAppointment(t, ctx, st, doctor)
	confirm(t, ctx, st, urgentAppointment.ID)
	urgent, err := st.Enqueue(ctx, store.EnqueueInput{
		AppointmentID: urgentAppointment.ID,
		Priority:      models.PriorityUrgent,
		CreatedAt:     base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("enqueue urgent: %v", err)
	}

	promoted, ok, err := st.Advance(ctx, doctor, time.Time{})
	if err != nil || !ok {
		t.Fatalf("advance: ok=%v err=%v", ok, err)
	}
	if promoted.ID != normal.ID {
		t.Fatalf("expected earlier entry %s first, got %s", normal.ID, promoted.ID)
	}

	promoted, ok, err = st.Advance(ctx, doctor, time.Time{})
	if err != nil || !ok {
		t.Fatalf("advance: ok=%v err=%v", ok, err)
	}
	if promoted.ID != urgent.ID {
		t.Fatalf("expected urgent entry %s second, got %s", urgent.ID, promoted.ID)
	}
}

func TestEnqueueRequiresConfirmed(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appointment := createAppointment(t, ctx, st, "dr-"+uuid.NewString())
	_, err := st.Enqueue(ctx, store.EnqueueInput{AppointmentID: appointment.ID})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConfirmTwice(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appointment := createAppointment(t, ctx, st, "dr-"+uuid.NewString())
	confirm(t, ctx, st, appointment.ID)

	_, err := st.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: appointment.ID,
		Action:        store.ActionConfirm,
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func createAppointment(t *testing.T, ctx context.Context, st *Store, doctor string) models.Appointment {
	t.Helper()
	appointment, err := st.CreateAppointment(ctx, store.CreateAppointmentInput{
		Patient: models.PatientRef{
			ID:    uuid.NewString(),
			Name:  "Test Patient",
			Email: "patient@example.com",
		},
		Doctor:     doctor,
		Department: "Cardiology",
		Date:       "2026-09-01",
		Time:       "10:30",
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appointment
}

func confirm(t *testing.T, ctx context.Context, st *Store, appointmentID string) {
	t.Helper()
	if _, err := st.TransitionAppointment(ctx, store.TransitionInput{
		AppointmentID: appointmentID,
		Action:        store.ActionConfirm,
	}); err != nil {
		t.Fatalf("confirm appointment: %v", err)
	}
}

func confirmAndEnqueue(t *testing.T, ctx context.Context, st *Store, doctor string, createdAt time.Time) models.QueueEntry {
	t.Helper()
	appointment := createAppointment(t, ctx, st, doctor)
	confirm(t, ctx, st, appointment.ID)
	entry, err := st.Enqueue(ctx, store.EnqueueInput{
		AppointmentID: appointment.ID,
		CreatedAt:     createdAt,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return entry
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{AvgMinutesPerPatient: 10})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		contents, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return err
		}
	}
	return nil
}
