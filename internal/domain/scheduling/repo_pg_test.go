package scheduling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/doctorbook/doctorbook/internal/domain/directory"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/db"
	"github.com/doctorbook/doctorbook/internal/platform/notification"
)

// pgEnv runs against the database in TEST_DATABASE_URL, inside a throwaway
// schema migrated from ../../../migrations.
type pgEnv struct {
	pool     *pgxpool.Pool
	svc      *Service
	users    directory.UserRepository
	doctorID uuid.UUID
	admin    Actor
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "it_" + uuid.NewString()[:8]

	admin, err := db.NewPool(ctx, url, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.NewMigrator(admin, "../../../migrations", schema).Up(ctx); err != nil {
		admin.Close()
		t.Fatal(err)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatal(err)
	}
	cfg.MaxConns = 30
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close()
	})

	users := directory.NewUserRepoPG(pool)
	specs := directory.NewSpecializationRepoPG(pool)
	doctors := directory.NewDoctorRepoPG(pool)

	du := &directory.User{Email: "rao@clinic.test", Username: "rao", FullName: "Asha Rao", PasswordHash: "x", Role: auth.RoleDoctor, IsActive: true}
	if err := users.Create(ctx, du); err != nil {
		t.Fatal(err)
	}
	spec := &directory.Specialization{Name: "Cardiology"}
	if err := specs.Create(ctx, spec); err != nil {
		t.Fatal(err)
	}
	doc := &directory.Doctor{UserID: du.ID, SpecializationID: spec.ID, IsActive: true}
	if err := doctors.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	svc := NewService(NewSlotRepoPG(pool), NewAppointmentRepoPG(pool), db.NewTxManager(pool, 2*time.Second),
		&notification.RecordingQueue{}, Config{Location: time.UTC}, zerolog.Nop())
	return &pgEnv{
		pool:     pool,
		svc:      svc,
		users:    users,
		doctorID: doc.ID,
		admin:    Actor{UserID: uuid.New(), Role: auth.RoleAdmin},
	}
}

func (env *pgEnv) patient(t *testing.T, n int) uuid.UUID {
	t.Helper()
	u := &directory.User{
		Email:        fmt.Sprintf("p%d@example.com", n),
		Username:     fmt.Sprintf("patient%d", n),
		FullName:     fmt.Sprintf("Patient %d", n),
		PasswordHash: "x",
		Role:         auth.RolePatient,
		IsActive:     true,
	}
	if err := env.users.Create(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u.ID
}

func (env *pgEnv) slot(t *testing.T, in time.Duration) *Slot {
	t.Helper()
	start := time.Now().Add(in).Truncate(time.Minute)
	sl, err := env.svc.CreateSlot(context.Background(), env.admin, env.doctorID, start, 0)
	if err != nil {
		t.Fatal(err)
	}
	return sl
}

func (env *pgEnv) liveAppointments(t *testing.T, slotID uuid.UUID) int {
	t.Helper()
	var n int
	err := env.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM appointments WHERE slot_id = $1 AND status <> 'cancelled'`, slotID).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestPG_ConcurrentBookSingleWinner(t *testing.T) {
	env := newPGEnv(t)
	sl := env.slot(t, 48*time.Hour)

	const n = 20
	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = env.patient(t, i)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, p := range patients {
		wg.Add(1)
		go func(p uuid.UUID) {
			defer wg.Done()
			_, err := env.svc.Book(context.Background(), p, sl.ID, "")
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful booking, got %d", wins)
	}
	got, err := env.svc.GetSlot(context.Background(), sl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsBooked {
		t.Error("slot must be marked booked")
	}
	if live := env.liveAppointments(t, sl.ID); live != 1 {
		t.Errorf("expected one live appointment, got %d", live)
	}
}

func TestPG_CancelThenRebook(t *testing.T) {
	env := newPGEnv(t)
	sl := env.slot(t, 72*time.Hour)
	p1, p2 := env.patient(t, 1), env.patient(t, 2)
	ctx := context.Background()

	a1, err := env.svc.Book(ctx, p1, sl.ID, "checkup")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Book(ctx, p2, sl.ID, ""); !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected ErrSlotAlreadyBooked, got %v", err)
	}
	if _, err := env.svc.Cancel(ctx, Actor{UserID: p1, Role: auth.RolePatient}, a1.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Cancel(ctx, Actor{UserID: p1, Role: auth.RolePatient}, a1.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second cancel: expected ErrInvalidState, got %v", err)
	}
	a2, err := env.svc.Book(ctx, p2, sl.ID, "")
	if err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
	if a2.ID == a1.ID {
		t.Error("rebooking must create a new appointment")
	}
	if live := env.liveAppointments(t, sl.ID); live != 1 {
		t.Errorf("expected one live appointment, got %d", live)
	}
}

func TestPG_CompleteKeepsSlotBooked(t *testing.T) {
	env := newPGEnv(t)
	sl := env.slot(t, 24*time.Hour)
	p := env.patient(t, 1)
	ctx := context.Background()

	a, err := env.svc.Book(ctx, p, sl.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.svc.Complete(ctx, env.doctorID, a.ID, Prescription{Notes: "rest", Medications: "paracetamol"})
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	got, err := env.svc.GetSlot(ctx, sl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsBooked {
		t.Error("a completed appointment keeps its slot consumed")
	}
	if _, err := env.svc.Cancel(ctx, env.admin, a.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancelling a completed appointment: expected ErrInvalidState, got %v", err)
	}
}

func TestPG_GenerateIsIdempotent(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	start := time.Now().UTC().AddDate(0, 0, 7)
	plan := GeneratePlan{
		StartDate:  start,
		EndDate:    start.AddDate(0, 0, 6),
		Weekdays:   []time.Weekday{start.Weekday()},
		DayStart:   ClockTime(9 * 60),
		DayEnd:     ClockTime(11 * 60),
		SlotLength: 30 * time.Minute,
	}
	n, err := env.svc.GenerateSlots(ctx, env.admin, env.doctorID, plan)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("expected 4 slots, got %d", n)
	}
	if again, err := env.svc.GenerateSlots(ctx, env.admin, env.doctorID, plan); err != nil || again != 0 {
		t.Errorf("second run: expected 0 new slots, got %d (%v)", again, err)
	}

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	slots, err := env.svc.FindAvailable(ctx, AvailabilityQuery{
		DoctorIDs: []uuid.UUID{env.doctorID},
		From:      day,
		Until:     day.Add(24*time.Hour - time.Nanosecond),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 available slots, got %d", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].StartTime.Before(slots[i].StartTime) {
			t.Error("available slots must be ordered by start time")
		}
	}
}

func TestPG_BookUnknownPatient(t *testing.T) {
	env := newPGEnv(t)
	sl := env.slot(t, 24*time.Hour)

	_, err := env.svc.Book(context.Background(), uuid.New(), sl.ID, "")
	if !errors.Is(err, ErrUnknownPatient) {
		t.Fatalf("expected ErrUnknownPatient, got %v", err)
	}
	got, err := env.svc.GetSlot(context.Background(), sl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsBooked {
		t.Error("slot must stay free after a rejected booking")
	}
}
