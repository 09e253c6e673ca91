package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctorbook/doctorbook/internal/platform/db"
)

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

const slotCols = `id, doctor_id, start_time, end_time, is_booked, created_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var sl Slot
	err := row.Scan(&sl.ID, &sl.DoctorID, &sl.StartTime, &sl.EndTime, &sl.IsBooked, &sl.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sl)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) Create(ctx context.Context, sl *Slot) error {
	sl.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, start_time, end_time, is_booked)
		VALUES ($1,$2,$3,$4,FALSE) RETURNING created_at`,
		sl.ID, sl.DoctorID, sl.StartTime, sl.EndTime).Scan(&sl.CreatedAt)
	switch {
	case db.IsUniqueViolation(err, "uq_slots_doctor_start"):
		return ErrSlotExists
	case db.IsForeignKeyViolation(err):
		return ErrUnknownDoctor
	}
	return err
}

func (r *slotRepoPG) CreateBatch(ctx context.Context, slots []*Slot) (int, error) {
	q := db.Conn(ctx, r.pool)
	created := 0
	for _, sl := range slots {
		sl.ID = uuid.New()
		tag, err := q.Exec(ctx, `
			INSERT INTO slots (id, doctor_id, start_time, end_time, is_booked)
			VALUES ($1,$2,$3,$4,FALSE)
			ON CONFLICT ON CONSTRAINT uq_slots_doctor_start DO NOTHING`,
			sl.ID, sl.DoctorID, sl.StartTime, sl.EndTime)
		if db.IsForeignKeyViolation(err) {
			return created, ErrUnknownDoctor
		}
		if err != nil {
			return created, err
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1`, id))
}

func (r *slotRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+` FROM slots WHERE id = $1 FOR UPDATE`, id))
}

func (r *slotRepoPG) SetBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE slots SET is_booked = $2 WHERE id = $1`, id, booked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *slotRepoPG) HasAppointments(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointments WHERE slot_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM slots WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return ErrSlotHasHistory
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *slotRepoPG) DeleteFutureUnbooked(ctx context.Context, doctorID uuid.UUID, after time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM slots s
		WHERE s.doctor_id = $1 AND NOT s.is_booked AND s.start_time > $2
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = s.id)`,
		doctorID, after)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error) {
	where := []string{"doctor_id = $1"}
	args := []interface{}{doctorID}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		where = append(where, fmt.Sprintf("start_time <= $%d", len(args)))
	}
	if f.AvailableOnly {
		where = append(where, "NOT is_booked")
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM slots`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := q.Query(ctx, `SELECT `+slotCols+` FROM slots`+clause+
		fmt.Sprintf(` ORDER BY start_time LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectSlots(rows)
	return items, total, err
}

func (r *slotRepoPG) FindAvailable(ctx context.Context, aq AvailabilityQuery) ([]*Slot, error) {
	if len(aq.DoctorIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(aq.DoctorIDs))
	for i, id := range aq.DoctorIDs {
		ids[i] = id.String()
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+slotCols+` FROM slots
		WHERE doctor_id = ANY($1::uuid[]) AND NOT is_booked
		  AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time, doctor_id`,
		ids, aq.From, aq.Until)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `a.id, a.slot_id, a.patient_id, a.status, a.reason, a.notes,
	a.prescription_notes, a.medications, a.created_at, a.updated_at`

const apptSlotCols = `s.id, s.doctor_id, s.start_time, s.end_time, s.is_booked, s.created_at`

func apptDest(a *Appointment) []interface{} {
	return []interface{}{&a.ID, &a.SlotID, &a.PatientID, &a.Status, &a.Reason, &a.Notes,
		&a.PrescriptionNotes, &a.Medications, &a.CreatedAt, &a.UpdatedAt}
}

func slotDest(sl *Slot) []interface{} {
	return []interface{}{&sl.ID, &sl.DoctorID, &sl.StartTime, &sl.EndTime, &sl.IsBooked, &sl.CreatedAt}
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusBooked
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, status, reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at, updated_at`,
		a.ID, a.SlotID, a.PatientID, a.Status, a.Reason, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// GetWithSlotForUpdate locks the appointment row and the slot row in one
// statement, so cancel and complete on the same appointment serialize.
//
// PostgreSQL takes the row locks appointment first, then slot. Book locks
// only the slot and inserts a new appointment, so no path holds a slot lock
// while waiting on an existing appointment row. Any new path that does must
// go through this method, or lock the appointment first, to keep one order.
func (r *appointmentRepoPG) GetWithSlotForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, *Slot, error) {
	var (
		a  Appointment
		sl Slot
	)
	dest := append(apptDest(&a), slotDest(&sl)...)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+apptCols+`, `+apptSlotCols+`
		FROM appointments a JOIN slots s ON s.id = a.slot_id
		WHERE a.id = $1
		FOR UPDATE`, id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &a, &sl, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET status=$2, notes=$3, prescription_notes=$4, medications=$5, updated_at=NOW()
		WHERE id = $1 RETURNING updated_at`,
		a.ID, a.Status, a.Notes, a.PrescriptionNotes, a.Medications).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	return err
}

const detailSelect = `SELECT ` + apptCols + `, ` + apptSlotCols + `,
	p.full_name, p.email, p.phone, du.id, du.full_name, du.email, du.phone, sp.name
	FROM appointments a
	JOIN slots s ON s.id = a.slot_id
	JOIN users p ON p.id = a.patient_id
	JOIN doctors d ON d.id = s.doctor_id
	JOIN users du ON du.id = d.user_id
	JOIN specializations sp ON sp.id = d.specialization_id`

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	dest := append(apptDest(&d.Appointment), slotDest(&d.Slot)...)
	dest = append(dest, &d.PatientName, &d.PatientEmail, &d.PatientPhone,
		&d.DoctorUserID, &d.DoctorName, &d.DoctorEmail, &d.DoctorPhone, &d.Specialization)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *appointmentRepoPG) GetDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return scanDetail(db.Conn(ctx, r.pool).QueryRow(ctx, detailSelect+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*AppointmentDetail, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("a.patient_id = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("s.doctor_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM appointments a JOIN slots s ON s.id = a.slot_id`+clause,
		args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, detailSelect+clause+
		fmt.Sprintf(` ORDER BY s.start_time DESC, a.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
