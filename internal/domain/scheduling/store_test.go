package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/doctorbook/doctorbook/internal/platform/db"
)

// memStore is an in-memory stand-in for the slots and appointments tables.
// It emulates the parts of PostgreSQL the booking core relies on: row locks
// held until the transaction ends, rollback of every write on failure, and
// the unique index allowing one live appointment per slot.
type memStore struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]*Slot
	appts    map[uuid.UUID]*Appointment
	rowLocks map[uuid.UUID]*sync.Mutex
	failures map[string]error

	patients map[uuid.UUID]memPerson
	doctors  map[uuid.UUID]memDoctor
}

type memPerson struct {
	Name  string
	Email string
	Phone *string
}

type memDoctor struct {
	memPerson
	UserID         uuid.UUID
	Specialization string
}

func newMemStore() *memStore {
	return &memStore{
		slots:    make(map[uuid.UUID]*Slot),
		appts:    make(map[uuid.UUID]*Appointment),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
		failures: make(map[string]error),
		patients: make(map[uuid.UUID]memPerson),
		doctors:  make(map[uuid.UUID]memDoctor),
	}
}

// failOnce makes the next call of op return err.
func (m *memStore) failOnce(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// fail consumes an injected failure. m.mu must be held.
func (m *memStore) fail(op string) error {
	err := m.failures[op]
	delete(m.failures, op)
	return err
}

// -- Transactions --

type memTx struct {
	locked map[uuid.UUID]bool
	held   []*sync.Mutex
	undo   []func()
}

type memTxKey struct{}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	tx := &memTx{locked: make(map[uuid.UUID]bool)}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))
	if err != nil {
		m.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.mu.Unlock()
	}
	for _, l := range tx.held {
		l.Unlock()
	}
	return err
}

// lockRow blocks until the row lock on id is free and holds it until the
// transaction in ctx ends. Outside a transaction it does nothing.
func (m *memStore) lockRow(ctx context.Context, id uuid.UUID) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok || tx.locked[id] {
		return
	}
	m.mu.Lock()
	l, ok := m.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.rowLocks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	tx.locked[id] = true
	tx.held = append(tx.held, l)
}

// record registers an undo step for the transaction in ctx. m.mu must be held.
func (m *memStore) record(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func isLive(a *Appointment) bool {
	return a.Status == StatusBooked || a.Status == StatusCompleted
}

// -- Slots --

type memSlots struct{ *memStore }

func (s memSlots) insert(ctx context.Context, sl *Slot) error {
	if _, ok := s.doctors[sl.DoctorID]; !ok {
		return ErrUnknownDoctor
	}
	for _, ex := range s.slots {
		if ex.DoctorID == sl.DoctorID && ex.StartTime.Equal(sl.StartTime) {
			return ErrSlotExists
		}
	}
	sl.ID = uuid.New()
	sl.CreatedAt = time.Now()
	cp := *sl
	s.slots[sl.ID] = &cp
	id := sl.ID
	s.record(ctx, func() { delete(s.slots, id) })
	return nil
}

func (s memSlots) Create(ctx context.Context, sl *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("slots.Create"); err != nil {
		return err
	}
	return s.insert(ctx, sl)
}

func (s memSlots) CreateBatch(ctx context.Context, slots []*Slot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("slots.CreateBatch"); err != nil {
		return 0, err
	}
	n := 0
	for _, sl := range slots {
		switch err := s.insert(ctx, sl); err {
		case nil:
			n++
		case ErrSlotExists:
		default:
			return n, err
		}
	}
	return n, nil
}

func (s memSlots) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *sl
	return &cp, nil
}

func (s memSlots) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	s.lockRow(ctx, id)
	return s.GetByID(ctx, id)
}

func (s memSlots) SetBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("slots.SetBooked"); err != nil {
		return err
	}
	sl, ok := s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	prev := sl.IsBooked
	sl.IsBooked = booked
	s.record(ctx, func() { sl.IsBooked = prev })
	return nil
}

func (s memSlots) hasAppointments(id uuid.UUID) bool {
	for _, a := range s.appts {
		if a.SlotID == id {
			return true
		}
	}
	return false
}

func (s memSlots) HasAppointments(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAppointments(id), nil
}

func (s memSlots) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if s.hasAppointments(id) {
		return ErrSlotHasHistory
	}
	delete(s.slots, id)
	s.record(ctx, func() { s.slots[id] = sl })
	return nil
}

func (s memSlots) DeleteFutureUnbooked(ctx context.Context, doctorID uuid.UUID, after time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sl := range s.slots {
		if sl.DoctorID != doctorID || sl.IsBooked || !sl.StartTime.After(after) || s.hasAppointments(id) {
			continue
		}
		delete(s.slots, id)
		n++
	}
	return n, nil
}

func (s memSlots) sorted(keep func(*Slot) bool) []*Slot {
	var out []*Slot
	for _, sl := range s.slots {
		if keep(sl) {
			cp := *sl
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].DoctorID.String() < out[j].DoctorID.String()
	})
	return out
}

func (s memSlots) ListByDoctor(_ context.Context, doctorID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted(func(sl *Slot) bool {
		switch {
		case sl.DoctorID != doctorID:
			return false
		case f.From != nil && sl.StartTime.Before(*f.From):
			return false
		case f.Until != nil && sl.StartTime.After(*f.Until):
			return false
		case f.AvailableOnly && sl.IsBooked:
			return false
		}
		return true
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s memSlots) FindAvailable(_ context.Context, q AvailabilityQuery) ([]*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(q.DoctorIDs))
	for _, id := range q.DoctorIDs {
		want[id] = true
	}
	return s.sorted(func(sl *Slot) bool {
		return want[sl.DoctorID] && !sl.IsBooked &&
			!sl.StartTime.Before(q.From) && !sl.StartTime.After(q.Until)
	}), nil
}

// -- Appointments --

type memAppts struct{ *memStore }

func (s memAppts) Create(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("appointments.Create"); err != nil {
		return err
	}
	for _, ex := range s.appts {
		if ex.SlotID == a.SlotID && isLive(ex) && isLive(a) {
			return &pgconn.PgError{Code: db.CodeUniqueViolation, ConstraintName: "uq_appointments_live_slot"}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	s.appts[a.ID] = &cp
	id := a.ID
	s.record(ctx, func() { delete(s.appts, id) })
	return nil
}

func (s memAppts) GetWithSlotForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, *Slot, error) {
	s.mu.Lock()
	a, ok := s.appts[id]
	var slotID uuid.UUID
	if ok {
		slotID = a.SlotID
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil, ErrAppointmentNotFound
	}

	s.lockRow(ctx, id)
	s.lockRow(ctx, slotID)

	s.mu.Lock()
	defer s.mu.Unlock()
	ac := *s.appts[id]
	sc := *s.slots[slotID]
	return &ac, &sc, nil
}

func (s memAppts) Update(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("appointments.Update"); err != nil {
		return err
	}
	ex, ok := s.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	prev := *ex
	a.UpdatedAt = time.Now()
	*ex = *a
	s.record(ctx, func() { *ex = prev })
	return nil
}

func (s memAppts) detail(a *Appointment) *AppointmentDetail {
	sl := s.slots[a.SlotID]
	p := s.patients[a.PatientID]
	d := s.doctors[sl.DoctorID]
	return &AppointmentDetail{
		Appointment:    *a,
		Slot:           *sl,
		PatientName:    p.Name,
		PatientEmail:   p.Email,
		PatientPhone:   p.Phone,
		DoctorUserID:   d.UserID,
		DoctorName:     d.Name,
		DoctorEmail:    d.Email,
		DoctorPhone:    d.Phone,
		Specialization: d.Specialization,
	}
}

func (s memAppts) GetDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return s.detail(a), nil
}

func (s memAppts) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*AppointmentDetail, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*AppointmentDetail
	for _, a := range s.appts {
		d := s.detail(a)
		switch {
		case f.PatientID != nil && a.PatientID != *f.PatientID:
			continue
		case f.DoctorID != nil && d.Slot.DoctorID != *f.DoctorID:
			continue
		case f.Status != "" && a.Status != f.Status:
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Slot.StartTime.After(all[j].Slot.StartTime) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// checkInvariants verifies that every slot is booked exactly when it has a
// live appointment and that no slot has more than one.
func (m *memStore) checkInvariants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := make(map[uuid.UUID]int)
	for _, a := range m.appts {
		if isLive(a) {
			live[a.SlotID]++
		}
	}
	var problems []string
	for id, sl := range m.slots {
		switch {
		case live[id] > 1:
			problems = append(problems, "slot "+id.String()+" has several live appointments")
		case sl.IsBooked != (live[id] == 1):
			problems = append(problems, "slot "+id.String()+" booked flag disagrees with its appointments")
		}
	}
	return problems
}
