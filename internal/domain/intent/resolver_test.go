package intent

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorbook/doctorbook/internal/domain/directory"
	"github.com/doctorbook/doctorbook/internal/domain/scheduling"
)

// -- Fakes --

type fakeDirectory struct {
	specs   []*directory.Specialization
	doctors []*directory.DoctorProfile
	err     error
}

func (f *fakeDirectory) ListDoctors(_ context.Context, flt directory.DoctorFilter, limit, offset int) ([]*directory.DoctorProfile, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	var out []*directory.DoctorProfile
	for _, d := range f.doctors {
		switch {
		case flt.ActiveOnly && !d.IsActive:
			continue
		case flt.SpecializationID != nil && d.SpecializationID != *flt.SpecializationID:
			continue
		case flt.NameContains != "" && !strings.Contains(strings.ToLower(d.FullName), strings.ToLower(flt.NameContains)):
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	if end := offset + limit; end < total {
		out = out[offset:end]
	} else {
		out = out[offset:]
	}
	return out, total, nil
}

func (f *fakeDirectory) ListSpecializations(context.Context) ([]*directory.Specialization, error) {
	return f.specs, f.err
}

func (f *fakeDirectory) SearchSpecializations(_ context.Context, fragment string) ([]*directory.Specialization, error) {
	var out []*directory.Specialization
	for _, s := range f.specs {
		if strings.Contains(strings.ToLower(s.Name), strings.ToLower(fragment)) {
			out = append(out, s)
		}
	}
	return out, f.err
}

func (f *fakeDirectory) addSpec(name string) *directory.Specialization {
	s := &directory.Specialization{ID: uuid.New(), Name: name}
	f.specs = append(f.specs, s)
	return s
}

func (f *fakeDirectory) addDoctor(name string, spec *directory.Specialization) *directory.DoctorProfile {
	d := &directory.DoctorProfile{
		Doctor:         directory.Doctor{ID: uuid.New(), UserID: uuid.New(), SpecializationID: spec.ID, IsActive: true},
		FullName:       name,
		Specialization: spec.Name,
	}
	f.doctors = append(f.doctors, d)
	return d
}

type fakeSlots struct {
	slots []*scheduling.Slot
	err   error
}

func (f *fakeSlots) FindAvailable(_ context.Context, q scheduling.AvailabilityQuery) ([]*scheduling.Slot, error) {
	if f.err != nil {
		return nil, f.err
	}
	want := make(map[uuid.UUID]bool)
	for _, id := range q.DoctorIDs {
		want[id] = true
	}
	var out []*scheduling.Slot
	for _, s := range f.slots {
		if want[s.DoctorID] && !s.IsBooked && !s.StartTime.Before(q.From) && !s.StartTime.After(q.Until) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeSlots) add(doctor *directory.DoctorProfile, start time.Time) *scheduling.Slot {
	s := &scheduling.Slot{ID: uuid.New(), DoctorID: doctor.ID, StartTime: start, EndTime: start.Add(30 * time.Minute)}
	f.slots = append(f.slots, s)
	return s
}

type world struct {
	dir      *fakeDirectory
	slots    *fakeSlots
	resolver *Resolver
	loc      *time.Location
	cardio   *directory.Specialization
	derm     *directory.Specialization
	mehta    *directory.DoctorProfile
	rao      *directory.DoctorProfile
}

// newWorld seeds two cardiologists and a dermatologist. The clock reads
// Wednesday 2026-03-04 08:00 clinic time.
func newWorld(t *testing.T) *world {
	t.Helper()
	loc := time.FixedZone("IST", 5*3600+1800)
	w := &world{dir: &fakeDirectory{}, slots: &fakeSlots{}, loc: loc}
	w.cardio = w.dir.addSpec("Cardiology")
	w.derm = w.dir.addSpec("Dermatology")
	w.mehta = w.dir.addDoctor("Anil Mehta", w.cardio)
	w.rao = w.dir.addDoctor("Ravi Rao", w.derm)
	w.resolver = NewResolver(w.dir, w.slots, loc, zerolog.Nop())
	w.resolver.now = func() time.Time { return time.Date(2026, 3, 4, 8, 0, 0, 0, loc) }
	return w
}

func (w *world) at(date string, hh, mm int) time.Time {
	d, _ := time.ParseInLocation("2006-01-02", date, w.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, w.loc)
}

func expectClarification(t *testing.T, out Outcome, fragments ...string) {
	t.Helper()
	if out.Kind != KindNeedsClarification {
		t.Fatalf("expected clarification, got %s (%q)", out.Kind, out.Message)
	}
	for _, f := range fragments {
		if !strings.Contains(out.Message, f) {
			t.Errorf("message %q does not mention %q", out.Message, f)
		}
	}
}

// -- Tests --

func TestResolve_CardioMorningTwoSlots(t *testing.T) {
	w := newWorld(t)
	w.slots.add(w.mehta, w.at("2026-03-04", 9, 0))
	w.slots.add(w.mehta, w.at("2026-03-04", 10, 0))

	out, err := w.resolver.Resolve(context.Background(), Intent{
		Specialization: "cardio",
		Date:           "2026-03-04",
		PartOfDay:      "morning",
	})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "09:00", "10:00")
	if strings.Index(out.Message, "09:00") > strings.Index(out.Message, "10:00") {
		t.Error("times should be listed in start order")
	}
}

func TestResolve_ExactTime(t *testing.T) {
	w := newWorld(t)
	w.slots.add(w.mehta, w.at("2026-03-04", 9, 0))
	want := w.slots.add(w.mehta, w.at("2026-03-04", 10, 0))

	out, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "mehta", Date: "2026-03-04", Time: "10:00"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindResolved || out.Slot.ID != want.ID {
		t.Fatalf("expected slot %s, got %+v", want.ID, out)
	}
	if out.Doctor == nil || out.Doctor.ID != w.mehta.ID {
		t.Errorf("expected resolved doctor")
	}
}

func TestResolve_Deterministic(t *testing.T) {
	w := newWorld(t)
	w.dir.addDoctor("Priya Nair", w.cardio)
	w.slots.add(w.mehta, w.at("2026-03-05", 11, 0))
	w.slots.add(w.dir.doctors[2], w.at("2026-03-05", 9, 30))

	in := Intent{Specialization: "Cardio", DayOfWeek: "tomorrow"}
	first, err := w.resolver.Resolve(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := w.resolver.Resolve(context.Background(), in)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("outcome changed between calls: %+v vs %+v", first, again)
		}
	}
	expectClarification(t, first, "Dr. Anil Mehta (Cardiology): 11:00", "Dr. Priya Nair (Cardiology): 09:30", "2026-03-05")
}

func TestResolve_UnconstrainedSingleSlotStillAsks(t *testing.T) {
	w := newWorld(t)
	w.slots.add(w.rao, w.at("2026-03-06", 15, 0))
	out, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "Rao", Date: "2026-03-06"})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "Dr. Ravi Rao (Dermatology): 15:00")
}

func TestResolve_DoctorReference(t *testing.T) {
	w := newWorld(t)
	w.dir.addDoctor("Anita Mehra", w.derm)

	t.Run("no match lists active doctors", func(t *testing.T) {
		out, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "Smith", Date: "2026-03-04"})
		if err != nil {
			t.Fatal(err)
		}
		expectClarification(t, out, "Smith", "Dr. Anil Mehta (Cardiology)", "Dr. Ravi Rao (Dermatology)")
	})
	t.Run("several matches are never auto-picked", func(t *testing.T) {
		out, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "an", Date: "2026-03-04"})
		if err != nil {
			t.Fatal(err)
		}
		expectClarification(t, out, "Dr. Anil Mehta", "Dr. Anita Mehra")
	})
	t.Run("inactive doctors are ignored", func(t *testing.T) {
		w.rao.IsActive = false
		defer func() { w.rao.IsActive = true }()
		out, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "Rao", Date: "2026-03-04"})
		if err != nil {
			t.Fatal(err)
		}
		expectClarification(t, out, "couldn't find any available doctor")
	})
}

func TestResolve_ManyDoctorsAndMore(t *testing.T) {
	w := newWorld(t)
	for i := 0; i < 12; i++ {
		w.dir.addDoctor("Doctor "+string(rune('A'+i)), w.cardio)
	}
	out, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "Nobody", Date: "2026-03-04"})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "... and more")
}

func TestResolve_SpecializationReference(t *testing.T) {
	w := newWorld(t)

	out, err := w.resolver.Resolve(context.Background(), Intent{Specialization: "neuro", Date: "2026-03-04"})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "Cardiology", "Dermatology")

	// "olog" is contained in both names.
	out, err = w.resolver.Resolve(context.Background(), Intent{Specialization: "olog", Date: "2026-03-04"})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "several specializations", "Cardiology", "Dermatology")

	w.dir.addSpec("Pediatrics")
	out, err = w.resolver.Resolve(context.Background(), Intent{Specialization: "pediat", Date: "2026-03-04"})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "no available doctors for Pediatrics")
}

func TestResolve_MissingReference(t *testing.T) {
	w := newWorld(t)
	out, err := w.resolver.Resolve(context.Background(), Intent{Date: "2026-03-04", DoctorName: "   "})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "which doctor or specialization")
}

func TestResolve_DateHandling(t *testing.T) {
	w := newWorld(t)
	tests := []struct {
		name string
		in   Intent
		want []string
	}{
		{"missing date", Intent{DoctorName: "Mehta"}, []string{"On what date"}},
		{"bad date", Intent{DoctorName: "Mehta", Date: "04/03/2026"}, []string{"04/03/2026", "YYYY-MM-DD"}},
		{"impossible date", Intent{DoctorName: "Mehta", Date: "2026-02-30"}, []string{"2026-02-30"}},
		{"unpadded date", Intent{DoctorName: "Mehta", Date: "2026-3-9"}, []string{"any available slots", "2026-03-09"}},
		{"unknown day", Intent{DoctorName: "Mehta", DayOfWeek: "someday"}, []string{"someday"}},
		{"today", Intent{DoctorName: "Mehta", DayOfWeek: "today"}, []string{"2026-03-04"}},
		{"misspelt tomorrow", Intent{DoctorName: "Mehta", DayOfWeek: "tommorow"}, []string{"2026-03-05"}},
		{"same weekday is next week", Intent{DoctorName: "Mehta", DayOfWeek: "Wednesday"}, []string{"2026-03-11"}},
		{"friday", Intent{DoctorName: "Mehta", DayOfWeek: "friday"}, []string{"2026-03-06"}},
		{"monday wraps", Intent{DoctorName: "Mehta", DayOfWeek: "monday"}, []string{"2026-03-09"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := w.resolver.Resolve(context.Background(), tt.in)
			if err != nil {
				t.Fatal(err)
			}
			expectClarification(t, out, tt.want...)
		})
	}
}

func TestResolve_TimeHandling(t *testing.T) {
	w := newWorld(t)
	w.slots.add(w.mehta, w.at("2026-03-04", 12, 0))
	w.slots.add(w.mehta, w.at("2026-03-04", 17, 0))

	out, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "Mehta", Date: "2026-03-04", Time: "25:00"})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "25:00", "HH:MM")

	out, _ = w.resolver.Resolve(context.Background(), Intent{DoctorName: "Mehta", Date: "2026-03-04", PartOfDay: "night"})
	expectClarification(t, out, "night")

	// 12:00 is the inclusive upper bound of the morning.
	out, _ = w.resolver.Resolve(context.Background(), Intent{DoctorName: "Mehta", Date: "2026-03-04", PartOfDay: "Morning"})
	if out.Kind != KindResolved || out.Slot.StartTime.In(w.loc).Hour() != 12 {
		t.Fatalf("expected the 12:00 slot, got %+v", out)
	}

	out, _ = w.resolver.Resolve(context.Background(), Intent{DoctorName: "Mehta", Date: "2026-03-04", PartOfDay: "afternoon"})
	expectClarification(t, out, "12:00", "17:00")

	out, _ = w.resolver.Resolve(context.Background(), Intent{DoctorName: "Mehta", Date: "2026-03-04", Time: "09:00"})
	expectClarification(t, out, "with Dr. Anil Mehta", "2026-03-04", "at 09:00")
}

func TestResolve_IgnoresBookedSlots(t *testing.T) {
	w := newWorld(t)
	s := w.slots.add(w.mehta, w.at("2026-03-04", 9, 0))
	s.IsBooked = true
	out, err := w.resolver.Resolve(context.Background(), Intent{Specialization: "cardio", Date: "2026-03-04", PartOfDay: "morning"})
	if err != nil {
		t.Fatal(err)
	}
	expectClarification(t, out, "in Cardiology", "in the morning")
}

func TestResolve_StoreFailure(t *testing.T) {
	w := newWorld(t)
	boom := errors.New("db down")
	w.slots.err = boom
	_, err := w.resolver.Resolve(context.Background(), Intent{DoctorName: "Mehta", Date: "2026-03-04"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}

	w.dir.err = boom
	_, err = w.resolver.Resolve(context.Background(), Intent{DoctorName: "Mehta", Date: "2026-03-04"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected directory error, got %v", err)
	}
}
