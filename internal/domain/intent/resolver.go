// Package intent turns structured booking requests extracted from chat into
// a concrete slot, or into a clarification question built from live data.
package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorbook/doctorbook/internal/domain/directory"
	"github.com/doctorbook/doctorbook/internal/domain/scheduling"
)

type Kind string

const (
	KindResolved           Kind = "resolved"
	KindNeedsClarification Kind = "needs_clarification"
	KindError              Kind = "error"
)

const (
	// maxListed caps how many options a clarification enumerates.
	maxListed     = 10
	maxCandidates = 100
)

// Intent holds the fields extracted from a booking request. Blank fields are
// treated as absent.
type Intent struct {
	DoctorName     string `json:"doctor_name"`
	Specialization string `json:"specialization"`
	Date           string `json:"date"`
	DayOfWeek      string `json:"day_of_week"`
	Time           string `json:"time"`
	PartOfDay      string `json:"part_of_day"`
}

func (in Intent) normalized() Intent {
	return Intent{
		DoctorName:     strings.TrimSpace(in.DoctorName),
		Specialization: strings.TrimSpace(in.Specialization),
		Date:           strings.TrimSpace(in.Date),
		DayOfWeek:      strings.TrimSpace(in.DayOfWeek),
		Time:           strings.TrimSpace(in.Time),
		PartOfDay:      strings.TrimSpace(in.PartOfDay),
	}
}

// Outcome is the result of resolving an Intent. Slot and Doctor are set only
// when Kind is KindResolved.
type Outcome struct {
	Kind    Kind                     `json:"kind"`
	Message string                   `json:"message,omitempty"`
	Slot    *scheduling.Slot         `json:"slot,omitempty"`
	Doctor  *directory.DoctorProfile `json:"doctor,omitempty"`
}

func clarify(format string, args ...interface{}) Outcome {
	return Outcome{Kind: KindNeedsClarification, Message: fmt.Sprintf(format, args...)}
}

// Directory is the read side of the doctor directory used for matching.
type Directory interface {
	ListDoctors(ctx context.Context, f directory.DoctorFilter, limit, offset int) ([]*directory.DoctorProfile, int, error)
	ListSpecializations(ctx context.Context) ([]*directory.Specialization, error)
	SearchSpecializations(ctx context.Context, fragment string) ([]*directory.Specialization, error)
}

// SlotFinder queries unbooked slots.
type SlotFinder interface {
	FindAvailable(ctx context.Context, q scheduling.AvailabilityQuery) ([]*scheduling.Slot, error)
}

type Resolver struct {
	dir    Directory
	slots  SlotFinder
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

func NewResolver(dir Directory, slots SlotFinder, loc *time.Location, logger zerolog.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{dir: dir, slots: slots, loc: loc, now: time.Now, logger: logger}
}

// Resolve matches in against the stored doctors and slots. Every
// clarification is built from query results; nothing is guessed. The error
// return is reserved for store failures.
func (r *Resolver) Resolve(ctx context.Context, in Intent) (Outcome, error) {
	in = in.normalized()
	r.logger.Debug().Interface("intent", in).Msg("resolving intent")

	doctors, subject, out, err := r.candidates(ctx, in)
	if err != nil || out != nil {
		return deref(out), err
	}

	day, out := r.date(in)
	if out != nil {
		return *out, nil
	}

	window, constrained, out := r.window(in, day)
	if out != nil {
		return *out, nil
	}

	ids := make([]uuid.UUID, len(doctors))
	for i, d := range doctors {
		ids[i] = d.ID
	}
	slots, err := r.slots.FindAvailable(ctx, scheduling.AvailabilityQuery{
		DoctorIDs: ids,
		From:      window.from,
		Until:     window.until,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("find available slots: %w", err)
	}
	r.logger.Debug().Int("candidates", len(doctors)).Int("slots", len(slots)).Msg("slot search finished")

	date := day.Format("2006-01-02")
	switch {
	case len(slots) == 0:
		return clarify("I couldn't find any available slots%s on %s%s. Please choose a different time or date.",
			subject, date, describeTime(in)), nil
	case !constrained:
		return r.enumerate(doctors, slots, date), nil
	case len(slots) > 1:
		times := make([]string, 0, maxListed)
		for _, s := range slots {
			if len(times) == maxListed {
				break
			}
			times = append(times, r.clock(s.StartTime))
		}
		return clarify("There are multiple available slots on %s: %s. Please reply with the exact time you prefer in HH:MM format.",
			date, strings.Join(times, ", ")), nil
	}

	sl := slots[0]
	return Outcome{Kind: KindResolved, Slot: sl, Doctor: findDoctor(doctors, sl.DoctorID)}, nil
}

func deref(o *Outcome) Outcome {
	if o == nil {
		return Outcome{}
	}
	return *o
}

func (r *Resolver) clock(t time.Time) string {
	return t.In(r.loc).Format("15:04")
}

func findDoctor(doctors []*directory.DoctorProfile, id uuid.UUID) *directory.DoctorProfile {
	for _, d := range doctors {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// candidates resolves the doctor or specialization reference to a set of
// active doctors. subject describes the match for later messages.
func (r *Resolver) candidates(ctx context.Context, in Intent) ([]*directory.DoctorProfile, string, *Outcome, error) {
	switch {
	case in.DoctorName != "":
		doctors, _, err := r.dir.ListDoctors(ctx, directory.DoctorFilter{NameContains: in.DoctorName, ActiveOnly: true}, maxCandidates, 0)
		if err != nil {
			return nil, "", nil, fmt.Errorf("match doctors: %w", err)
		}
		switch len(doctors) {
		case 0:
			listing, err := r.activeDoctors(ctx)
			if err != nil {
				return nil, "", nil, err
			}
			out := clarify("I couldn't find any available doctor matching %q. Currently available doctors are: %s. Please tell me the exact doctor name you want to book with.",
				in.DoctorName, listing)
			return nil, "", &out, nil
		case 1:
			return doctors, " with Dr. " + doctors[0].FullName, nil, nil
		default:
			out := clarify("I found multiple doctors matching %q: %s. Please reply with the full name of the doctor you want to see.",
				in.DoctorName, displayNames(doctors))
			return nil, "", &out, nil
		}

	case in.Specialization != "":
		specs, err := r.dir.SearchSpecializations(ctx, in.Specialization)
		if err != nil {
			return nil, "", nil, fmt.Errorf("match specializations: %w", err)
		}
		switch len(specs) {
		case 0:
			all, err := r.dir.ListSpecializations(ctx)
			if err != nil {
				return nil, "", nil, fmt.Errorf("list specializations: %w", err)
			}
			listing := "no specializations are currently configured"
			if len(all) > 0 {
				listing = specNames(all)
			}
			out := clarify("I couldn't find any specialization matching %q. Available specializations are: %s. Please tell me which specialization you prefer.",
				in.Specialization, listing)
			return nil, "", &out, nil
		case 1:
		default:
			out := clarify("%q matches several specializations: %s. Please tell me which one you mean.",
				in.Specialization, specNames(specs))
			return nil, "", &out, nil
		}

		spec := specs[0]
		doctors, _, err := r.dir.ListDoctors(ctx, directory.DoctorFilter{SpecializationID: &spec.ID, ActiveOnly: true}, maxCandidates, 0)
		if err != nil {
			return nil, "", nil, fmt.Errorf("list doctors of %s: %w", spec.Name, err)
		}
		if len(doctors) == 0 {
			out := clarify("There are currently no available doctors for %s. Please choose a different specialization or doctor.", spec.Name)
			return nil, "", &out, nil
		}
		return doctors, " in " + spec.Name, nil, nil
	}

	out := clarify("To help you book an appointment, please tell me which doctor or specialization you would like to see.")
	return nil, "", &out, nil
}

func (r *Resolver) activeDoctors(ctx context.Context) (string, error) {
	doctors, total, err := r.dir.ListDoctors(ctx, directory.DoctorFilter{ActiveOnly: true}, maxListed, 0)
	if err != nil {
		return "", fmt.Errorf("list active doctors: %w", err)
	}
	if len(doctors) == 0 {
		return "no doctors are currently available", nil
	}
	listing := displayNames(doctors)
	if total > maxListed {
		listing += "; ... and more"
	}
	return listing, nil
}

func displayNames(doctors []*directory.DoctorProfile) string {
	if len(doctors) > maxListed {
		doctors = doctors[:maxListed]
	}
	names := make([]string, len(doctors))
	for i, d := range doctors {
		names[i] = d.DisplayName()
	}
	return strings.Join(names, "; ")
}

func specNames(specs []*directory.Specialization) string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return strings.Join(names, ", ")
}

func (r *Resolver) date(in Intent) (time.Time, *Outcome) {
	switch {
	case in.Date != "":
		d, ok := parseDate(in.Date, r.loc)
		if !ok {
			out := clarify("The date %q is not in the expected format YYYY-MM-DD. Please provide a date like 2026-03-04.", in.Date)
			return time.Time{}, &out
		}
		return d, nil
	case in.DayOfWeek != "":
		d, ok := interpretDay(in.DayOfWeek, r.now().In(r.loc))
		if !ok {
			out := clarify("I couldn't interpret the day %q. Please provide a specific calendar date in the format YYYY-MM-DD.", in.DayOfWeek)
			return time.Time{}, &out
		}
		return d, nil
	}
	out := clarify("On what date would you like the appointment? Please reply with a specific date in the format YYYY-MM-DD.")
	return time.Time{}, &out
}

// window returns the start-time range to search and whether the caller
// constrained the time at all.
func (r *Resolver) window(in Intent, day time.Time) (timeWindow, bool, *Outcome) {
	switch {
	case in.Time != "":
		w, ok := exactTime(in.Time, day)
		if !ok {
			out := clarify("The time %q is not in the expected format HH:MM (24-hour). Please provide a time like 10:00 or 15:30.", in.Time)
			return timeWindow{}, false, &out
		}
		return w, true, nil
	case in.PartOfDay != "":
		w, ok := partWindow(in.PartOfDay, day)
		if !ok {
			out := clarify("I couldn't understand the part of day %q. Please give a specific time like 10:00, or say morning, afternoon or evening.", in.PartOfDay)
			return timeWindow{}, false, &out
		}
		return w, true, nil
	}
	return wholeDay(day), false, nil
}

func describeTime(in Intent) string {
	switch {
	case in.Time != "":
		return " at " + in.Time
	case in.PartOfDay != "":
		return " in the " + strings.ToLower(in.PartOfDay)
	}
	return ""
}

// enumerate lists every available start time per doctor, in candidate order.
func (r *Resolver) enumerate(doctors []*directory.DoctorProfile, slots []*scheduling.Slot, date string) Outcome {
	byDoctor := make(map[uuid.UUID][]string)
	for _, s := range slots {
		byDoctor[s.DoctorID] = append(byDoctor[s.DoctorID], r.clock(s.StartTime))
	}
	var parts []string
	for _, d := range doctors {
		if times := byDoctor[d.ID]; len(times) > 0 {
			parts = append(parts, d.DisplayName()+": "+strings.Join(times, ", "))
		}
	}
	return clarify("Available slots on %s are: %s. Please reply with the exact doctor name, date and time you prefer.",
		date, strings.Join(parts, " | "))
}
