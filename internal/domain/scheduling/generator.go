package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSlotLength = 30 * time.Minute
	defaultPlanWeeks  = 4
	// maxPlanDays bounds a single bulk generation request.
	maxPlanDays = 366
)

// ClockTime is a wall clock time of day in minutes after midnight.
type ClockTime int

// ParseClock parses a 24-hour "HH:MM" time.
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidPlan, s)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

// GeneratePlan describes a repeating weekly pattern of slots.
type GeneratePlan struct {
	// StartDate and EndDate are calendar days; only their date part in the
	// plan's location is used. A zero EndDate means StartDate plus Weeks.
	StartDate time.Time
	EndDate   time.Time
	Weeks     int
	// Weekdays defaults to Monday through Friday.
	Weekdays   []time.Weekday
	DayStart   ClockTime
	DayEnd     ClockTime
	SlotLength time.Duration
	// LunchStart and LunchEnd are optional; slots overlapping the break are
	// not generated.
	LunchStart *ClockTime
	LunchEnd   *ClockTime
}

func (p *GeneratePlan) normalize(loc *time.Location) error {
	if p.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidPlan)
	}
	p.StartDate = dateIn(p.StartDate, loc)
	if p.Weeks <= 0 {
		p.Weeks = defaultPlanWeeks
	}
	if p.EndDate.IsZero() {
		p.EndDate = p.StartDate.AddDate(0, 0, 7*p.Weeks)
	} else {
		p.EndDate = dateIn(p.EndDate, loc)
	}
	if len(p.Weekdays) == 0 {
		p.Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	if p.SlotLength <= 0 {
		p.SlotLength = DefaultSlotLength
	}

	switch {
	case p.StartDate.After(p.EndDate):
		return fmt.Errorf("%w: start date must not be after end date", ErrInvalidPlan)
	case p.EndDate.Sub(p.StartDate) > maxPlanDays*24*time.Hour:
		return fmt.Errorf("%w: range exceeds %d days", ErrInvalidPlan, maxPlanDays)
	case p.DayStart >= p.DayEnd:
		return fmt.Errorf("%w: start time must be before end time", ErrInvalidPlan)
	case (p.LunchStart == nil) != (p.LunchEnd == nil):
		return fmt.Errorf("%w: lunch start and end must be given together", ErrInvalidPlan)
	case p.LunchStart != nil && *p.LunchStart >= *p.LunchEnd:
		return fmt.Errorf("%w: lunch start must be before lunch end", ErrInvalidPlan)
	}
	return nil
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// GenerateSlots enumerates the slots described by plan for one doctor, in
// chronological order. The result depends only on its arguments.
func GenerateSlots(doctorID uuid.UUID, plan GeneratePlan, loc *time.Location) ([]*Slot, error) {
	if loc == nil {
		loc = time.UTC
	}
	if err := plan.normalize(loc); err != nil {
		return nil, err
	}

	allowed := make(map[time.Weekday]bool, len(plan.Weekdays))
	for _, wd := range plan.Weekdays {
		allowed[wd] = true
	}

	var out []*Slot
	for day := plan.StartDate; !day.After(plan.EndDate); day = day.AddDate(0, 0, 1) {
		if !allowed[day.Weekday()] {
			continue
		}
		dayEnd := plan.DayEnd.on(day)
		for start := plan.DayStart.on(day); !start.Add(plan.SlotLength).After(dayEnd); start = start.Add(plan.SlotLength) {
			end := start.Add(plan.SlotLength)
			if plan.LunchStart != nil {
				ls, le := plan.LunchStart.on(day), plan.LunchEnd.on(day)
				if start.Before(le) && ls.Before(end) {
					continue
				}
			}
			out = append(out, &Slot{DoctorID: doctorID, StartTime: start, EndTime: end})
		}
	}
	return out, nil
}
