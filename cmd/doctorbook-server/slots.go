package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/doctorbook/doctorbook/internal/config"
	"github.com/doctorbook/doctorbook/internal/domain/scheduling"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/db"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// generateOptions mirrors the flags of "slots generate".
type generateOptions struct {
	From       string
	To         string
	Weeks      int
	Days       string
	Start      string
	End        string
	LunchStart string
	LunchEnd   string
	Duration   time.Duration
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, d)
	}
	return days, nil
}

func optionalClock(s string) (*scheduling.ClockTime, error) {
	if s == "" {
		return nil, nil
	}
	c, err := scheduling.ParseClock(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (o generateOptions) plan(loc *time.Location) (scheduling.GeneratePlan, error) {
	var (
		p   scheduling.GeneratePlan
		err error
	)
	if p.StartDate, err = time.ParseInLocation("2006-01-02", o.From, loc); err != nil {
		return p, fmt.Errorf("--from: %w", err)
	}
	if o.To != "" {
		if p.EndDate, err = time.ParseInLocation("2006-01-02", o.To, loc); err != nil {
			return p, fmt.Errorf("--to: %w", err)
		}
	}
	p.Weeks = o.Weeks
	if p.Weekdays, err = parseWeekdays(o.Days); err != nil {
		return p, fmt.Errorf("--days: %w", err)
	}
	if p.DayStart, err = scheduling.ParseClock(o.Start); err != nil {
		return p, fmt.Errorf("--start: %w", err)
	}
	if p.DayEnd, err = scheduling.ParseClock(o.End); err != nil {
		return p, fmt.Errorf("--end: %w", err)
	}
	if p.LunchStart, err = optionalClock(o.LunchStart); err != nil {
		return p, fmt.Errorf("--lunch-start: %w", err)
	}
	if p.LunchEnd, err = optionalClock(o.LunchEnd); err != nil {
		return p, fmt.Errorf("--lunch-end: %w", err)
	}
	p.SlotLength = o.Duration
	return p, nil
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage doctor slots",
	}

	var (
		opts     generateOptions
		doctorID string
	)
	genCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate slots for a doctor over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(doctorID)
			if err != nil {
				return fmt.Errorf("--doctor: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			plan, err := opts.plan(loc)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Env)
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			// Slot generation sends no notifications.
			svcs, err := newServices(cfg, pool, nil, logger)
			if err != nil {
				return err
			}
			operator := scheduling.Actor{UserID: uuid.MustParse(auth.DevUserID), Role: auth.RoleAdmin}
			n, err := svcs.scheduling.GenerateSlots(ctx, operator, id, plan)
			if err != nil {
				return fmt.Errorf("generate slots: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Created %d slot(s) for doctor %s.\n", n, id)
			return nil
		},
	}
	genCmd.Flags().StringVar(&doctorID, "doctor", "", "Doctor id")
	genCmd.Flags().StringVar(&opts.From, "from", "", "First day, YYYY-MM-DD")
	genCmd.Flags().StringVar(&opts.To, "to", "", "Last day, YYYY-MM-DD (defaults to --from plus --weeks)")
	genCmd.Flags().IntVar(&opts.Weeks, "weeks", 4, "Number of weeks when --to is not set")
	genCmd.Flags().StringVar(&opts.Days, "days", "mon,tue,wed,thu,fri", "Comma separated weekdays")
	genCmd.Flags().StringVar(&opts.Start, "start", "09:00", "Daily start time, HH:MM")
	genCmd.Flags().StringVar(&opts.End, "end", "17:00", "Daily end time, HH:MM")
	genCmd.Flags().StringVar(&opts.LunchStart, "lunch-start", "", "Lunch break start, HH:MM")
	genCmd.Flags().StringVar(&opts.LunchEnd, "lunch-end", "", "Lunch break end, HH:MM")
	genCmd.Flags().DurationVar(&opts.Duration, "duration", scheduling.DefaultSlotLength, "Slot length")
	_ = genCmd.MarkFlagRequired("doctor")
	_ = genCmd.MarkFlagRequired("from")

	cmd.AddCommand(genCmd)
	return cmd
}
