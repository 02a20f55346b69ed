// Package schedule builds a dispatch plan for one day of appointments.
// Visits are walked in start-time order and pushed to each engineer's
// next free slot, greedy and deterministic.
package schedule

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"opsdesk/internal/domain"
)

const (
	DefaultDayStartHour        = 9
	DefaultWorkdayMinutes      = 480
	DefaultTravelBufferMinutes = 30

	UnassignedEngineer = "Unassigned"

	noteOverlap = "Resolved overlap with preceding visit"
	noteOverrun = "Extends beyond workday; consider another engineer"
)

type Options struct {
	// Date is the target day. Only its calendar date matters.
	Date                time.Time
	TravelBufferMinutes int
	WorkdayMinutes      int
	// Engineers seeds the roster. Appointments may add engineers not
	// listed here. Roster order breaks ties for unassigned visits.
	Engineers []string
}

type Suggestion struct {
	AppointmentID       int64     `json:"appointment_id"`
	Client              string    `json:"client,omitempty"`
	AssignedEngineer    string    `json:"assigned_engineer,omitempty"`
	RecommendedEngineer string    `json:"recommended_engineer"`
	CurrentStart        time.Time `json:"current_start" format:"date-time"`
	OptimizedStart      time.Time `json:"optimized_start" format:"date-time"`
	OptimizedEnd        time.Time `json:"optimized_end" format:"date-time"`
	TravelBufferMinutes int       `json:"travel_buffer_minutes"`
	Notes               string    `json:"notes,omitempty"`
}

type Plan struct {
	ID                     string       `json:"id"`
	Date                   string       `json:"date"`
	AppointmentsConsidered int          `json:"appointments_considered"`
	Reassignments          int          `json:"reassignments"`
	Suggestions            []Suggestion `json:"suggestions"`
	GeneratedAt            time.Time    `json:"generated_at" format:"date-time"`
}

// BuildPlan produces suggestions for every scheduled appointment that
// starts on the target date. clientNames maps client ids to display
// names for the suggestion rows.
func BuildPlan(appointments []domain.Appointment, clientNames map[int64]string, opts Options, now time.Time) Plan {
	buffer := opts.TravelBufferMinutes
	if buffer <= 0 {
		buffer = DefaultTravelBufferMinutes
	}
	workday := opts.WorkdayMinutes
	if workday <= 0 {
		workday = DefaultWorkdayMinutes
	}

	y, m, d := opts.Date.Date()
	dayStart := time.Date(y, m, d, DefaultDayStartHour, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(time.Duration(workday) * time.Minute)

	slots := map[string]time.Time{}
	roster := make([]string, 0, len(opts.Engineers))
	add := func(engineer string) {
		if _, ok := slots[engineer]; !ok {
			slots[engineer] = dayStart
			roster = append(roster, engineer)
		}
	}
	for _, engineer := range opts.Engineers {
		add(engineer)
	}

	considered := make([]domain.Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.Status != "scheduled" {
			continue
		}
		ay, am, ad := a.StartTime.Date()
		if ay != y || am != m || ad != d {
			continue
		}
		considered = append(considered, a)
	}
	sort.SliceStable(considered, func(i, j int) bool {
		return considered[i].StartTime.Before(considered[j].StartTime)
	})

	plan := Plan{
		ID:                     uuid.NewString(),
		Date:                   dayStart.Format("2006-01-02"),
		AppointmentsConsidered: len(considered),
		Suggestions:            make([]Suggestion, 0, len(considered)),
		GeneratedAt:            now,
	}

	for _, a := range considered {
		engineer := a.AssignedTo
		if engineer != "" {
			add(engineer)
		} else {
			engineer = earliestFree(roster, slots)
			if engineer == "" {
				engineer = UnassignedEngineer
				add(engineer)
			}
			plan.Reassignments++
		}

		start := a.StartTime
		if slots[engineer].After(start) {
			start = slots[engineer]
		}
		notes := ""
		if start.After(a.StartTime) {
			notes = noteOverlap
		}
		end := start.Add(time.Duration(a.DurationMinutes) * time.Minute)
		if end.Add(time.Duration(buffer) * time.Minute).After(dayEnd) {
			notes = noteOverrun
		}
		slots[engineer] = end.Add(time.Duration(buffer) * time.Minute)

		plan.Suggestions = append(plan.Suggestions, Suggestion{
			AppointmentID:       a.ID,
			Client:              clientNames[a.ClientID],
			AssignedEngineer:    a.AssignedTo,
			RecommendedEngineer: engineer,
			CurrentStart:        a.StartTime,
			OptimizedStart:      start,
			OptimizedEnd:        end,
			TravelBufferMinutes: buffer,
			Notes:               notes,
		})
	}
	return plan
}

// earliestFree returns the roster engineer with the earliest free slot.
// Ties go to whoever joined the roster first.
func earliestFree(roster []string, slots map[string]time.Time) string {
	best := ""
	for _, engineer := range roster {
		if best == "" || slots[engineer].Before(slots[best]) {
			best = engineer
		}
	}
	return best
}
