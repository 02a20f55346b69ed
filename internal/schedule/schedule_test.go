package schedule

import (
	"testing"
	"time"

	"opsdesk/internal/domain"
)

var (
	day = time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	now = time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 20, hour, minute, 0, 0, time.UTC)
}

func appt(id int64, engineer string, start time.Time, minutes int) domain.Appointment {
	return domain.Appointment{
		ID:              id,
		ClientID:        1,
		Status:          "scheduled",
		AssignedTo:      engineer,
		StartTime:       start,
		DurationMinutes: minutes,
	}
}

func TestBuildPlanResolvesOverlap(t *testing.T) {
	plan := BuildPlan([]domain.Appointment{
		appt(1, "dana", at(9, 0), 60),
		appt(2, "dana", at(9, 15), 60),
	}, map[int64]string{1: "Acme"}, Options{Date: day}, now)

	if plan.AppointmentsConsidered != 2 || len(plan.Suggestions) != 2 {
		t.Fatalf("considered = %d, suggestions = %d", plan.AppointmentsConsidered, len(plan.Suggestions))
	}
	first, second := plan.Suggestions[0], plan.Suggestions[1]
	if !first.OptimizedStart.Equal(at(9, 0)) || first.Notes != "" {
		t.Fatalf("first = %+v", first)
	}
	if !second.OptimizedStart.Equal(at(10, 30)) {
		t.Fatalf("second start = %v, want 10:30", second.OptimizedStart)
	}
	if second.Notes != "Resolved overlap with preceding visit" {
		t.Fatalf("second notes = %q", second.Notes)
	}
	if second.Client != "Acme" {
		t.Fatalf("client = %q", second.Client)
	}
	if plan.Reassignments != 0 {
		t.Fatalf("reassignments = %d", plan.Reassignments)
	}
	if plan.Date != "2024-05-20" {
		t.Fatalf("date = %q", plan.Date)
	}
	if plan.ID == "" {
		t.Fatal("plan id empty")
	}
}

func TestBuildPlanEngineerEndTimesMonotonic(t *testing.T) {
	plan := BuildPlan([]domain.Appointment{
		appt(1, "dana", at(9, 0), 90),
		appt(2, "dana", at(9, 30), 45),
		appt(3, "dana", at(10, 0), 30),
		appt(4, "lee", at(9, 0), 60),
	}, nil, Options{Date: day}, now)

	last := map[string]time.Time{}
	for _, s := range plan.Suggestions {
		if prev, ok := last[s.RecommendedEngineer]; ok && s.OptimizedStart.Before(prev) {
			t.Fatalf("%s starts %v before previous end %v", s.RecommendedEngineer, s.OptimizedStart, prev)
		}
		last[s.RecommendedEngineer] = s.OptimizedEnd
	}
}

func TestBuildPlanFlagsWorkdayOverrun(t *testing.T) {
	plan := BuildPlan([]domain.Appointment{
		appt(1, "dana", at(16, 45), 60),
	}, nil, Options{Date: day}, now)

	// 16:45 + 60min + 30min buffer passes the 17:00 day end.
	if got := plan.Suggestions[0].Notes; got != "Extends beyond workday; consider another engineer" {
		t.Fatalf("notes = %q", got)
	}
}

func TestBuildPlanAssignsEarliestFreeEngineer(t *testing.T) {
	plan := BuildPlan([]domain.Appointment{
		appt(1, "dana", at(9, 0), 120),
		appt(2, "", at(9, 30), 30),
	}, nil, Options{Date: day, Engineers: []string{"dana", "lee"}}, now)

	second := plan.Suggestions[1]
	if second.RecommendedEngineer != "lee" {
		t.Fatalf("recommended = %q, want lee", second.RecommendedEngineer)
	}
	if second.AssignedEngineer != "" {
		t.Fatalf("assigned = %q, want empty", second.AssignedEngineer)
	}
	if plan.Reassignments != 1 {
		t.Fatalf("reassignments = %d, want 1", plan.Reassignments)
	}
}

func TestBuildPlanUnassignedWithoutRoster(t *testing.T) {
	plan := BuildPlan([]domain.Appointment{
		appt(1, "", at(9, 0), 30),
	}, nil, Options{Date: day}, now)

	if got := plan.Suggestions[0].RecommendedEngineer; got != "Unassigned" {
		t.Fatalf("recommended = %q, want Unassigned", got)
	}
	if plan.Reassignments != 1 {
		t.Fatalf("reassignments = %d, want 1", plan.Reassignments)
	}
}

func TestBuildPlanSkipsOtherDaysAndStatuses(t *testing.T) {
	cancelled := appt(2, "dana", at(10, 0), 30)
	cancelled.Status = "cancelled"
	plan := BuildPlan([]domain.Appointment{
		appt(1, "dana", at(9, 0), 30),
		cancelled,
		appt(3, "dana", time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC), 30),
	}, nil, Options{Date: day}, now)

	if plan.AppointmentsConsidered != 1 {
		t.Fatalf("considered = %d, want 1", plan.AppointmentsConsidered)
	}
}

func TestBuildPlanCustomWorkdayAndBuffer(t *testing.T) {
	plan := BuildPlan([]domain.Appointment{
		appt(1, "dana", at(9, 0), 60),
		appt(2, "dana", at(9, 0), 60),
	}, nil, Options{Date: day, WorkdayMinutes: 120, TravelBufferMinutes: 15}, now)

	second := plan.Suggestions[1]
	if !second.OptimizedStart.Equal(at(10, 15)) {
		t.Fatalf("second start = %v, want 10:15", second.OptimizedStart)
	}
	// 10:15 + 60min + 15min buffer passes the 11:00 day end.
	if second.Notes != "Extends beyond workday; consider another engineer" {
		t.Fatalf("notes = %q", second.Notes)
	}
}
