package forecast

import (
	"math"
	"testing"
	"time"

	"opsdesk/internal/domain"
)

var now = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func openTicket(priority string) domain.Ticket {
	return domain.Ticket{Status: "open", Priority: priority}
}

func TestAssessChurnScenario(t *testing.T) {
	client := domain.Client{ID: 5, Name: "Acme", UpdatedAt: now.AddDate(0, 0, -5)}
	tickets := []domain.Ticket{openTicket("normal"), openTicket("normal"), openTicket("high")}

	got := AssessChurn(client, tickets, nil, nil, nil, now)

	if got.ChurnProbability != 0.30 {
		t.Fatalf("probability = %v, want 0.30", got.ChurnProbability)
	}
	if got.ChurnLevel != "low" {
		t.Fatalf("level = %q, want low", got.ChurnLevel)
	}
	if got.OpenTickets != 3 || got.OpenHighPriorityTickets != 1 {
		t.Fatalf("counts = %d/%d, want 3/1", got.OpenTickets, got.OpenHighPriorityTickets)
	}
	if got.Recommendation != "Maintain regular check-ins" {
		t.Fatalf("recommendation = %q", got.Recommendation)
	}
}

func TestAssessChurnLevels(t *testing.T) {
	client := domain.Client{ID: 1, Name: "Globex", UpdatedAt: now}

	// 3 open tickets and a cancellation: 0.05 + 0.15 + 0.10 + 0.10 = 0.40.
	medium := AssessChurn(client, []domain.Ticket{openTicket("normal"), openTicket("normal"), openTicket("normal")}, nil,
		[]domain.Appointment{{Status: "cancelled"}}, nil, now)
	if medium.ChurnProbability != 0.40 || medium.ChurnLevel != "medium" {
		t.Fatalf("medium case = %v %q", medium.ChurnProbability, medium.ChurnLevel)
	}
	if medium.Recommendation != "Schedule proactive review within two weeks" {
		t.Fatalf("recommendation = %q", medium.Recommendation)
	}

	overdue := now.AddDate(0, 0, -3)
	high := AssessChurn(domain.Client{ID: 2, Name: "Initech", UpdatedAt: now.AddDate(0, 0, -45)},
		[]domain.Ticket{openTicket("high"), openTicket("high"), openTicket("high"), openTicket("high")},
		[]domain.Task{{Status: "pending", DueDate: &overdue}, {Status: "pending", DueDate: &overdue}},
		[]domain.Appointment{{Status: "cancelled"}}, nil, now)
	// 0.05 + 0.20 + 0.30 + 0.16 + 0.10 + 0.05 = 0.86.
	if high.ChurnProbability != 0.86 || high.ChurnLevel != "high" {
		t.Fatalf("high case = %v %q", high.ChurnProbability, high.ChurnLevel)
	}
	if high.Recommendation != "Escalate to account manager for recovery plan" {
		t.Fatalf("recommendation = %q", high.Recommendation)
	}
}

func TestAssessChurnCap(t *testing.T) {
	overdue := now.AddDate(0, 0, -10)
	tickets := make([]domain.Ticket, 0, 12)
	for i := 0; i < 12; i++ {
		tickets = append(tickets, openTicket("high"))
	}
	tasks := make([]domain.Task, 0, 6)
	for i := 0; i < 6; i++ {
		tasks = append(tasks, domain.Task{Status: "pending", DueDate: &overdue})
	}
	got := AssessChurn(domain.Client{ID: 3, UpdatedAt: now.AddDate(0, 0, -60)}, tickets, tasks,
		[]domain.Appointment{{Status: "cancelled"}}, nil, now)
	if got.ChurnProbability != 0.95 {
		t.Fatalf("probability = %v, want cap 0.95", got.ChurnProbability)
	}
	if got.ChurnLevel != "high" {
		t.Fatalf("level = %q, want high", got.ChurnLevel)
	}
}

func TestAssessChurnFloor(t *testing.T) {
	got := AssessChurn(domain.Client{ID: 4, UpdatedAt: now}, nil, nil, nil, nil, now)
	if got.ChurnProbability != 0.05 || got.ChurnLevel != "low" {
		t.Fatalf("empty client = %v %q, want 0.05 low", got.ChurnProbability, got.ChurnLevel)
	}
}

func TestAssessChurnCountsOpenIncidents(t *testing.T) {
	incidents := []domain.MonitoringIncident{
		{Status: "open"}, {Status: "acknowledged"}, {Status: "resolved"},
	}
	got := AssessChurn(domain.Client{ID: 6, UpdatedAt: now}, nil, nil, nil, incidents, now)
	if got.MonitoringIncidents != 2 {
		t.Fatalf("monitoring incidents = %d, want 2", got.MonitoringIncidents)
	}
}

func TestEngineerLoads(t *testing.T) {
	tasks := []domain.Task{
		{Status: "pending", AssignedTo: "dana"},
		{Status: "in_progress", AssignedTo: "dana"},
		{Status: "completed", AssignedTo: "dana"},
		{Status: "pending", AssignedTo: "lee"},
		{Status: "pending"},
	}
	appointments := []domain.Appointment{
		{Status: "scheduled", AssignedTo: "dana", DurationMinutes: 420},
		{Status: "scheduled", AssignedTo: "lee", DurationMinutes: 60},
		{Status: "cancelled", AssignedTo: "lee", DurationMinutes: 240},
	}

	loads := EngineerLoads(tasks, appointments, 480)
	if len(loads) != 2 {
		t.Fatalf("len = %d, want 2", len(loads))
	}
	dana, lee := loads[0], loads[1]
	if dana.Engineer != "dana" || lee.Engineer != "lee" {
		t.Fatalf("order = %q, %q", dana.Engineer, lee.Engineer)
	}

	// dana: 2 open tasks, 420 min. score = 0.10 + 0.875 = 0.975.
	if dana.OpenTasks != 2 || dana.ScheduledMinutes != 420 {
		t.Fatalf("dana = %+v", dana)
	}
	if math.Abs(dana.Utilisation-0.88) > 1e-9 {
		t.Fatalf("dana utilisation = %v, want 0.88", dana.Utilisation)
	}
	if dana.Status != "overloaded" {
		t.Fatalf("dana status = %q, want overloaded", dana.Status)
	}

	// lee: 1 open task, 60 min. score = 0.05 + 0.125 = 0.175.
	if lee.OpenTasks != 1 || lee.ScheduledMinutes != 60 {
		t.Fatalf("lee = %+v", lee)
	}
	if lee.Status != "underutilised" {
		t.Fatalf("lee status = %q, want underutilised", lee.Status)
	}
}

func TestEngineerLoadsUtilisationCap(t *testing.T) {
	loads := EngineerLoads(nil, []domain.Appointment{
		{Status: "scheduled", AssignedTo: "pat", DurationMinutes: 900},
	}, 480)
	if len(loads) != 1 {
		t.Fatalf("len = %d, want 1", len(loads))
	}
	if loads[0].Utilisation != 1.0 || loads[0].Status != "overloaded" {
		t.Fatalf("pat = %+v", loads[0])
	}
}

func TestEngineerLoadsBalanced(t *testing.T) {
	loads := EngineerLoads([]domain.Task{{Status: "pending", AssignedTo: "kim"}}, []domain.Appointment{
		{Status: "scheduled", AssignedTo: "kim", DurationMinutes: 240},
	}, 480)
	// score = 0.05 + 0.5 = 0.55, between the thresholds.
	if loads[0].Status != "balanced" {
		t.Fatalf("kim status = %q, want balanced", loads[0].Status)
	}
}
