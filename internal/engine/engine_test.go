package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/migrate"
	"opsdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Client domain.Client
}

var testNow = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("opsdesk-test")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	ctx := context.Background()
	client, err := eng.CreateClient(ctx, domain.Client{Name: "Acme Industrial", Email: "ops@acme.test"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Client: client}
}

func TestIngestCreatesIncidentAndTicket(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID:  "evt-100",
		ClientID: env.Client.ID,
		Severity: "disaster",
		Message:  "Core switch unreachable",
		Problem:  "Switch down",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Created {
		t.Fatal("expected created")
	}
	if res.Incident.Source != "zabbix" || res.Incident.ExternalID != "evt-100" {
		t.Fatalf("incident key = %s/%s", res.Incident.Source, res.Incident.ExternalID)
	}
	if res.Incident.Status != "open" {
		t.Fatalf("status = %q", res.Incident.Status)
	}
	if res.Ticket == nil {
		t.Fatal("expected linked ticket")
	}
	if res.Ticket.Priority != "high" {
		t.Fatalf("priority = %q, want high", res.Ticket.Priority)
	}
	if res.Ticket.Subject != "[Zabbix] Switch down" {
		t.Fatalf("subject = %q", res.Ticket.Subject)
	}
	if res.Ticket.AssignedTo != "Monitoring" {
		t.Fatalf("assigned_to = %q", res.Ticket.AssignedTo)
	}
	if res.Ticket.DueDate == nil || !res.Ticket.DueDate.Equal(testNow.AddDate(0, 0, 1)) {
		t.Fatalf("due date = %v, want next day", res.Ticket.DueDate)
	}
	if res.Incident.TicketID == nil || *res.Incident.TicketID != res.Ticket.ID {
		t.Fatalf("ticket link = %v", res.Incident.TicketID)
	}
}

func TestIngestIsIdempotentPerKey(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-7", ClientID: env.Client.ID, Severity: "warning", Message: "Disk 80%",
	})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-7", ClientID: env.Client.ID, Severity: "average", Message: "Disk 85%",
	})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Created {
		t.Fatal("repeat event must not create")
	}
	if second.Incident.ID != first.Incident.ID {
		t.Fatalf("incident id changed: %d -> %d", first.Incident.ID, second.Incident.ID)
	}
	if second.Incident.Severity != "average" || second.Incident.Message != "Disk 85%" {
		t.Fatalf("incident not updated: %+v", second.Incident)
	}
	tickets, err := env.Engine.Repo.ListTickets(env.Ctx, repo.TicketFilters{ClientID: env.Client.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 1 {
		t.Fatalf("tickets = %d, want 1", len(tickets))
	}
}

func TestIngestResolvedClosesLinkedTicket(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-9", ClientID: env.Client.ID, Severity: "high", Message: "Service flapping",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-9", ClientID: env.Client.ID, Severity: "high", Message: "Service recovered", Status: "OK",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Incident.Status != "ok" {
		t.Fatalf("status = %q, want ok", res.Incident.Status)
	}
	ticket, err := env.Engine.Repo.GetTicket(env.Ctx, *first.Incident.TicketID)
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Status != "resolved" {
		t.Fatalf("ticket status = %q, want resolved", ticket.Status)
	}
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		ClientID: env.Client.ID, Severity: "high", Message: "m",
	})
	if err == nil {
		t.Fatal("expected error for missing event_id")
	}
	_, err = env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-1", ClientID: 999, Severity: "high", Message: "m",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown client: got %v", err)
	}
}

func TestUpdateIncidentRelinksTicket(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-20", ClientID: env.Client.ID, Severity: "information", Message: "Info only",
	})
	if err != nil {
		t.Fatal(err)
	}
	other, err := env.Engine.CreateTicket(env.Ctx, domain.Ticket{ClientID: env.Client.ID, Subject: "Manual follow-up"})
	if err != nil {
		t.Fatal(err)
	}
	status := "acknowledged"
	updated, err := env.Engine.UpdateIncident(env.Ctx, engine.IncidentUpdateOptions{
		ID: res.Incident.ID, Status: &status, TicketID: &other.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Incident.Status != "acknowledged" {
		t.Fatalf("status = %q", updated.Incident.Status)
	}
	if updated.Incident.TicketID == nil || *updated.Incident.TicketID != other.ID {
		t.Fatalf("ticket link = %v, want %d", updated.Incident.TicketID, other.ID)
	}

	cleared, err := env.Engine.UpdateIncident(env.Ctx, engine.IncidentUpdateOptions{
		ID: res.Incident.ID, ClearTicket: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cleared.Incident.TicketID != nil {
		t.Fatalf("ticket link not cleared: %v", cleared.Incident.TicketID)
	}

	bogus := int64(4242)
	_, err = env.Engine.UpdateIncident(env.Ctx, engine.IncidentUpdateOptions{ID: res.Incident.ID, TicketID: &bogus})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bogus ticket: got %v", err)
	}
}

func TestCompleteTask(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, domain.Task{Title: "Replace UPS battery", AssignedTo: "dana"})
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.CompleteTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != "completed" {
		t.Fatalf("status = %q", done.Status)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(testNow) {
		t.Fatalf("completed_at = %v", done.CompletedAt)
	}
}

func TestOptimizeScheduleUsesConfiguredRoster(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Schedule.Engineers = []string{"dana", "lee"}
	start := time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)
	if _, err := env.Engine.CreateAppointment(env.Ctx, domain.Appointment{
		ClientID: env.Client.ID, Title: "Rack install", StartTime: start, DurationMinutes: 120, AssignedTo: "dana",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateAppointment(env.Ctx, domain.Appointment{
		ClientID: env.Client.ID, Title: "Firewall swap", StartTime: start.Add(30 * time.Minute), DurationMinutes: 60,
	}); err != nil {
		t.Fatal(err)
	}

	plan, err := env.Engine.OptimizeSchedule(env.Ctx, engine.OptimizeOptions{Date: start})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if plan.AppointmentsConsidered != 2 {
		t.Fatalf("considered = %d", plan.AppointmentsConsidered)
	}
	if plan.Reassignments != 1 {
		t.Fatalf("reassignments = %d", plan.Reassignments)
	}
	if got := plan.Suggestions[1].RecommendedEngineer; got != "lee" {
		t.Fatalf("recommended = %q, want lee", got)
	}
	if got := plan.Suggestions[0].Client; got != "Acme Industrial" {
		t.Fatalf("client = %q", got)
	}
}

func TestForecastsReport(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.CreateTicket(env.Ctx, domain.Ticket{ClientID: env.Client.ID, Subject: "Issue"}); err != nil {
			t.Fatal(err)
		}
	}
	high := "high"
	tk, err := env.Engine.Repo.ListTickets(env.Ctx, repo.TicketFilters{ClientID: env.Client.ID, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: tk[0].ID, Priority: &high}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{Title: "Patch servers", ClientID: &env.Client.ID, AssignedTo: "dana"}); err != nil {
		t.Fatal(err)
	}

	report, err := env.Engine.Forecasts(env.Ctx)
	if err != nil {
		t.Fatalf("forecasts: %v", err)
	}
	if report.Summary.TotalClients != 1 {
		t.Fatalf("total clients = %d", report.Summary.TotalClients)
	}
	if len(report.ClientChurn) != 1 {
		t.Fatalf("churn rows = %d", len(report.ClientChurn))
	}
	churn := report.ClientChurn[0]
	// 0.05 base + 3 open tickets + 1 high priority, client touched today.
	if churn.ChurnProbability != 0.30 || churn.ChurnLevel != "low" {
		t.Fatalf("churn = %v %q", churn.ChurnProbability, churn.ChurnLevel)
	}
	if churn.OpenTickets != 3 || churn.OpenHighPriorityTickets != 1 {
		t.Fatalf("counts = %d/%d", churn.OpenTickets, churn.OpenHighPriorityTickets)
	}
	if len(report.EngineerLoad) != 1 || report.EngineerLoad[0].Engineer != "dana" {
		t.Fatalf("engineer load = %+v", report.EngineerLoad)
	}
	if report.EngineerLoad[0].Status != "underutilised" {
		t.Fatalf("load status = %q", report.EngineerLoad[0].Status)
	}
}

func TestClientOverview(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddClientNote(env.Ctx, domain.ClientNote{ClientID: env.Client.ID, Body: "On-site visit went well"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateAsset(env.Ctx, domain.Asset{ClientID: env.Client.ID, Name: "Edge router"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateContract(env.Ctx, domain.ServiceContract{
		ClientID:  env.Client.ID,
		Title:     "Gold support",
		StartDate: testNow.AddDate(0, -1, 0),
		EndDate:   testNow.AddDate(1, 0, 0),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-50", ClientID: env.Client.ID, Severity: "warning", Message: "Link degraded",
	}); err != nil {
		t.Fatal(err)
	}
	upcoming := testNow.Add(48 * time.Hour)
	if _, err := env.Engine.CreateAppointment(env.Ctx, domain.Appointment{
		ClientID: env.Client.ID, Title: "Quarterly review", StartTime: upcoming, DurationMinutes: 60, AssignedTo: "dana",
	}); err != nil {
		t.Fatal(err)
	}

	ov, err := env.Engine.GetClientOverview(env.Ctx, env.Client.ID)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.Metrics.TotalAssets != 1 || ov.Metrics.ActiveContracts != 1 {
		t.Fatalf("metrics = %+v", ov.Metrics)
	}
	if ov.Metrics.OpenTickets != 1 || ov.Metrics.OpenMonitoringIncidents != 1 {
		t.Fatalf("metrics = %+v", ov.Metrics)
	}
	if ov.Metrics.UpcomingAppointments != 1 {
		t.Fatalf("upcoming = %d", ov.Metrics.UpcomingAppointments)
	}
	if ov.NextAppointment == nil || !ov.NextAppointment.StartTime.Equal(upcoming) {
		t.Fatalf("next appointment = %+v", ov.NextAppointment)
	}
	if len(ov.Notes) != 1 {
		t.Fatalf("notes = %d", len(ov.Notes))
	}
	if ov.Insights.ChurnLevel == "" {
		t.Fatal("missing churn insight")
	}
}

func TestDashboardCounts(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-60", ClientID: env.Client.ID, Severity: "disaster", Message: "Power loss",
	}); err != nil {
		t.Fatal(err)
	}
	counts, err := env.Engine.Dashboard(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.TotalClients != 1 {
		t.Fatalf("clients = %d", counts.TotalClients)
	}
	if counts.OpenTickets != 1 || counts.HighPriorityTickets != 1 {
		t.Fatalf("tickets = %d/%d", counts.OpenTickets, counts.HighPriorityTickets)
	}
	if counts.OpenMonitoringIncidents != 1 {
		t.Fatalf("incidents = %d", counts.OpenMonitoringIncidents)
	}
}

func TestEventLogRecordsIngest(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
		EventID: "evt-70", ClientID: env.Client.ID, Severity: "warning", Message: "CPU high",
	}); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "incident.ingested", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("events = %d, want 1", len(evts))
	}
}

func TestOptimizeScheduleRejectsNegativeDurations(t *testing.T) {
	env := newTestEnv(t)
	date := time.Date(2024, 5, 21, 0, 0, 0, 0, time.UTC)

	_, err := env.Engine.OptimizeSchedule(env.Ctx, engine.OptimizeOptions{Date: date, TravelBufferMinutes: -45})
	if err == nil || !strings.Contains(err.Error(), "invalid travel_buffer_minutes") {
		t.Fatalf("negative buffer: got %v", err)
	}
	_, err = env.Engine.OptimizeSchedule(env.Ctx, engine.OptimizeOptions{Date: date, WorkdayMinutes: -1})
	if err == nil || !strings.Contains(err.Error(), "invalid workday_minutes") {
		t.Fatalf("negative workday: got %v", err)
	}
	// Zero still means "use the configured default".
	if _, err := env.Engine.OptimizeSchedule(env.Ctx, engine.OptimizeOptions{Date: date}); err != nil {
		t.Fatalf("zero durations: %v", err)
	}
}

func TestConcurrentIngestConvergesToOneTicket(t *testing.T) {
	env := newTestEnv(t)
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.IngestIncident(env.Ctx, engine.IngestOptions{
				EventID:  "evt-race",
				ClientID: env.Client.ID,
				Severity: "high",
				Message:  "Disk array degraded",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	incidents, err := env.Engine.Repo.ListIncidents(env.Ctx, repo.IncidentFilters{ClientID: env.Client.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	tickets, err := env.Engine.Repo.ListTickets(env.Ctx, repo.TicketFilters{ClientID: env.Client.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 1 {
		t.Fatalf("tickets = %d, want 1", len(tickets))
	}
}

func TestAddClientNoteTouchesClient(t *testing.T) {
	env := newTestEnv(t)
	later := testNow.Add(48 * time.Hour)
	env.Engine.Now = func() time.Time { return later }

	if _, err := env.Engine.AddClientNote(env.Ctx, domain.ClientNote{
		ClientID: env.Client.ID, Body: "Renewal call scheduled",
	}); err != nil {
		t.Fatalf("add note: %v", err)
	}
	got, err := env.Engine.Repo.GetClient(env.Ctx, env.Client.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, later)
	}
}
