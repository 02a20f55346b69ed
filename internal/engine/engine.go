package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/escalate"
	"opsdesk/internal/events"
	"opsdesk/internal/forecast"
	"opsdesk/internal/repo"
	"opsdesk/internal/schedule"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// ErrConflict marks a write that lost to a concurrent one.
var ErrConflict = errors.New("conflict")

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// appendEvent records a standalone event for a mutation that already
// committed through the repo.
func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) incidentSource() string {
	if e.Config != nil && e.Config.Monitoring.Source != "" {
		return e.Config.Monitoring.Source
	}
	return domain.IncidentSource
}

func (e Engine) defaultAssignee() string {
	if e.Config != nil && e.Config.Monitoring.DefaultAssignee != "" {
		return e.Config.Monitoring.DefaultAssignee
	}
	return "Monitoring"
}

// IngestOptions carries one monitoring event from the wire.
type IngestOptions struct {
	EventID    string
	ClientID   int64
	Severity   string
	Message    string
	Problem    string
	Status     string
	AssignedTo string
	OccurredAt *time.Time
}

// IngestResult is the outcome of processing a monitoring event.
type IngestResult struct {
	Incident domain.MonitoringIncident
	Ticket   *domain.Ticket
	Created  bool
}

var errDuplicateKey = errors.New("duplicate incident key")

// IngestIncident applies a monitoring event. The first event for a
// (source, external_id) pair opens an incident and a ticket; repeats
// update the incident in place. Two racing creates for the same key
// converge: the loser retries and lands on the update path.
func (e Engine) IngestIncident(ctx context.Context, opts IngestOptions) (IngestResult, error) {
	if opts.EventID == "" {
		return IngestResult{}, errors.New("event_id is required")
	}
	if opts.ClientID == 0 {
		return IngestResult{}, errors.New("client_id is required")
	}
	if opts.Severity == "" {
		return IngestResult{}, errors.New("severity is required")
	}
	if opts.Message == "" {
		return IngestResult{}, errors.New("message is required")
	}
	if _, err := e.Repo.GetClient(ctx, opts.ClientID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return IngestResult{}, fmt.Errorf("client %d: %w", opts.ClientID, err)
		}
		return IngestResult{}, err
	}
	opts.Severity = strings.ToLower(opts.Severity)
	opts.Status = strings.ToLower(opts.Status)

	for attempt := 0; attempt < 2; attempt++ {
		res, err := e.ingestOnce(ctx, opts)
		if errors.Is(err, errDuplicateKey) {
			continue
		}
		return res, err
	}
	return IngestResult{}, fmt.Errorf("incident %s/%s: %w", e.incidentSource(), opts.EventID, ErrConflict)
}

func (e Engine) ingestOnce(ctx context.Context, opts IngestOptions) (IngestResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, err
	}
	defer tx.Rollback()

	source := e.incidentSource()
	existing, err := e.Repo.FindIncidentByKey(ctx, tx, source, opts.EventID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return IngestResult{}, err
	}
	if err == nil {
		res, err := e.updateExisting(ctx, tx, existing, opts)
		if err != nil {
			return IngestResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return IngestResult{}, err
		}
		res.Ticket = e.ticketFor(ctx, res.Incident.TicketID)
		return res, nil
	}

	res, err := e.createIncident(ctx, tx, opts)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return IngestResult{}, errDuplicateKey
		}
		return IngestResult{}, err
	}
	return res, tx.Commit()
}

// updateExisting is the repeat-event path. The stored client and
// occurrence time are authoritative; only severity, message and status
// move.
func (e Engine) updateExisting(ctx context.Context, tx *sql.Tx, inc domain.MonitoringIncident, opts IngestOptions) (IngestResult, error) {
	now := e.now().UTC()
	if opts.Status != "" {
		inc.Status = opts.Status
		if inc.TicketID != nil && (opts.Status == "resolved" || opts.Status == "ok") {
			if err := e.Repo.UpdateTicketStatusTx(ctx, tx, *inc.TicketID, "resolved", now.Format(time.RFC3339)); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return IngestResult{}, err
			}
		}
	}
	inc.Severity = opts.Severity
	inc.Message = opts.Message
	inc.UpdatedAt = now
	if err := e.Repo.UpdateIncidentTx(ctx, tx, inc); err != nil {
		return IngestResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "incident.updated", "incident", fmt.Sprint(inc.ID), events.EventPayload{
		"source": inc.Source, "external_id": inc.ExternalID, "status": inc.Status, "severity": inc.Severity,
	}); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Incident: inc}, nil
}

func (e Engine) createIncident(ctx context.Context, tx *sql.Tx, opts IngestOptions) (IngestResult, error) {
	now := e.now().UTC()
	priority := escalate.PriorityForSeverity(opts.Severity)

	subject := opts.Problem
	if subject == "" {
		subject = fmt.Sprintf("Zabbix incident %s", opts.EventID)
	}
	assignee := opts.AssignedTo
	if assignee == "" {
		assignee = e.defaultAssignee()
	}
	ticket := domain.Ticket{
		ClientID:    opts.ClientID,
		Subject:     "[Zabbix] " + subject,
		Description: opts.Message,
		Priority:    priority,
		Status:      "open",
		AssignedTo:  assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if priority == escalate.PriorityHigh {
		due := now.AddDate(0, 0, 1)
		ticket.DueDate = &due
	}
	ticket, err := e.Repo.InsertTicketTx(ctx, tx, ticket)
	if err != nil {
		return IngestResult{}, err
	}

	status := opts.Status
	if status == "" {
		status = "open"
	}
	occurredAt := now
	if opts.OccurredAt != nil {
		occurredAt = opts.OccurredAt.UTC()
	}
	inc := domain.MonitoringIncident{
		ClientID:   opts.ClientID,
		Source:     e.incidentSource(),
		ExternalID: opts.EventID,
		Severity:   opts.Severity,
		Message:    opts.Message,
		Status:     status,
		OccurredAt: occurredAt,
		TicketID:   &ticket.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	inc, err = e.Repo.InsertIncidentTx(ctx, tx, inc)
	if err != nil {
		return IngestResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "ticket.created", "ticket", fmt.Sprint(ticket.ID), events.EventPayload{
		"client_id": ticket.ClientID, "priority": ticket.Priority, "subject": ticket.Subject,
	}); err != nil {
		return IngestResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "incident.ingested", "incident", fmt.Sprint(inc.ID), events.EventPayload{
		"source": inc.Source, "external_id": inc.ExternalID, "severity": inc.Severity, "ticket_id": ticket.ID,
	}); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Incident: inc, Ticket: &ticket, Created: true}, nil
}

func (e Engine) ticketFor(ctx context.Context, id *int64) *domain.Ticket {
	if id == nil {
		return nil
	}
	t, err := e.Repo.GetTicket(ctx, *id)
	if err != nil {
		return nil
	}
	return &t
}

// IncidentUpdateOptions patch an incident. Nil fields keep the stored
// value. ClearTicket unlinks the ticket and wins over TicketID.
type IncidentUpdateOptions struct {
	ID          int64
	Status      *string
	Severity    *string
	Message     *string
	TicketID    *int64
	ClearTicket bool
}

func (e Engine) UpdateIncident(ctx context.Context, opts IncidentUpdateOptions) (IngestResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, err
	}
	defer tx.Rollback()

	inc, err := e.Repo.GetIncident(ctx, opts.ID)
	if err != nil {
		return IngestResult{}, err
	}
	if opts.Status != nil {
		inc.Status = strings.ToLower(*opts.Status)
	}
	if opts.Severity != nil {
		inc.Severity = strings.ToLower(*opts.Severity)
	}
	if opts.Message != nil {
		inc.Message = *opts.Message
	}
	if opts.ClearTicket {
		inc.TicketID = nil
	} else if opts.TicketID != nil {
		if _, err := e.Repo.GetTicket(ctx, *opts.TicketID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return IngestResult{}, fmt.Errorf("ticket %d: %w", *opts.TicketID, err)
			}
			return IngestResult{}, err
		}
		inc.TicketID = opts.TicketID
	}
	inc.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateIncidentTx(ctx, tx, inc); err != nil {
		return IngestResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "incident.updated", "incident", fmt.Sprint(inc.ID), events.EventPayload{
		"source": inc.Source, "external_id": inc.ExternalID, "status": inc.Status, "severity": inc.Severity,
	}); err != nil {
		return IngestResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Incident: inc, Ticket: e.ticketFor(ctx, inc.TicketID)}, nil
}

func (e Engine) GetIncident(ctx context.Context, id int64) (IngestResult, error) {
	inc, err := e.Repo.GetIncident(ctx, id)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Incident: inc, Ticket: e.ticketFor(ctx, inc.TicketID)}, nil
}

// OptimizeOptions tune one dispatch-plan run. Zero values fall back to
// the configured roster and timing defaults.
type OptimizeOptions struct {
	Date                time.Time
	TravelBufferMinutes int
	WorkdayMinutes      int
	Engineers           []string
}

func (e Engine) OptimizeSchedule(ctx context.Context, opts OptimizeOptions) (schedule.Plan, error) {
	if opts.Date.IsZero() {
		return schedule.Plan{}, errors.New("date is required")
	}
	if opts.TravelBufferMinutes < 0 {
		return schedule.Plan{}, errors.New("invalid travel_buffer_minutes: must be positive")
	}
	if opts.WorkdayMinutes < 0 {
		return schedule.Plan{}, errors.New("invalid workday_minutes: must be positive")
	}
	if e.Config != nil {
		if opts.WorkdayMinutes == 0 {
			opts.WorkdayMinutes = e.Config.Schedule.WorkdayMinutes
		}
		if opts.TravelBufferMinutes == 0 {
			opts.TravelBufferMinutes = e.Config.Schedule.TravelBufferMinutes
		}
		if len(opts.Engineers) == 0 {
			opts.Engineers = e.Config.Schedule.Engineers
		}
	}

	y, m, d := opts.Date.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 1).Add(-time.Second)
	appts, err := e.Repo.ListAppointments(ctx, repo.AppointmentFilters{Status: "scheduled", From: from, Until: until})
	if err != nil {
		return schedule.Plan{}, err
	}
	clients, err := e.Repo.ListClients(ctx, repo.ClientFilters{})
	if err != nil {
		return schedule.Plan{}, err
	}
	names := make(map[int64]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}

	plan := schedule.BuildPlan(appts, names, schedule.Options{
		Date:                from,
		TravelBufferMinutes: opts.TravelBufferMinutes,
		WorkdayMinutes:      opts.WorkdayMinutes,
		Engineers:           opts.Engineers,
	}, e.now().UTC())

	if err := e.appendEvent(ctx, "schedule.optimized", "schedule", plan.ID, events.EventPayload{
		"date": plan.Date, "appointments_considered": plan.AppointmentsConsidered, "reassignments": plan.Reassignments,
	}); err != nil {
		return schedule.Plan{}, err
	}
	return plan, nil
}

// ForecastSummary is the roll-up block of a forecast report.
type ForecastSummary struct {
	TotalClients    int       `json:"total_clients"`
	HighRiskClients int       `json:"high_risk_clients"`
	GeneratedAt     time.Time `json:"generated_at" format:"date-time"`
}

type ForecastReport struct {
	ClientChurn  []forecast.ChurnAssessment `json:"client_churn"`
	EngineerLoad []forecast.EngineerLoad    `json:"engineer_load"`
	Summary      ForecastSummary            `json:"summary"`
}

func (e Engine) Forecasts(ctx context.Context) (ForecastReport, error) {
	now := e.now().UTC()
	clients, err := e.Repo.ListClients(ctx, repo.ClientFilters{})
	if err != nil {
		return ForecastReport{}, err
	}

	report := ForecastReport{
		ClientChurn: make([]forecast.ChurnAssessment, 0, len(clients)),
		Summary:     ForecastSummary{TotalClients: len(clients), GeneratedAt: now},
	}
	for _, client := range clients {
		tickets, err := e.Repo.ListTickets(ctx, repo.TicketFilters{ClientID: client.ID})
		if err != nil {
			return ForecastReport{}, err
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ClientID: client.ID})
		if err != nil {
			return ForecastReport{}, err
		}
		appts, err := e.Repo.ListAppointments(ctx, repo.AppointmentFilters{ClientID: client.ID})
		if err != nil {
			return ForecastReport{}, err
		}
		incidents, err := e.Repo.ListIncidents(ctx, repo.IncidentFilters{ClientID: client.ID})
		if err != nil {
			return ForecastReport{}, err
		}
		assessment := forecast.AssessChurn(client, tickets, tasks, appts, incidents, now)
		if assessment.ChurnLevel == "high" {
			report.Summary.HighRiskClients++
		}
		report.ClientChurn = append(report.ClientChurn, assessment)
	}

	allTasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return ForecastReport{}, err
	}
	allAppts, err := e.Repo.ListAppointments(ctx, repo.AppointmentFilters{})
	if err != nil {
		return ForecastReport{}, err
	}
	workday := forecast.DefaultWorkdayMinutes
	if e.Config != nil && e.Config.Schedule.WorkdayMinutes > 0 {
		workday = e.Config.Schedule.WorkdayMinutes
	}
	report.EngineerLoad = forecast.EngineerLoads(allTasks, allAppts, workday)
	return report, nil
}

func (e Engine) Dashboard(ctx context.Context) (repo.DashboardCounts, error) {
	return e.Repo.Dashboard(ctx, e.now().UTC())
}
