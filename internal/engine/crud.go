package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk/internal/domain"
	"opsdesk/internal/events"
	"opsdesk/internal/forecast"
	"opsdesk/internal/repo"
)

func (e Engine) CreateCompany(ctx context.Context, c domain.Company) (domain.Company, error) {
	if c.Name == "" {
		return domain.Company{}, errors.New("name is required")
	}
	now := e.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c, err := e.Repo.InsertCompany(ctx, c)
	if err != nil {
		return domain.Company{}, err
	}
	err = e.appendEvent(ctx, "company.created", "company", fmt.Sprint(c.ID), events.EventPayload{"name": c.Name})
	return c, err
}

// CompanyUpdateOptions patch a company. Nil fields keep stored values.
type CompanyUpdateOptions struct {
	ID           int64
	Name         *string
	Industry     *string
	Headquarters *string
}

func (e Engine) UpdateCompany(ctx context.Context, opts CompanyUpdateOptions) (domain.Company, error) {
	c, err := e.Repo.GetCompany(ctx, opts.ID)
	if err != nil {
		return domain.Company{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Company{}, errors.New("name is required")
		}
		c.Name = *opts.Name
	}
	if opts.Industry != nil {
		c.Industry = *opts.Industry
	}
	if opts.Headquarters != nil {
		c.Headquarters = *opts.Headquarters
	}
	c.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateCompany(ctx, c); err != nil {
		return domain.Company{}, err
	}
	return c, nil
}

func (e Engine) DeleteCompany(ctx context.Context, id int64) error {
	if err := e.Repo.DeleteCompany(ctx, id); err != nil {
		return err
	}
	return e.appendEvent(ctx, "company.deleted", "company", fmt.Sprint(id), nil)
}

func (e Engine) CreateClient(ctx context.Context, c domain.Client) (domain.Client, error) {
	if c.Name == "" || c.Email == "" {
		return domain.Client{}, errors.New("name and email are required")
	}
	if c.CompanyID != nil {
		if _, err := e.Repo.GetCompany(ctx, *c.CompanyID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Client{}, fmt.Errorf("company %d: %w", *c.CompanyID, err)
			}
			return domain.Client{}, err
		}
	}
	now := e.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c, err := e.Repo.InsertClient(ctx, c)
	if err != nil {
		return domain.Client{}, err
	}
	err = e.appendEvent(ctx, "client.created", "client", fmt.Sprint(c.ID), events.EventPayload{"name": c.Name})
	return c, err
}

// ClientUpdateOptions patch a client. ClearCompany unlinks the company
// and wins over CompanyID.
type ClientUpdateOptions struct {
	ID           int64
	Name         *string
	Email        *string
	Phone        *string
	Address      *string
	CompanyID    *int64
	ClearCompany bool
}

func (e Engine) UpdateClient(ctx context.Context, opts ClientUpdateOptions) (domain.Client, error) {
	c, err := e.Repo.GetClient(ctx, opts.ID)
	if err != nil {
		return domain.Client{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Client{}, errors.New("name is required")
		}
		c.Name = *opts.Name
	}
	if opts.Email != nil {
		if *opts.Email == "" {
			return domain.Client{}, errors.New("email is required")
		}
		c.Email = *opts.Email
	}
	if opts.Phone != nil {
		c.Phone = *opts.Phone
	}
	if opts.Address != nil {
		c.Address = *opts.Address
	}
	if opts.ClearCompany {
		c.CompanyID = nil
	} else if opts.CompanyID != nil {
		if _, err := e.Repo.GetCompany(ctx, *opts.CompanyID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Client{}, fmt.Errorf("company %d: %w", *opts.CompanyID, err)
			}
			return domain.Client{}, err
		}
		c.CompanyID = opts.CompanyID
	}
	c.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateClient(ctx, c); err != nil {
		return domain.Client{}, err
	}
	err = e.appendEvent(ctx, "client.updated", "client", fmt.Sprint(c.ID), nil)
	return c, err
}

func (e Engine) DeleteClient(ctx context.Context, id int64) error {
	if err := e.Repo.DeleteClient(ctx, id); err != nil {
		return err
	}
	return e.appendEvent(ctx, "client.deleted", "client", fmt.Sprint(id), nil)
}

// AddClientNote records a note and counts as account activity: the
// client's updated_at moves with it, which feeds the churn staleness
// term.
func (e Engine) AddClientNote(ctx context.Context, n domain.ClientNote) (domain.ClientNote, error) {
	if err := e.Repo.EnsureClient(ctx, n.ClientID); err != nil {
		return domain.ClientNote{}, err
	}
	if n.Author == "" {
		n.Author = "System"
	}
	n.CreatedAt = e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ClientNote{}, err
	}
	defer tx.Rollback()
	n, err = e.Repo.InsertClientNoteTx(ctx, tx, n)
	if err != nil {
		return domain.ClientNote{}, err
	}
	if err := e.Repo.TouchClient(ctx, tx, n.ClientID, n.CreatedAt); err != nil {
		return domain.ClientNote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ClientNote{}, err
	}
	return n, nil
}

func (e Engine) CreateAsset(ctx context.Context, a domain.Asset) (domain.Asset, error) {
	if err := e.Repo.EnsureClient(ctx, a.ClientID); err != nil {
		return domain.Asset{}, err
	}
	if a.Name == "" {
		a.Name = "Unnamed asset"
	}
	if a.Status == "" {
		a.Status = "active"
	}
	a.CreatedAt = e.now().UTC()
	return e.Repo.InsertAsset(ctx, a)
}

func (e Engine) CreateContract(ctx context.Context, c domain.ServiceContract) (domain.ServiceContract, error) {
	if err := e.Repo.EnsureClient(ctx, c.ClientID); err != nil {
		return domain.ServiceContract{}, err
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return domain.ServiceContract{}, errors.New("invalid contract dates")
	}
	if c.EndDate.Before(c.StartDate) {
		return domain.ServiceContract{}, errors.New("invalid contract dates: end before start")
	}
	if c.Title == "" {
		c.Title = "Service Contract"
	}
	c.CreatedAt = e.now().UTC()
	return e.Repo.InsertContract(ctx, c)
}

func (e Engine) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	if err := e.Repo.EnsureClient(ctx, t.ClientID); err != nil {
		return domain.Ticket{}, err
	}
	if t.Subject == "" {
		return domain.Ticket{}, errors.New("subject is required")
	}
	if t.Priority == "" {
		t.Priority = "normal"
	}
	if t.Status == "" {
		t.Status = "open"
	}
	now := e.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t, err := e.Repo.InsertTicket(ctx, t)
	if err != nil {
		return domain.Ticket{}, err
	}
	err = e.appendEvent(ctx, "ticket.created", "ticket", fmt.Sprint(t.ID), events.EventPayload{
		"client_id": t.ClientID, "priority": t.Priority, "subject": t.Subject,
	})
	return t, err
}

// TicketUpdateOptions patch a ticket.
type TicketUpdateOptions struct {
	ID           int64
	Subject      *string
	Description  *string
	Priority     *string
	Status       *string
	AssignedTo   *string
	DueDate      *time.Time
	ClearDueDate bool
}

func (e Engine) UpdateTicket(ctx context.Context, opts TicketUpdateOptions) (domain.Ticket, error) {
	t, err := e.Repo.GetTicket(ctx, opts.ID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if opts.Subject != nil {
		if *opts.Subject == "" {
			return domain.Ticket{}, errors.New("subject is required")
		}
		t.Subject = *opts.Subject
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		t.Priority = strings.ToLower(*opts.Priority)
	}
	if opts.Status != nil {
		t.Status = strings.ToLower(*opts.Status)
	}
	if opts.AssignedTo != nil {
		t.AssignedTo = *opts.AssignedTo
	}
	if opts.ClearDueDate {
		t.DueDate = nil
	} else if opts.DueDate != nil {
		t.DueDate = opts.DueDate
	}
	t.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateTicket(ctx, t); err != nil {
		return domain.Ticket{}, err
	}
	err = e.appendEvent(ctx, "ticket.updated", "ticket", fmt.Sprint(t.ID), events.EventPayload{
		"status": t.Status, "priority": t.Priority,
	})
	return t, err
}

func (e Engine) AddTicketNote(ctx context.Context, n domain.TicketNote) (domain.TicketNote, error) {
	if _, err := e.Repo.GetTicket(ctx, n.TicketID); err != nil {
		return domain.TicketNote{}, err
	}
	if n.Author == "" {
		n.Author = "Technician"
	}
	n.CreatedAt = e.now().UTC()
	return e.Repo.InsertTicketNote(ctx, n)
}

func (e Engine) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if t.ClientID != nil {
		if err := e.Repo.EnsureClient(ctx, *t.ClientID); err != nil {
			return domain.Task{}, err
		}
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	if t.Priority == "" {
		t.Priority = "normal"
	}
	now := e.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t, err := e.Repo.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	err = e.appendEvent(ctx, "task.created", "task", fmt.Sprint(t.ID), events.EventPayload{
		"title": t.Title, "assigned_to": t.AssignedTo,
	})
	return t, err
}

// TaskUpdateOptions patch a task.
type TaskUpdateOptions struct {
	ID           int64
	Title        *string
	Description  *string
	Status       *string
	Priority     *string
	AssignedTo   *string
	DueDate      *time.Time
	ClearDueDate bool
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Task{}, errors.New("title is required")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != nil {
		t.Status = strings.ToLower(*opts.Status)
	}
	if opts.Priority != nil {
		t.Priority = strings.ToLower(*opts.Priority)
	}
	if opts.AssignedTo != nil {
		t.AssignedTo = *opts.AssignedTo
	}
	if opts.ClearDueDate {
		t.DueDate = nil
	} else if opts.DueDate != nil {
		t.DueDate = opts.DueDate
	}
	t.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// CompleteTask marks a task completed and stamps the completion time.
func (e Engine) CompleteTask(ctx context.Context, id int64) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC()
	t.Status = "completed"
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	err = e.appendEvent(ctx, "task.completed", "task", fmt.Sprint(t.ID), events.EventPayload{
		"assigned_to": t.AssignedTo,
	})
	return t, err
}

func (e Engine) DeleteTask(ctx context.Context, id int64) error {
	return e.Repo.DeleteTask(ctx, id)
}

var allowedAppointmentStatuses = map[string]bool{
	"scheduled": true,
	"completed": true,
	"cancelled": true,
}

func normalizeAppointmentStatus(status string) (string, error) {
	if status == "" {
		return "scheduled", nil
	}
	s := strings.ToLower(status)
	if !allowedAppointmentStatuses[s] {
		return "", errors.New("invalid appointment status; use one of: scheduled, completed, cancelled")
	}
	return s, nil
}

func (e Engine) CreateAppointment(ctx context.Context, a domain.Appointment) (domain.Appointment, error) {
	if err := e.Repo.EnsureClient(ctx, a.ClientID); err != nil {
		return domain.Appointment{}, err
	}
	if a.Title == "" {
		return domain.Appointment{}, errors.New("title is required")
	}
	if a.StartTime.IsZero() {
		return domain.Appointment{}, errors.New("start_time is required")
	}
	status, err := normalizeAppointmentStatus(a.Status)
	if err != nil {
		return domain.Appointment{}, err
	}
	a.Status = status
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = 60
	}
	now := e.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a, err = e.Repo.InsertAppointment(ctx, a)
	if err != nil {
		return domain.Appointment{}, err
	}
	err = e.appendEvent(ctx, "appointment.created", "appointment", fmt.Sprint(a.ID), events.EventPayload{
		"client_id": a.ClientID, "start_time": a.StartTime.Format(time.RFC3339), "assigned_to": a.AssignedTo,
	})
	return a, err
}

// AppointmentUpdateOptions patch an appointment.
type AppointmentUpdateOptions struct {
	ID              int64
	Title           *string
	Description     *string
	StartTime       *time.Time
	DurationMinutes *int
	Status          *string
	AssignedTo      *string
	Location        *string
	Notes           *string
}

func (e Engine) UpdateAppointment(ctx context.Context, opts AppointmentUpdateOptions) (domain.Appointment, error) {
	a, err := e.Repo.GetAppointment(ctx, opts.ID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Appointment{}, errors.New("title is required")
		}
		a.Title = *opts.Title
	}
	if opts.Description != nil {
		a.Description = *opts.Description
	}
	if opts.StartTime != nil {
		a.StartTime = opts.StartTime.UTC()
	}
	if opts.DurationMinutes != nil {
		if *opts.DurationMinutes <= 0 {
			return domain.Appointment{}, errors.New("invalid duration_minutes")
		}
		a.DurationMinutes = *opts.DurationMinutes
	}
	if opts.Status != nil {
		status, err := normalizeAppointmentStatus(*opts.Status)
		if err != nil {
			return domain.Appointment{}, err
		}
		a.Status = status
	}
	if opts.AssignedTo != nil {
		a.AssignedTo = *opts.AssignedTo
	}
	if opts.Location != nil {
		a.Location = *opts.Location
	}
	if opts.Notes != nil {
		a.Notes = *opts.Notes
	}
	a.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateAppointment(ctx, a); err != nil {
		return domain.Appointment{}, err
	}
	err = e.appendEvent(ctx, "appointment.updated", "appointment", fmt.Sprint(a.ID), events.EventPayload{
		"status": a.Status,
	})
	return a, err
}

func (e Engine) DeleteAppointment(ctx context.Context, id int64) error {
	return e.Repo.DeleteAppointment(ctx, id)
}

// OverviewMetrics summarize one client's book of work.
type OverviewMetrics struct {
	TotalAssets             int                         `json:"total_assets"`
	ActiveContracts         int                         `json:"active_contracts"`
	OpenTickets             int                         `json:"open_tickets"`
	HighPriorityOpenTickets int                         `json:"high_priority_open_tickets"`
	OpenTasks               int                         `json:"open_tasks"`
	CompletedTasks          int                         `json:"completed_tasks"`
	UpcomingAppointments    int                         `json:"upcoming_appointments"`
	CompletedAppointments   int                         `json:"completed_appointments"`
	OpenMonitoringIncidents int                         `json:"open_monitoring_incidents"`
	RecentIncidents         []domain.MonitoringIncident `json:"recent_incidents"`
}

// PredictiveInsights attach the risk scores to a client overview.
type PredictiveInsights struct {
	ChurnProbability float64                 `json:"churn_probability"`
	ChurnLevel       string                  `json:"churn_level" enum:"low,medium,high"`
	EngineerLoad     []forecast.EngineerLoad `json:"engineer_load"`
}

type ClientOverview struct {
	Client          domain.Client        `json:"client"`
	Notes           []domain.ClientNote  `json:"notes"`
	NextAppointment *domain.Appointment  `json:"next_appointment,omitempty"`
	Tickets         []domain.Ticket      `json:"tickets"`
	Tasks           []domain.Task        `json:"tasks"`
	Appointments    []domain.Appointment `json:"appointments"`
	Metrics         OverviewMetrics      `json:"metrics"`
	Insights        PredictiveInsights   `json:"predictive_insights"`
}

func (e Engine) GetClientOverview(ctx context.Context, clientID int64) (ClientOverview, error) {
	now := e.now().UTC()
	client, err := e.Repo.GetClient(ctx, clientID)
	if err != nil {
		return ClientOverview{}, err
	}
	notes, err := e.Repo.ListClientNotes(ctx, clientID)
	if err != nil {
		return ClientOverview{}, err
	}
	assets, err := e.Repo.ListAssets(ctx, clientID)
	if err != nil {
		return ClientOverview{}, err
	}
	contracts, err := e.Repo.ListContracts(ctx, clientID)
	if err != nil {
		return ClientOverview{}, err
	}
	tickets, err := e.Repo.ListTickets(ctx, repo.TicketFilters{ClientID: clientID})
	if err != nil {
		return ClientOverview{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ClientID: clientID})
	if err != nil {
		return ClientOverview{}, err
	}
	appts, err := e.Repo.ListAppointments(ctx, repo.AppointmentFilters{ClientID: clientID})
	if err != nil {
		return ClientOverview{}, err
	}
	incidents, err := e.Repo.ListIncidents(ctx, repo.IncidentFilters{ClientID: clientID})
	if err != nil {
		return ClientOverview{}, err
	}

	ov := ClientOverview{
		Client:       client,
		Notes:        notes,
		Tickets:      tickets,
		Tasks:        tasks,
		Appointments: appts,
	}

	m := &ov.Metrics
	m.TotalAssets = len(assets)
	for _, c := range contracts {
		if c.Active(now) {
			m.ActiveContracts++
		}
	}
	for _, t := range tickets {
		if t.Status != "open" {
			continue
		}
		m.OpenTickets++
		if t.Priority == "high" {
			m.HighPriorityOpenTickets++
		}
	}
	for _, t := range tasks {
		if t.Status == "completed" {
			m.CompletedTasks++
		} else {
			m.OpenTasks++
		}
	}
	for _, a := range appts {
		switch {
		case a.Status == "completed":
			m.CompletedAppointments++
		case a.Status == "scheduled" && !a.StartTime.Before(now):
			m.UpcomingAppointments++
			if ov.NextAppointment == nil || a.StartTime.Before(ov.NextAppointment.StartTime) {
				next := a
				ov.NextAppointment = &next
			}
		}
	}
	for _, inc := range incidents {
		if inc.Status != "resolved" {
			m.OpenMonitoringIncidents++
		}
	}
	// incidents come back newest first
	if len(incidents) > 5 {
		m.RecentIncidents = incidents[:5]
	} else {
		m.RecentIncidents = incidents
	}

	assessment := forecast.AssessChurn(client, tickets, tasks, appts, incidents, now)
	workday := forecast.DefaultWorkdayMinutes
	if e.Config != nil && e.Config.Schedule.WorkdayMinutes > 0 {
		workday = e.Config.Schedule.WorkdayMinutes
	}
	ov.Insights = PredictiveInsights{
		ChurnProbability: assessment.ChurnProbability,
		ChurnLevel:       assessment.ChurnLevel,
		EngineerLoad:     forecast.EngineerLoads(tasks, appts, workday),
	}
	return ov, nil
}
