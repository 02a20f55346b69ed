package domain

import "time"

// IncidentSource is the fixed source tag for the wired monitoring
// integration. The pair (Source, ExternalID) is the dedup key and is
// unique per incident.
const IncidentSource = "zabbix"

type Company struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Industry     string    `json:"industry,omitempty"`
	Headquarters string    `json:"headquarters,omitempty"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time `json:"updated_at" format:"date-time"`
}

type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CompanyID *int64    `json:"company_id,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

type ClientNote struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Asset struct {
	ID           int64     `json:"id"`
	ClientID     int64     `json:"client_id"`
	Name         string    `json:"name"`
	SerialNumber string    `json:"serial_number,omitempty"`
	AssetType    string    `json:"asset_type,omitempty"`
	Status       string    `json:"status"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
}

type ServiceContract struct {
	ID           int64     `json:"id"`
	ClientID     int64     `json:"client_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	SupportLevel string    `json:"support_level,omitempty"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
}

// Active reports whether the contract covers the given day.
func (c ServiceContract) Active(today time.Time) bool {
	day := dateOf(today)
	return !day.Before(dateOf(c.StartDate)) && !day.After(dateOf(c.EndDate))
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type Ticket struct {
	ID          int64      `json:"id"`
	ClientID    int64      `json:"client_id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority" enum:"low,normal,high"`
	Status      string     `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time  `json:"updated_at" format:"date-time"`
}

type TicketNote struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          int64      `json:"id"`
	ClientID    *int64     `json:"client_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority" enum:"low,normal,high"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time  `json:"updated_at" format:"date-time"`
}

type Appointment struct {
	ID              int64     `json:"id"`
	ClientID        int64     `json:"client_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	StartTime       time.Time `json:"start_time" format:"date-time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status" enum:"scheduled,completed,cancelled"`
	AssignedTo      string    `json:"assigned_to,omitempty"`
	Location        string    `json:"location,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at" format:"date-time"`
	UpdatedAt       time.Time `json:"updated_at" format:"date-time"`
}

// EndTime is derived from start time and duration; it is never stored.
func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type MonitoringIncident struct {
	ID         int64     `json:"id"`
	ClientID   int64     `json:"client_id"`
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at" format:"date-time"`
	TicketID   *int64    `json:"ticket_id,omitempty"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
	UpdatedAt  time.Time `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
