package server

import (
	"time"

	"opsdesk/internal/domain"
)

type CreateCompanyRequest struct {
	Name         string `json:"name" example:"Acme Holdings"`
	Industry     string `json:"industry,omitempty"`
	Headquarters string `json:"headquarters,omitempty"`
}

type UpdateCompanyRequest struct {
	Name         *string `json:"name,omitempty"`
	Industry     *string `json:"industry,omitempty"`
	Headquarters *string `json:"headquarters,omitempty"`
}

type CreateClientRequest struct {
	Name      string `json:"name" example:"Acme Industrial"`
	Email     string `json:"email" example:"ops@acme.example"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	CompanyID *int64 `json:"company_id,omitempty"`
}

// UpdateClientRequest patches a client. clear_company unlinks the
// company and wins over company_id.
type UpdateClientRequest struct {
	Name         *string `json:"name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Address      *string `json:"address,omitempty"`
	CompanyID    *int64  `json:"company_id,omitempty"`
	ClearCompany bool    `json:"clear_company,omitempty"`
}

type NoteRequest struct {
	Author string `json:"author,omitempty"`
	Body   string `json:"body"`
}

type CreateAssetRequest struct {
	Name         string `json:"name,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	AssetType    string `json:"asset_type,omitempty"`
	Status       string `json:"status,omitempty"`
	Location     string `json:"location,omitempty"`
}

type CreateContractRequest struct {
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	StartDate    time.Time `json:"start_date" format:"date-time"`
	EndDate      time.Time `json:"end_date" format:"date-time"`
	SupportLevel string    `json:"support_level,omitempty"`
}

// ContractResponse adds the derived active flag to a contract.
type ContractResponse struct {
	domain.ServiceContract
	IsActive bool `json:"is_active"`
}

type CreateTicketRequest struct {
	ClientID    int64      `json:"client_id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty" enum:"low,normal,high"`
	Status      string     `json:"status,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty" format:"date-time"`
}

type UpdateTicketRequest struct {
	Subject      *string    `json:"subject,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Priority     *string    `json:"priority,omitempty" enum:"low,normal,high"`
	Status       *string    `json:"status,omitempty"`
	AssignedTo   *string    `json:"assigned_to,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty" format:"date-time"`
	ClearDueDate bool       `json:"clear_due_date,omitempty"`
}

type CreateTaskRequest struct {
	ClientID    *int64     `json:"client_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    string     `json:"priority,omitempty" enum:"low,normal,high"`
	DueDate     *time.Time `json:"due_date,omitempty" format:"date-time"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
}

type UpdateTaskRequest struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Status       *string    `json:"status,omitempty"`
	Priority     *string    `json:"priority,omitempty" enum:"low,normal,high"`
	AssignedTo   *string    `json:"assigned_to,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty" format:"date-time"`
	ClearDueDate bool       `json:"clear_due_date,omitempty"`
}

type CreateAppointmentRequest struct {
	ClientID        int64     `json:"client_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	StartTime       time.Time `json:"start_time" format:"date-time"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Status          string    `json:"status,omitempty" enum:"scheduled,completed,cancelled"`
	AssignedTo      string    `json:"assigned_to,omitempty"`
	Location        string    `json:"location,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

type UpdateAppointmentRequest struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty" format:"date-time"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Status          *string    `json:"status,omitempty" enum:"scheduled,completed,cancelled"`
	AssignedTo      *string    `json:"assigned_to,omitempty"`
	Location        *string    `json:"location,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// IngestEventRequest is the monitoring webhook payload.
type IngestEventRequest struct {
	EventID    string     `json:"event_id" example:"trigger-4711"`
	ClientID   int64      `json:"client_id" example:"5"`
	Severity   string     `json:"severity" example:"disaster"`
	Message    string     `json:"message,omitempty"`
	Problem    string     `json:"problem,omitempty"`
	Status     string     `json:"status,omitempty"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	OccurredAt *time.Time `json:"occurred_at,omitempty" format:"date-time"`
}

// UpdateIncidentRequest patches an incident. clear_ticket unlinks the
// ticket and wins over ticket_id.
type UpdateIncidentRequest struct {
	Status      *string `json:"status,omitempty"`
	Severity    *string `json:"severity,omitempty"`
	Message     *string `json:"message,omitempty"`
	TicketID    *int64  `json:"ticket_id,omitempty"`
	ClearTicket bool    `json:"clear_ticket,omitempty"`
}

// IncidentResponse pairs an incident with its linked ticket, if any.
type IncidentResponse struct {
	Incident domain.MonitoringIncident `json:"incident"`
	Ticket   *domain.Ticket            `json:"ticket,omitempty"`
}

type OptimizeScheduleRequest struct {
	Date                string   `json:"date" example:"2024-05-20"`
	TravelBufferMinutes int      `json:"travel_buffer_minutes,omitempty"`
	WorkdayMinutes      int      `json:"workday_minutes,omitempty"`
	Engineers           []string `json:"engineers,omitempty"`
}
