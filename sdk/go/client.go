package opsdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Opsdesk HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Incident represents the API monitoring incident model.
type Incident struct {
	ID         int64  `json:"id"`
	ClientID   int64  `json:"client_id"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at"`
	TicketID   *int64 `json:"ticket_id,omitempty"`
}

// Ticket represents the API ticket model (partial).
type Ticket struct {
	ID         int64  `json:"id"`
	ClientID   int64  `json:"client_id"`
	Subject    string `json:"subject"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to"`
}

// IncidentResult pairs an incident with its linked ticket, when any.
type IncidentResult struct {
	Incident Incident `json:"incident"`
	Ticket   *Ticket  `json:"ticket,omitempty"`
}

// IngestRequest carries one monitoring event.
type IngestRequest struct {
	EventID    string `json:"event_id"`
	ClientID   int64  `json:"client_id"`
	Severity   string `json:"severity"`
	Message    string `json:"message,omitempty"`
	Problem    string `json:"problem,omitempty"`
	Status     string `json:"status,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// ScheduleSuggestion is one entry in a dispatch plan.
type ScheduleSuggestion struct {
	AppointmentID       int64  `json:"appointment_id"`
	Client              string `json:"client"`
	AssignedEngineer    string `json:"assigned_engineer"`
	RecommendedEngineer string `json:"recommended_engineer"`
	CurrentStart        string `json:"current_start"`
	OptimizedStart      string `json:"optimized_start"`
	OptimizedEnd        string `json:"optimized_end"`
	TravelBufferMinutes int    `json:"travel_buffer_minutes"`
	Notes               string `json:"notes,omitempty"`
}

// SchedulePlan is the optimizer output for one day.
type SchedulePlan struct {
	ID                     string               `json:"id"`
	Date                   string               `json:"date"`
	AppointmentsConsidered int                  `json:"appointments_considered"`
	Reassignments          int                  `json:"reassignments"`
	Suggestions            []ScheduleSuggestion `json:"suggestions"`
	GeneratedAt            string               `json:"generated_at"`
}

// ChurnAssessment is one row of the churn forecast.
type ChurnAssessment struct {
	ClientID         int64   `json:"client_id"`
	ClientName       string  `json:"client_name"`
	ChurnProbability float64 `json:"churn_probability"`
	ChurnLevel       string  `json:"churn_level"`
	Recommendation   string  `json:"recommendation"`
}

// EngineerLoad is one row of the load forecast.
type EngineerLoad struct {
	Engineer         string  `json:"engineer"`
	OpenTasks        int     `json:"open_tasks"`
	ScheduledMinutes int     `json:"scheduled_minutes"`
	Utilisation      float64 `json:"utilisation"`
	Status           string  `json:"status"`
}

// ForecastReport bundles churn and load forecasts.
type ForecastReport struct {
	ClientChurn  []ChurnAssessment `json:"client_churn"`
	EngineerLoad []EngineerLoad    `json:"engineer_load"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ingest feeds one monitoring event through deduplication.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (IncidentResult, error) {
	var resp IncidentResult
	err := c.do(ctx, http.MethodPost, "api/integrations/zabbix/events", req, &resp)
	return resp, err
}

// Incidents lists monitoring incidents, optionally filtered by client and status.
func (c *Client) Incidents(ctx context.Context, clientID int64, status string) ([]IncidentResult, error) {
	endpoint := "api/monitoring/incidents"
	params := []string{}
	if clientID > 0 {
		params = append(params, fmt.Sprintf("client_id=%d", clientID))
	}
	if status != "" {
		params = append(params, "status="+status)
	}
	if len(params) > 0 {
		endpoint += "?" + strings.Join(params, "&")
	}
	var resp []IncidentResult
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetIncident fetches an incident with its linked ticket.
func (c *Client) GetIncident(ctx context.Context, id int64) (IncidentResult, error) {
	var resp IncidentResult
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/monitoring/incidents/%d", id), nil, &resp)
	return resp, err
}

// OptimizeSchedule builds a dispatch plan for a date (YYYY-MM-DD).
func (c *Client) OptimizeSchedule(ctx context.Context, date string, engineers []string) (SchedulePlan, error) {
	body := map[string]any{"date": date}
	if len(engineers) > 0 {
		body["engineers"] = engineers
	}
	var resp SchedulePlan
	err := c.do(ctx, http.MethodPost, "api/schedule/optimize", body, &resp)
	return resp, err
}

// Forecasts returns churn and engineer load forecasts.
func (c *Client) Forecasts(ctx context.Context) (ForecastReport, error) {
	var resp ForecastReport
	err := c.do(ctx, http.MethodGet, "api/analytics/forecasts", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
